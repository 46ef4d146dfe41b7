package script

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RestartPolicy decides whether a terminated process is respawned.
// It is a closed set; Decide in internal/restart is the only consumer.
type RestartPolicy int

const (
	// RestartOnFailure respawns only after a non-zero or signaled exit.
	RestartOnFailure RestartPolicy = iota
	// RestartAlways respawns after every unsolicited exit.
	RestartAlways
	// RestartNever leaves the process down once it exits.
	RestartNever
)

func (p RestartPolicy) String() string {
	switch p {
	case RestartOnFailure:
		return "on-failure"
	case RestartAlways:
		return "always"
	case RestartNever:
		return "never"
	default:
		return "unknown"
	}
}

// ParsePolicy parses the textual form used in configs and the API.
func ParsePolicy(s string) (RestartPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on-failure", "on_failure", "onfailure", "":
		return RestartOnFailure, nil
	case "always":
		return RestartAlways, nil
	case "never":
		return RestartNever, nil
	default:
		return RestartNever, fmt.Errorf("unknown restart policy %q", s)
	}
}

func (p RestartPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *RestartPolicy) UnmarshalText(b []byte) error {
	v, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Definition describes one supervised script. Definitions are immutable:
// edits replace the whole record in the catalog and rebuild the unit.
type Definition struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Path   string        `json:"path"`
	Args   []string      `json:"args,omitempty"`
	Policy RestartPolicy `json:"policy"`
}

// Validate checks the definition before it is accepted into the catalog.
// The returned errors unwrap to ErrInvalid.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrInvalid)
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalid)
	}
	if strings.TrimSpace(d.Path) == "" {
		return fmt.Errorf("%w: empty path", ErrInvalid)
	}
	if strings.Contains(d.Path, "\x00") {
		return fmt.Errorf("%w: path contains NUL", ErrInvalid)
	}
	for i, a := range d.Args {
		if strings.Contains(a, "\x00") {
			return fmt.Errorf("%w: arg %d contains NUL", ErrInvalid, i)
		}
	}
	return nil
}

// Clone returns a deep copy so callers cannot alias the argument slice.
func (d Definition) Clone() Definition {
	out := d
	if d.Args != nil {
		out.Args = append([]string(nil), d.Args...)
	}
	return out
}

// MarshalJSON keeps the wire form stable even if fields are added later.
func (p RestartPolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *RestartPolicy) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return p.UnmarshalText([]byte(s))
}
