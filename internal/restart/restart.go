// Package restart decides whether and when an exited script is respawned.
// It is a pure policy engine: the engine feeds it one unsolicited exit at a
// time and applies the returned decision.
package restart

import (
	"fmt"
	"time"

	"github.com/loykin/scriptr/internal/process"
	"github.com/loykin/scriptr/internal/script"
)

// Defaults for the tunables in Config.
const (
	DefaultBackoffInitial = 500 * time.Millisecond
	DefaultBackoffMax     = 60 * time.Second
	DefaultMaxFailures    = 10
	DefaultMinUptime      = 10 * time.Second
)

// Config tunes the backoff curve and the crash-loop ceiling.
type Config struct {
	BackoffInitial time.Duration `json:"backoff_initial" mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `json:"backoff_max" mapstructure:"backoff_max"`
	// MaxFailures is the consecutive-failure ceiling; exceeding it settles
	// the unit to error instead of respawning forever.
	MaxFailures int `json:"max_failures" mapstructure:"max_failures"`
	// MinUptime is how long a run must stay alive for the failure counter
	// to reset, separating a stable script from a crash loop.
	MinUptime time.Duration `json:"min_uptime" mapstructure:"min_uptime"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.MinUptime <= 0 {
		c.MinUptime = DefaultMinUptime
	}
	return c
}

// Outcome is what the engine should do with the unit after an exit.
type Outcome int

const (
	// Respawn schedules a restart after Decision.Delay.
	Respawn Outcome = iota
	// SettleStopped leaves the unit stopped; nothing is wrong.
	SettleStopped
	// SettleError leaves the unit in the error state to surface the
	// problem to the operator.
	SettleError
)

func (o Outcome) String() string {
	switch o {
	case Respawn:
		return "respawn"
	case SettleStopped:
		return "stopped"
	case SettleError:
		return "error"
	default:
		return "unknown"
	}
}

// Decision carries the outcome, the backoff delay for Respawn, the updated
// consecutive-failure count, and a human-readable rationale for the unit's
// log.
type Decision struct {
	Outcome  Outcome
	Delay    time.Duration
	Failures int
	Reason   string
}

// Decide applies the restart policy to one unsolicited exit. uptime is how
// long the run stayed alive; failures is the consecutive-failure count
// carried into this exit.
func Decide(policy script.RestartPolicy, class process.ExitClass, uptime time.Duration, failures int, cfg Config) Decision {
	cfg = cfg.WithDefaults()

	// A run that stayed up past MinUptime proves the script can hold;
	// start counting from scratch.
	if uptime >= cfg.MinUptime {
		failures = 0
	}

	switch policy {
	case script.RestartNever:
		if class == process.ExitNormal {
			return Decision{Outcome: SettleStopped, Failures: failures,
				Reason: "policy never: clean exit"}
		}
		return Decision{Outcome: SettleError, Failures: failures,
			Reason: fmt.Sprintf("policy never: %s exit surfaced as error", class)}

	case script.RestartOnFailure:
		if class == process.ExitNormal {
			return Decision{Outcome: SettleStopped, Failures: 0,
				Reason: "policy on-failure: clean exit, not restarting"}
		}
		return respawn(failures, cfg, "on-failure", class)

	case script.RestartAlways:
		return respawn(failures, cfg, "always", class)

	default:
		return Decision{Outcome: SettleError, Failures: failures,
			Reason: fmt.Sprintf("unknown policy %v", policy)}
	}
}

func respawn(failures int, cfg Config, policy string, class process.ExitClass) Decision {
	failures++
	if failures > cfg.MaxFailures {
		return Decision{Outcome: SettleError, Failures: failures,
			Reason: fmt.Sprintf("policy %s: restart limit exceeded after %d consecutive failures", policy, failures-1)}
	}
	d := Backoff(failures, cfg)
	return Decision{Outcome: Respawn, Delay: d, Failures: failures,
		Reason: fmt.Sprintf("policy %s: %s exit, restart %d/%d in %s", policy, class, failures, cfg.MaxFailures, d)}
}

// Backoff returns the delay before restart attempt n (1-based): the initial
// delay doubled per consecutive failure, capped at BackoffMax.
func Backoff(attempt int, cfg Config) time.Duration {
	cfg = cfg.WithDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := cfg.BackoffInitial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.BackoffMax {
			return cfg.BackoffMax
		}
	}
	if d > cfg.BackoffMax {
		return cfg.BackoffMax
	}
	return d
}
