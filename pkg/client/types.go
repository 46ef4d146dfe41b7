package client

import "time"

// Script is the wire form of a catalog definition.
type Script struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Args   []string `json:"args,omitempty"`
	Policy string   `json:"policy"`
}

// Status is the wire form of one script's supervision snapshot.
type Status struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Path            string    `json:"path"`
	Policy          string    `json:"policy"`
	State           string    `json:"state"`
	PID             int       `json:"pid,omitempty"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	LastExitCode    *int      `json:"last_exit_code,omitempty"`
	LastExitClass   string    `json:"last_exit_class,omitempty"`
	LastExitAt      time.Time `json:"last_exit_at,omitzero"`
	RestartAttempts int       `json:"restart_attempts"`
}

// LogLine is one captured output line.
type LogLine struct {
	Seq    uint64    `json:"seq"`
	Stream string    `json:"stream"`
	Time   time.Time `json:"time"`
	Text   string    `json:"text"`
}
