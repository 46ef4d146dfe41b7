package engine

import (
	"time"

	"github.com/loykin/scriptr/internal/script"
)

// Status is a point-in-time snapshot of one supervised script.
type Status struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	Path            string               `json:"path"`
	Policy          script.RestartPolicy `json:"policy"`
	State           RunState             `json:"state"`
	PID             int                  `json:"pid,omitempty"`
	StartedAt       time.Time            `json:"started_at,omitzero"`
	LastExitCode    *int                 `json:"last_exit_code,omitempty"`
	LastExitClass   string               `json:"last_exit_class,omitempty"`
	LastExitAt      time.Time            `json:"last_exit_at,omitzero"`
	RestartAttempts int                  `json:"restart_attempts"`
}
