package engine

import "fmt"

// RunState is the per-unit lifecycle state. Exactly one state holds per
// unit at any instant; transitions are serialized by the unit's own
// goroutine.
//
// State machine:
//
//	Stopped -> Starting -> Running -> Stopping -> Stopped
//	                       Running -> (exit) -> Stopped | Error | RestartPending
//	RestartPending -> Starting
//	Error -> Starting (manual start clears the failure history)
type RunState int32

const (
	StateStopped RunState = iota
	StateStarting
	StateRunning
	StateStopping
	StateRestartPending
	StateError
)

func (s RunState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateRestartPending:
		return "restart-pending"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *RunState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "stopped":
		*s = StateStopped
	case "starting":
		*s = StateStarting
	case "running":
		*s = StateRunning
	case "stopping":
		*s = StateStopping
	case "restart-pending":
		*s = StateRestartPending
	case "error":
		*s = StateError
	default:
		return fmt.Errorf("unknown run state %q", b)
	}
	return nil
}
