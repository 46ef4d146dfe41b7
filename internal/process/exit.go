package process

import (
	"errors"
	"os/exec"
	"time"
)

// ExitClass tags how a child process terminated.
type ExitClass int

const (
	// ExitNormal is a voluntary exit with status 0.
	ExitNormal ExitClass = iota
	// ExitFailure is a voluntary exit with non-zero status.
	ExitFailure
	// ExitSignaled means the child was killed by a signal.
	ExitSignaled
)

func (c ExitClass) String() string {
	switch c {
	case ExitNormal:
		return "normal"
	case ExitFailure:
		return "failure"
	case ExitSignaled:
		return "signaled"
	default:
		return "unknown"
	}
}

// Exit describes one confirmed child termination. Code is -1 when the
// child died from a signal.
type Exit struct {
	Class  ExitClass
	Code   int
	Signal string
	At     time.Time
	Err    error
}

// classify derives an Exit from the error returned by cmd.Wait.
func classify(waitErr error) Exit {
	ex := Exit{At: time.Now()}
	if waitErr == nil {
		ex.Class = ExitNormal
		ex.Code = 0
		return ex
	}
	ex.Err = waitErr
	var ee *exec.ExitError
	if errors.As(waitErr, &ee) {
		if sig, name := signaledBy(ee); sig {
			ex.Class = ExitSignaled
			ex.Code = -1
			ex.Signal = name
			return ex
		}
		ex.Code = ee.ExitCode()
		if ex.Code == 0 {
			ex.Class = ExitNormal
		} else {
			ex.Class = ExitFailure
		}
		return ex
	}
	// Wait itself failed; treat as failure with unknown code.
	ex.Class = ExitFailure
	ex.Code = -1
	return ex
}
