package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/scriptr/internal/journal"
	"github.com/loykin/scriptr/internal/logring"
	"github.com/loykin/scriptr/internal/metrics"
	"github.com/loykin/scriptr/internal/process"
	"github.com/loykin/scriptr/internal/restart"
	"github.com/loykin/scriptr/internal/script"
)

// Unit supervises one script definition: it owns the run state, the live
// process controller, the restart bookkeeping, and the log buffer.
//
// All lifecycle work happens on a single goroutine (run) fed by a command
// channel, so start, stop and exit handling for the same unit never
// execute concurrently. Status reads take a short read lock and never
// wait on in-flight transitions.
type Unit struct {
	id   string
	def  script.Definition
	cfg  Config
	log  *slog.Logger
	emit func(journal.Event)
	buf  *logring.Buffer

	mu       sync.RWMutex
	state    RunState
	ctrl     *process.Controller // live run only
	failures int
	lastExit *process.Exit

	cmdCh  chan command
	doneCh chan struct{}
}

type commandAction int

const (
	actionStart commandAction = iota
	actionStop
	actionShutdown
)

type command struct {
	action commandAction
	grace  time.Duration
	reply  chan error
}

func newUnit(def script.Definition, cfg Config, log *slog.Logger, emit func(journal.Event)) *Unit {
	u := &Unit{
		id:     def.ID,
		def:    def.Clone(),
		cfg:    cfg,
		log:    log.With("script", def.Name, "id", def.ID),
		emit:   emit,
		buf:    logring.New(cfg.BufferLines),
		state:  StateStopped,
		cmdCh:  make(chan command, 16),
		doneCh: make(chan struct{}),
	}
	go u.run()
	return u
}

// Definition returns the immutable definition this unit supervises.
func (u *Unit) Definition() script.Definition { return u.def.Clone() }

// Buffer exposes the unit's log buffer for snapshots and subscriptions.
func (u *Unit) Buffer() *logring.Buffer { return u.buf }

// Start requests a spawn. Valid only from the stopped or error state;
// starting from error clears the consecutive-failure history.
func (u *Unit) Start() error { return u.send(command{action: actionStart}) }

// Stop terminates the live process (graceful signal, bounded grace, then
// forced kill) or cancels a pending restart. Stopping an already stopped
// or stopping unit is a no-op; a manual stop never triggers restart
// policy.
func (u *Unit) Stop(grace time.Duration) error {
	return u.send(command{action: actionStop, grace: grace})
}

// Shutdown stops any live process and terminates the unit's goroutine.
// The log buffer is left to the engine to close.
func (u *Unit) Shutdown(grace time.Duration) error {
	return u.send(command{action: actionShutdown, grace: grace})
}

func (u *Unit) send(cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case u.cmdCh <- cmd:
	case <-u.doneCh:
		return fmt.Errorf("%s: %w", u.id, ErrShuttingDown)
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-u.doneCh:
		return fmt.Errorf("%s: %w", u.id, ErrShuttingDown)
	}
}

// Status returns a consistent point-in-time view.
func (u *Unit) Status() Status {
	u.mu.RLock()
	defer u.mu.RUnlock()
	st := Status{
		ID:              u.id,
		Name:            u.def.Name,
		Path:            u.def.Path,
		Policy:          u.def.Policy,
		State:           u.state,
		RestartAttempts: u.failures,
	}
	if u.ctrl != nil && (u.state == StateRunning || u.state == StateStopping) {
		st.PID = u.ctrl.PID()
		st.StartedAt = u.ctrl.StartedAt()
	}
	if u.lastExit != nil {
		code := u.lastExit.Code
		st.LastExitCode = &code
		st.LastExitClass = u.lastExit.Class.String()
		st.LastExitAt = u.lastExit.At
	}
	return st
}

func (u *Unit) currentState() RunState {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

func (u *Unit) setState(next RunState) {
	u.mu.Lock()
	prev := u.state
	u.state = next
	u.mu.Unlock()
	if prev == next {
		return
	}
	metrics.RecordStateTransition(u.def.Name, prev.String(), next.String())
	metrics.SetCurrentState(u.def.Name, prev.String(), false)
	metrics.SetCurrentState(u.def.Name, next.String(), true)
	u.log.Debug("state transition", "from", prev.String(), "to", next.String())
}

// run is the unit's single supervising goroutine.
func (u *Unit) run() {
	defer close(u.doneCh)

	var exitCh chan process.Exit // non-nil while a child is live
	var restartTimer *time.Timer // armed while restart-pending
	var restartCh <-chan time.Time

	for {
		select {
		case cmd := <-u.cmdCh:
			switch cmd.action {
			case actionStart:
				cmd.reply <- u.handleStart(&exitCh)
			case actionStop:
				cmd.reply <- u.handleStop(cmd.grace, &exitCh, &restartTimer, &restartCh)
			case actionShutdown:
				if err := u.handleStop(cmd.grace, &exitCh, &restartTimer, &restartCh); err == nil || isNoProcess(err) {
					cmd.reply <- nil
				} else {
					cmd.reply <- err
				}
				return
			}

		case ex := <-exitCh:
			exitCh = nil
			restartCh = u.handleUnsolicitedExit(ex, &restartTimer)

		case <-restartCh:
			restartCh = nil
			restartTimer = nil
			u.handleRestartFire(&exitCh)
		}
	}
}

func isNoProcess(err error) bool {
	// Shutdown of a unit sitting in error or starting is fine.
	return errors.Is(err, ErrNotRunning)
}

// handleStart spawns the child; valid from Stopped and Error only.
func (u *Unit) handleStart(exitCh *chan process.Exit) error {
	st := u.currentState()
	switch st {
	case StateStopped, StateError:
	default:
		return fmt.Errorf("%w: %s is %s", ErrAlreadyRunning, u.id, st)
	}
	if st == StateError {
		// A manual start is the operator clearing the failure.
		u.mu.Lock()
		u.failures = 0
		u.mu.Unlock()
	}

	u.setState(StateStarting)
	ch, err := u.spawn()
	if err != nil {
		u.setState(StateError)
		u.buf.Append(logring.System, err.Error())
		metrics.IncSpawnFailure(u.def.Name)
		u.journal(journal.EventSpawnFailure, 0, 0, err.Error())
		u.log.Error("spawn failed", "error", err)
		return fmt.Errorf("start %s: %w", u.id, err)
	}
	u.setState(StateRunning)
	*exitCh = ch
	pid := u.controller().PID()
	metrics.IncStart(u.def.Name)
	u.journal(journal.EventStart, pid, 0, "")
	u.log.Info("process started", "pid", pid)
	return nil
}

// spawn builds a fresh controller for this run and attaches the waiter
// that posts the exit event exactly once.
func (u *Unit) spawn() (chan process.Exit, error) {
	ctrl := process.NewController(u.def, u.buf)
	if outW, errW, err := u.cfg.ScriptLog.Writers(u.def.Name); err == nil {
		ctrl.SetFileWriters(outW, errW)
	} else {
		u.log.Warn("script log files unavailable", "error", err)
	}
	if err := ctrl.Start(); err != nil {
		return nil, err
	}
	u.mu.Lock()
	u.ctrl = ctrl
	u.mu.Unlock()

	ch := make(chan process.Exit, 1)
	go func() { ch <- ctrl.Wait() }()
	return ch, nil
}

func (u *Unit) controller() *process.Controller {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.ctrl
}

// handleStop implements graceful termination and restart cancellation.
func (u *Unit) handleStop(grace time.Duration, exitCh *chan process.Exit, restartTimer **time.Timer, restartCh *<-chan time.Time) error {
	if grace <= 0 {
		grace = u.cfg.GracePeriod
	}
	switch u.currentState() {
	case StateRunning:
		u.setState(StateStopping)
		ctrl := u.controller()
		ctrl.Terminate()
		var ex process.Exit
		select {
		case ex = <-*exitCh:
		case <-time.After(grace):
			u.log.Warn("grace period expired, killing process group", "pid", ctrl.PID())
			ctrl.Kill()
			ex = <-*exitCh
		}
		*exitCh = nil
		u.finishRun(ex)
		u.setState(StateStopped)
		metrics.IncStop(u.def.Name)
		u.journal(journal.EventStop, ctrl.PID(), ex.Code, "stopped by operator")
		u.buf.Append(logring.System, "stopped by operator")
		u.log.Info("process stopped", "exit", ex.Class.String())
		return nil

	case StateRestartPending:
		if *restartTimer != nil {
			(*restartTimer).Stop()
			*restartTimer = nil
		}
		*restartCh = nil
		u.setState(StateStopped)
		u.journal(journal.EventStop, 0, 0, "pending restart cancelled by operator")
		u.buf.Append(logring.System, "pending restart cancelled by operator")
		return nil

	case StateStopped, StateStopping:
		// Idempotent: a second stop while stopping or stopped is a no-op.
		return nil

	default: // Starting, Error
		return fmt.Errorf("%w: %s", ErrNotRunning, u.id)
	}
}

// finishRun records the exit and releases the controller reference.
func (u *Unit) finishRun(ex process.Exit) {
	u.mu.Lock()
	u.lastExit = &ex
	u.ctrl = nil
	u.mu.Unlock()
}

// handleUnsolicitedExit consumes one spontaneous child exit and applies
// restart policy. Returns a timer channel when a respawn was scheduled.
func (u *Unit) handleUnsolicitedExit(ex process.Exit, restartTimer **time.Timer) <-chan time.Time {
	ctrl := u.controller()
	uptime := ex.At.Sub(ctrl.StartedAt())
	pid := ctrl.PID()
	u.finishRun(ex)

	if ex.Class == process.ExitSignaled {
		u.buf.Append(logring.System, fmt.Sprintf("process exited: %s (%s) after %s", ex.Class, ex.Signal, uptime.Round(time.Millisecond)))
	} else {
		u.buf.Append(logring.System, fmt.Sprintf("process exited: %s (code %d) after %s", ex.Class, ex.Code, uptime.Round(time.Millisecond)))
	}
	u.journal(journal.EventExit, pid, ex.Code, ex.Class.String())

	u.mu.RLock()
	failures := u.failures
	u.mu.RUnlock()

	d := restart.Decide(u.def.Policy, ex.Class, uptime, failures, u.cfg.Restart)
	u.mu.Lock()
	u.failures = d.Failures
	u.mu.Unlock()
	u.buf.Append(logring.System, d.Reason)

	switch d.Outcome {
	case restart.Respawn:
		u.setState(StateRestartPending)
		u.journal(journal.EventRestart, 0, ex.Code, d.Reason)
		u.log.Info("restart scheduled", "delay", d.Delay, "attempt", d.Failures)
		*restartTimer = time.NewTimer(d.Delay)
		return (*restartTimer).C

	case restart.SettleError:
		u.setState(StateError)
		if d.Failures > u.cfg.Restart.MaxFailures {
			u.journal(journal.EventGiveUp, 0, ex.Code, d.Reason)
		}
		u.log.Warn("unit settled to error", "reason", d.Reason)
		return nil

	default:
		u.setState(StateStopped)
		u.log.Info("unit settled to stopped", "reason", d.Reason)
		return nil
	}
}

// handleRestartFire performs the scheduled respawn.
func (u *Unit) handleRestartFire(exitCh *chan process.Exit) {
	if u.currentState() != StateRestartPending {
		return
	}
	u.setState(StateStarting)
	ch, err := u.spawn()
	if err != nil {
		u.setState(StateError)
		u.buf.Append(logring.System, err.Error())
		metrics.IncSpawnFailure(u.def.Name)
		u.journal(journal.EventSpawnFailure, 0, 0, err.Error())
		u.log.Error("respawn failed", "error", err)
		return
	}
	u.setState(StateRunning)
	*exitCh = ch
	pid := u.controller().PID()
	metrics.IncRestart(u.def.Name)
	u.journal(journal.EventStart, pid, 0, "restarted by policy")
	u.log.Info("process restarted", "pid", pid)
}

func (u *Unit) journal(t journal.EventType, pid, code int, detail string) {
	if u.emit == nil {
		return
	}
	u.emit(journal.Event{
		Type:       t,
		ScriptID:   u.id,
		Name:       u.def.Name,
		PID:        pid,
		ExitCode:   code,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	})
}
