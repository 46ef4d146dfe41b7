package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/scriptr/internal/catalog"
	"github.com/loykin/scriptr/internal/journal"
	"github.com/loykin/scriptr/internal/logger"
	"github.com/loykin/scriptr/internal/logring"
	"github.com/loykin/scriptr/internal/restart"
	"github.com/loykin/scriptr/internal/script"
)

// Config carries the supervisor tuning shared by every unit.
type Config struct {
	// GracePeriod bounds how long a stop waits after the graceful signal
	// before the process group is killed.
	GracePeriod time.Duration
	// Restart tunes backoff and the consecutive-failure ceiling.
	Restart restart.Config
	// BufferLines is the per-script in-memory log buffer capacity.
	BufferLines int
	// ScriptLog configures optional rotating per-script log files.
	ScriptLog logger.Config
}

const DefaultGracePeriod = 5 * time.Second

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.BufferLines <= 0 {
		c.BufferLines = logring.DefaultCapacity
	}
	c.Restart = c.Restart.WithDefaults()
	return c
}

// Engine is the supervisor facade: it owns the catalog, one unit per
// registered script, and the journal fan-out. All methods are safe for
// concurrent use.
type Engine struct {
	cfg Config
	log *slog.Logger
	cat catalog.Store

	mu     sync.RWMutex
	units  map[string]*Unit
	closed bool

	sinks []journal.Sink
	evCh  chan journal.Event
	evWG  sync.WaitGroup
}

// New builds an engine over the given catalog. Journal sinks are
// optional; events are dispatched asynchronously and never block
// lifecycle operations.
func New(cat catalog.Store, cfg Config, log *slog.Logger, sinks ...journal.Sink) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		cfg:   cfg.withDefaults(),
		log:   log,
		cat:   cat,
		units: make(map[string]*Unit),
		sinks: sinks,
	}
	if len(sinks) > 0 {
		e.evCh = make(chan journal.Event, 256)
		e.evWG.Add(1)
		go e.dispatch()
	}
	return e
}

func (e *Engine) dispatch() {
	defer e.evWG.Done()
	for ev := range e.evCh {
		for _, s := range e.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.Send(ctx, ev); err != nil {
				e.log.Warn("journal write failed", "type", string(ev.Type), "script", ev.Name, "error", err)
			}
			cancel()
		}
	}
}

func (e *Engine) emit(ev journal.Event) {
	if e.evCh == nil {
		return
	}
	select {
	case e.evCh <- ev:
	default:
		e.log.Warn("journal queue full, dropping event", "type", string(ev.Type), "script", ev.Name)
	}
}

// Load restores every catalog entry as a dormant unit. Scripts are not
// started; a prior crash never resurrects processes unasked.
func (e *Engine) Load(ctx context.Context) error {
	defs, err := e.cat.Load(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrShuttingDown
	}
	for _, def := range defs {
		if _, ok := e.units[def.ID]; ok {
			continue
		}
		e.units[def.ID] = newUnit(def, e.cfg, e.log, e.emit)
	}
	e.log.Info("catalog loaded", "scripts", len(defs))
	return nil
}

// AddScript validates and persists a definition, then registers a
// dormant unit for it. A missing ID gets a generated one; the persisted
// definition is returned.
func (e *Engine) AddScript(ctx context.Context, def script.Definition) (script.Definition, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	if err := def.Validate(); err != nil {
		return script.Definition{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return script.Definition{}, ErrShuttingDown
	}
	if _, ok := e.units[def.ID]; ok {
		return script.Definition{}, fmt.Errorf("%w: duplicate id %q", script.ErrInvalid, def.ID)
	}
	// Persist first: a unit only exists for catalog-backed scripts.
	if err := e.cat.Add(ctx, def); err != nil {
		return script.Definition{}, fmt.Errorf("persist %s: %w", def.ID, err)
	}
	e.units[def.ID] = newUnit(def, e.cfg, e.log, e.emit)
	e.log.Info("script added", "id", def.ID, "name", def.Name, "policy", def.Policy.String())
	return def.Clone(), nil
}

// RemoveScript stops the script if it is live, deletes it from the
// catalog, and releases the unit and its log buffer. When the catalog
// delete fails the stopped unit stays registered and the error is
// returned.
func (e *Engine) RemoveScript(ctx context.Context, id string) error {
	u, err := e.unit(id)
	if err != nil {
		return err
	}
	if err := u.Stop(e.cfg.GracePeriod); err != nil && !errors.Is(err, ErrNotRunning) {
		return fmt.Errorf("stop %s: %w", id, err)
	}
	if err := e.cat.Remove(ctx, id); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}

	e.mu.Lock()
	delete(e.units, id)
	e.mu.Unlock()

	_ = u.Shutdown(e.cfg.GracePeriod)
	u.Buffer().Close()
	e.log.Info("script removed", "id", id)
	return nil
}

// StartScript launches the named script.
func (e *Engine) StartScript(id string) error {
	u, err := e.unit(id)
	if err != nil {
		return err
	}
	return u.Start()
}

// StopScript terminates the named script with the engine's grace period.
func (e *Engine) StopScript(id string) error {
	return e.StopScriptWait(id, 0)
}

// StopScriptWait terminates the named script, waiting up to wait for a
// voluntary exit before forcing termination. wait <= 0 uses the engine's
// configured grace period.
func (e *Engine) StopScriptWait(id string, wait time.Duration) error {
	u, err := e.unit(id)
	if err != nil {
		return err
	}
	if wait <= 0 {
		wait = e.cfg.GracePeriod
	}
	return u.Stop(wait)
}

// Status reports one script.
func (e *Engine) Status(id string) (Status, error) {
	u, err := e.unit(id)
	if err != nil {
		return Status{}, err
	}
	return u.Status(), nil
}

// Statuses reports every registered script, sorted by name.
func (e *Engine) Statuses() []Status {
	e.mu.RLock()
	units := make([]*Unit, 0, len(e.units))
	for _, u := range e.units {
		units = append(units, u)
	}
	e.mu.RUnlock()

	out := make([]Status, 0, len(units))
	for _, u := range units {
		out = append(out, u.Status())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Snapshot returns the buffered log lines for one script.
func (e *Engine) Snapshot(id string) ([]logring.Line, error) {
	u, err := e.unit(id)
	if err != nil {
		return nil, err
	}
	return u.Buffer().Snapshot(), nil
}

// Subscribe returns the current buffer contents plus a live subscription
// that receives every subsequent line. The caller must Close the
// subscription.
func (e *Engine) Subscribe(id string, depth int) ([]logring.Line, *logring.Subscription, error) {
	u, err := e.unit(id)
	if err != nil {
		return nil, nil, err
	}
	snap, sub := u.Buffer().Subscribe(depth)
	return snap, sub, nil
}

// Definitions lists the registered definitions, sorted by name.
func (e *Engine) Definitions() []script.Definition {
	e.mu.RLock()
	out := make([]script.Definition, 0, len(e.units))
	for _, u := range e.units {
		out = append(out, u.Definition())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Shutdown stops every live script, closes the journal sinks and the
// catalog, and rejects further operations. Respects ctx for the overall
// deadline; individual stops still honor the grace period.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	units := make([]*Unit, 0, len(e.units))
	for _, u := range e.units {
		units = append(units, u)
	}
	e.mu.Unlock()

	var wg sync.WaitGroup
	for _, u := range units {
		wg.Add(1)
		go func(u *Unit) {
			defer wg.Done()
			if err := u.Shutdown(e.cfg.GracePeriod); err != nil && !errors.Is(err, ErrShuttingDown) {
				e.log.Warn("unit shutdown failed", "id", u.id, "error", err)
			}
			u.Buffer().Close()
		}(u)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if e.evCh != nil {
		close(e.evCh)
		e.evWG.Wait()
	}
	var errs []error
	for _, s := range e.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.cat != nil {
		if err := e.cat.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.log.Info("engine shut down", "scripts", len(units))
	return errors.Join(errs...)
}

func (e *Engine) unit(id string) (*Unit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrShuttingDown
	}
	u, ok := e.units[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return u, nil
}
