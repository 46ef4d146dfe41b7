// Package scriptr supervises user-defined scripts: per-script restart
// policy, live output capture with fan-out, a durable catalog, and
// race-free concurrent control.
package scriptr

import (
	"context"
	"net/http"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	catalogfactory "github.com/loykin/scriptr/internal/catalog/factory"
	cfg "github.com/loykin/scriptr/internal/config"
	"github.com/loykin/scriptr/internal/engine"
	"github.com/loykin/scriptr/internal/journal"
	journalfactory "github.com/loykin/scriptr/internal/journal/factory"
	"github.com/loykin/scriptr/internal/logring"
	"github.com/loykin/scriptr/internal/metrics"
	"github.com/loykin/scriptr/internal/restart"
	"github.com/loykin/scriptr/internal/script"
	iapi "github.com/loykin/scriptr/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Definition = script.Definition

type RestartPolicy = script.RestartPolicy

const (
	RestartOnFailure = script.RestartOnFailure
	RestartAlways    = script.RestartAlways
	RestartNever     = script.RestartNever
)

type Status = engine.Status

type RunState = engine.RunState

type Config = engine.Config

type RestartConfig = restart.Config

type LogLine = logring.Line

type LogSubscription = logring.Subscription

type JournalEvent = journal.Event

type JournalSink = journal.Sink

// Engine is a thin facade over the internal supervisor engine.
// It provides a stable public API for embedding.
type Engine struct{ inner *engine.Engine }

// New builds an engine over the catalog identified by dsn
// ("sqlite://path", "file://path.json") with optional journal sinks
// identified the same way.
func New(dsn string, c Config, log *slog.Logger, journalDSNs ...string) (*Engine, error) {
	cat, err := catalogfactory.New(dsn)
	if err != nil {
		return nil, err
	}
	sinks := make([]journal.Sink, 0, len(journalDSNs))
	for _, jd := range journalDSNs {
		sink, err := journalfactory.New(jd)
		if err != nil {
			_ = cat.Close()
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return &Engine{inner: engine.New(cat, c, log, sinks...)}, nil
}

func (e *Engine) Load(ctx context.Context) error { return e.inner.Load(ctx) }
func (e *Engine) AddScript(ctx context.Context, def Definition) (Definition, error) {
	return e.inner.AddScript(ctx, def)
}
func (e *Engine) RemoveScript(ctx context.Context, id string) error {
	return e.inner.RemoveScript(ctx, id)
}
func (e *Engine) Start(id string) error              { return e.inner.StartScript(id) }
func (e *Engine) Stop(id string) error               { return e.inner.StopScript(id) }
func (e *Engine) Status(id string) (Status, error)   { return e.inner.Status(id) }
func (e *Engine) Statuses() []Status                 { return e.inner.Statuses() }
func (e *Engine) Definitions() []Definition          { return e.inner.Definitions() }
func (e *Engine) Shutdown(ctx context.Context) error { return e.inner.Shutdown(ctx) }
func (e *Engine) Logs(id string) ([]LogLine, error)  { return e.inner.Snapshot(id) }
func (e *Engine) Subscribe(id string, depth int) ([]LogLine, *LogSubscription, error) {
	return e.inner.Subscribe(id, depth)
}

// Errors re-exported for callers matching with errors.Is.
var (
	ErrNotFound       = engine.ErrNotFound
	ErrAlreadyRunning = engine.ErrAlreadyRunning
	ErrNotRunning     = engine.ErrNotRunning
	ErrInvalid        = script.ErrInvalid
)

// ParsePolicy converts "on-failure", "always" or "never".
func ParsePolicy(s string) (RestartPolicy, error) { return script.ParsePolicy(s) }

// LoadConfig reads a TOML daemon configuration.
func LoadConfig(path string) (*cfg.File, error) { return cfg.Load(path) }

// NewHTTPHandler returns the API handler for mounting into an existing
// server or mux.
func NewHTTPHandler(basePath string, e *Engine) http.Handler {
	return iapi.NewRouter(e.inner, basePath).Handler()
}

// NewHTTPServer starts an HTTP server exposing the API using the given engine.
func NewHTTPServer(addr, basePath string, e *Engine) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, e.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler exposes the Prometheus endpoint for custom mounting.
func MetricsHandler() http.Handler { return metrics.Handler() }
