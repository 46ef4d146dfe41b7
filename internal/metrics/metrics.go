package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	scriptStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptr",
			Subsystem: "script",
			Name:      "starts_total",
			Help:      "Number of successful script starts.",
		}, []string{"name"},
	)
	scriptStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptr",
			Subsystem: "script",
			Name:      "stops_total",
			Help:      "Number of operator-requested stops.",
		}, []string{"name"},
	)
	scriptRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptr",
			Subsystem: "script",
			Name:      "restarts_total",
			Help:      "Number of policy-driven restarts.",
		}, []string{"name"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptr",
			Subsystem: "script",
			Name:      "spawn_failures_total",
			Help:      "Number of failed spawn attempts.",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptr",
			Subsystem: "script",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions between run states.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "scriptr",
			Subsystem: "script",
			Name:      "current_state",
			Help:      "Current run state of scripts (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	logLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptr",
			Subsystem: "logs",
			Name:      "lines_total",
			Help:      "Captured output lines per script and stream.",
		}, []string{"name", "stream"},
	)
	subscriberDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scriptr",
			Subsystem: "logs",
			Name:      "subscriber_dropped_lines_total",
			Help:      "Lines dropped because a log subscriber fell behind.",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		scriptStarts, scriptStops, scriptRestarts, spawnFailures,
		stateTransitions, currentStates, logLines, subscriberDrops,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IncStart(name string)        { scriptStarts.WithLabelValues(name).Inc() }
func IncStop(name string)         { scriptStops.WithLabelValues(name).Inc() }
func IncRestart(name string)      { scriptRestarts.WithLabelValues(name).Inc() }
func IncSpawnFailure(name string) { spawnFailures.WithLabelValues(name).Inc() }

func RecordStateTransition(name, from, to string) {
	stateTransitions.WithLabelValues(name, from, to).Inc()
}

func SetCurrentState(name, state string, active bool) {
	v := 0.0
	if active {
		v = 1.0
	}
	currentStates.WithLabelValues(name, state).Set(v)
}

func IncLogLine(name, stream string) { logLines.WithLabelValues(name, stream).Inc() }

func AddSubscriberDrops(name string, n uint64) {
	if n > 0 {
		subscriberDrops.WithLabelValues(name).Add(float64(n))
	}
}
