package restart

import (
	"testing"
	"time"

	"github.com/loykin/scriptr/internal/process"
	"github.com/loykin/scriptr/internal/script"
)

var cfg = Config{
	BackoffInitial: 100 * time.Millisecond,
	BackoffMax:     time.Second,
	MaxFailures:    3,
	MinUptime:      5 * time.Second,
}

func TestDecideTable(t *testing.T) {
	tests := []struct {
		name     string
		policy   script.RestartPolicy
		class    process.ExitClass
		uptime   time.Duration
		failures int
		want     Outcome
	}{
		{"on-failure clean exit settles", script.RestartOnFailure, process.ExitNormal, time.Second, 0, SettleStopped},
		{"on-failure failure respawns", script.RestartOnFailure, process.ExitFailure, time.Second, 0, Respawn},
		{"on-failure signaled respawns", script.RestartOnFailure, process.ExitSignaled, time.Second, 0, Respawn},
		{"always clean exit respawns", script.RestartAlways, process.ExitNormal, time.Second, 0, Respawn},
		{"always failure respawns", script.RestartAlways, process.ExitFailure, time.Second, 0, Respawn},
		{"never clean exit settles stopped", script.RestartNever, process.ExitNormal, time.Second, 0, SettleStopped},
		{"never failure settles error", script.RestartNever, process.ExitFailure, time.Second, 0, SettleError},
		{"never signaled settles error", script.RestartNever, process.ExitSignaled, time.Second, 0, SettleError},
		{"ceiling exceeded settles error", script.RestartAlways, process.ExitFailure, time.Second, 3, SettleError},
		{"just below ceiling respawns", script.RestartAlways, process.ExitFailure, time.Second, 2, Respawn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.policy, tt.class, tt.uptime, tt.failures, cfg)
			if got.Outcome != tt.want {
				t.Errorf("Decide() outcome = %v, want %v (%s)", got.Outcome, tt.want, got.Reason)
			}
			if got.Reason == "" {
				t.Error("decision missing rationale")
			}
		})
	}
}

func TestFailureCountIncrementsOncePerExit(t *testing.T) {
	d := Decide(script.RestartOnFailure, process.ExitFailure, time.Second, 0, cfg)
	if d.Failures != 1 {
		t.Errorf("failures = %d, want 1", d.Failures)
	}
	d = Decide(script.RestartOnFailure, process.ExitFailure, time.Second, d.Failures, cfg)
	if d.Failures != 2 {
		t.Errorf("failures = %d, want 2", d.Failures)
	}
}

func TestStableRunResetsFailures(t *testing.T) {
	// Uptime past MinUptime wipes the crash-loop history before deciding.
	d := Decide(script.RestartAlways, process.ExitFailure, 10*time.Second, 2, cfg)
	if d.Outcome != Respawn {
		t.Fatalf("outcome = %v, want respawn", d.Outcome)
	}
	if d.Failures != 1 {
		t.Errorf("failures = %d, want 1 after reset", d.Failures)
	}
	if d.Delay != cfg.BackoffInitial {
		t.Errorf("delay = %v, want initial %v", d.Delay, cfg.BackoffInitial)
	}
}

func TestCleanExitResetsFailuresOnFailurePolicy(t *testing.T) {
	d := Decide(script.RestartOnFailure, process.ExitNormal, time.Second, 5, cfg)
	if d.Outcome != SettleStopped || d.Failures != 0 {
		t.Errorf("got outcome=%v failures=%d, want stopped/0", d.Outcome, d.Failures)
	}
}

func TestBackoffCurve(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second}, // capped
		{30, time.Second},
		{0, 100 * time.Millisecond}, // clamped to first attempt
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt, cfg); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestWithDefaults(t *testing.T) {
	c := Config{}.WithDefaults()
	if c.BackoffInitial != DefaultBackoffInitial || c.BackoffMax != DefaultBackoffMax ||
		c.MaxFailures != DefaultMaxFailures || c.MinUptime != DefaultMinUptime {
		t.Errorf("defaults not applied: %+v", c)
	}
	// Explicit values survive.
	c = cfg.WithDefaults()
	if c != cfg {
		t.Errorf("WithDefaults mutated explicit config: %+v", c)
	}
}
