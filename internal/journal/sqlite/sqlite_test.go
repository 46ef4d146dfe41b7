package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/scriptr/internal/journal"
)

func TestSinkWritesEvents(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = s.Close() }()

	events := []journal.Event{
		{Type: journal.EventStart, ScriptID: "id-1", Name: "demo", PID: 100, OccurredAt: time.Now()},
		{Type: journal.EventExit, ScriptID: "id-1", Name: "demo", PID: 100, ExitCode: 1, Detail: "failure exit", OccurredAt: time.Now()},
		{Type: journal.EventRestart, ScriptID: "id-1", Name: "demo", Detail: "restart 1/10", OccurredAt: time.Now()},
	}
	for _, e := range events {
		if err := s.Send(ctx, e); err != nil {
			t.Fatalf("Send(%s): %v", e.Type, err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, script_id, pid, exit_code, detail FROM script_events ORDER BY rowid`)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = rows.Close() }()
	i := 0
	for rows.Next() {
		var typ, id, detail string
		var pid, code int
		if err := rows.Scan(&typ, &id, &pid, &code, &detail); err != nil {
			t.Fatalf("scan: %v", err)
		}
		want := events[i]
		if typ != string(want.Type) || id != want.ScriptID || pid != want.PID || code != want.ExitCode || detail != want.Detail {
			t.Errorf("row %d = (%s %s %d %d %q), want %+v", i, typ, id, pid, code, detail, want)
		}
		i++
	}
	if i != len(events) {
		t.Errorf("stored %d events, want %d", i, len(events))
	}
}

func TestNewRejectsEmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Error("expected error for empty DSN")
	}
}

func TestNewStripsPrefix(t *testing.T) {
	s, err := New("sqlite://" + filepath.Join(t.TempDir(), "j.db"))
	if err != nil {
		t.Fatalf("New with prefix: %v", err)
	}
	_ = s.Close()
}
