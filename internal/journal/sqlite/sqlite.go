// Package sqlite writes journal events to a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/scriptr/internal/journal"
)

type Sink struct {
	db *sql.DB
}

// New opens a SQLite journal sink. DSN is a filesystem path, optionally
// prefixed with "sqlite://"; ":memory:" works for tests.
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(strings.TrimPrefix(dsn, "sqlite://"))
	if dsn == "" {
		return nil, errors.New("empty sqlite DSN")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &Sink{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	// Append-only audit table, no primary key.
	stmt := `CREATE TABLE IF NOT EXISTS script_events(
		occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		type TEXT NOT NULL,
		script_id TEXT NOT NULL,
		name TEXT NOT NULL,
		pid INTEGER NOT NULL,
		exit_code INTEGER NOT NULL,
		detail TEXT
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, e journal.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO script_events(occurred_at, type, script_id, name, pid, exit_code, detail)
		VALUES(?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), string(e.Type), e.ScriptID, e.Name, e.PID, e.ExitCode, e.Detail)
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
