// Package sqlite implements catalog.Store on SQLite via the CGO-free
// modernc.org driver. DSN is a filesystem path; use ":memory:" for tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/scriptr/internal/catalog"
	"github.com/loykin/scriptr/internal/script"
)

type DB struct {
	db *sql.DB
}

func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, fmt.Errorf("%w: empty sqlite path", catalog.ErrIO)
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", catalog.ErrIO, err)
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	if _, err := d.Exec(`CREATE TABLE IF NOT EXISTS scripts(
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		args TEXT NOT NULL,
		policy TEXT NOT NULL
	);`); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("%w: schema: %v", catalog.ErrIO, err)
	}
	return &DB{db: d}, nil
}

func (s *DB) Load(ctx context.Context) ([]script.Definition, error) {
	return s.List(ctx)
}

func (s *DB) Add(ctx context.Context, def script.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	args, err := json.Marshal(def.Args)
	if err != nil {
		return fmt.Errorf("%w: encode args: %v", catalog.ErrIO, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scripts(id, name, path, args, policy) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, path=excluded.path,
		 args=excluded.args, policy=excluded.policy`,
		def.ID, def.Name, def.Path, string(args), def.Policy.String())
	if err != nil {
		return fmt.Errorf("%w: insert: %v", catalog.ErrIO, err)
	}
	return nil
}

func (s *DB) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scripts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete: %v", catalog.ErrIO, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", catalog.ErrNotFound, id)
	}
	return nil
}

func (s *DB) List(ctx context.Context) ([]script.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, args, policy FROM scripts ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: select: %v", catalog.ErrIO, err)
	}
	defer func() { _ = rows.Close() }()

	var out []script.Definition
	for rows.Next() {
		var d script.Definition
		var args, policy string
		if err := rows.Scan(&d.ID, &d.Name, &d.Path, &args, &policy); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(args), &d.Args); err != nil {
			continue
		}
		if p, err := script.ParsePolicy(policy); err == nil {
			d.Policy = p
		} else {
			continue
		}
		if d.Validate() != nil {
			continue
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", catalog.ErrIO, err)
	}
	return out, nil
}

func (s *DB) Close() error { return s.db.Close() }
