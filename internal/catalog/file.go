package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/loykin/scriptr/internal/script"
)

// FileStore keeps the catalog in a single JSON file, rewritten via
// temp-file + rename so readers and a crashed writer never observe a
// partial document.
type FileStore struct {
	mu   sync.Mutex
	path string
	defs map[string]script.Definition
}

// NewFileStore opens (or will create on first mutation) the JSON catalog
// at path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty file path", ErrIO)
	}
	return &FileStore{path: path, defs: make(map[string]script.Definition)}, nil
}

func (s *FileStore) Load(_ context.Context) ([]script.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.defs = make(map[string]script.Definition)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrIO, s.path, err)
	}

	// Decode record by record so one corrupt entry does not discard the
	// rest of the catalog.
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrIO, s.path, err)
	}
	defs := make(map[string]script.Definition, len(raw))
	for _, r := range raw {
		var d script.Definition
		if err := json.Unmarshal(r, &d); err != nil {
			continue
		}
		if d.Validate() != nil {
			continue
		}
		defs[d.ID] = d
	}
	s.defs = defs
	return s.listLocked(), nil
}

func (s *FileStore) Add(_ context.Context, def script.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]script.Definition, len(s.defs)+1)
	for k, v := range s.defs {
		next[k] = v
	}
	next[def.ID] = def.Clone()
	// Persist first; apply in memory only once the file is durably
	// replaced.
	if err := s.persist(next); err != nil {
		return err
	}
	s.defs = next
	return nil
}

func (s *FileStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.defs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	next := make(map[string]script.Definition, len(s.defs))
	for k, v := range s.defs {
		if k != id {
			next[k] = v
		}
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.defs = next
	return nil
}

func (s *FileStore) List(_ context.Context) ([]script.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(), nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) listLocked() []script.Definition {
	out := make([]script.Definition, 0, len(s.defs))
	for _, d := range s.defs {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// persist writes the whole document to a temp file in the same directory
// and renames it over the catalog path.
func (s *FileStore) persist(defs map[string]script.Definition) error {
	list := make([]script.Definition, 0, len(defs))
	for _, d := range defs {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrIO, err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("%w: mkdir %s: %v", ErrIO, dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".catalog-*.json")
	if err != nil {
		return fmt.Errorf("%w: temp file: %v", ErrIO, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: write: %v", ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: close: %v", ErrIO, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: rename: %v", ErrIO, err)
	}
	return nil
}
