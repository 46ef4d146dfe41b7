package config

import (
	"os"
	"path/filepath"
	"testing"
)

// FuzzLoad checks that arbitrary config bytes never panic the loader.
func FuzzLoad(f *testing.F) {
	f.Add(`listen = "127.0.0.1:8420"`)
	f.Add("[engine]\ngrace_period = \"5s\"\n")
	f.Add("[[scripts]]\nname = \"x\"\npath = \"/bin/true\"\n")
	f.Add("scripts = 3")
	f.Add("\x00\xff")

	f.Fuzz(func(t *testing.T, body string) {
		path := filepath.Join(t.TempDir(), "fuzz.toml")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Skip()
		}
		cfg, err := Load(path)
		if err != nil {
			return
		}
		if cfg.Listen == "" || cfg.Catalog == "" {
			t.Fatalf("defaults missing: %+v", cfg)
		}
		_, _ = cfg.ScriptDefinitions()
	})
}
