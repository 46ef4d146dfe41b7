//go:build !windows

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/scriptr/internal/catalog"
	"github.com/loykin/scriptr/internal/engine"
	"github.com/loykin/scriptr/internal/logring"
	"github.com/loykin/scriptr/internal/restart"
	"github.com/loykin/scriptr/internal/script"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cat, err := catalog.NewFileStore(filepath.Join(t.TempDir(), "catalog.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	eng := engine.New(cat, engine.Config{
		GracePeriod: 2 * time.Second,
		Restart: restart.Config{
			BackoffInitial: 10 * time.Millisecond,
			BackoffMax:     50 * time.Millisecond,
			MaxFailures:    3,
			MinUptime:      time.Hour,
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})
	return eng
}

func testHandler(t *testing.T) (*engine.Engine, http.Handler) {
	eng := testEngine(t)
	return eng, NewRouter(eng, "").Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func addScript(t *testing.T, h http.Handler, name, path string, args []string, policy string) script.Definition {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/scripts", scriptReq{
		Name: name, Path: path, Args: args, Policy: policy,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("add %s: status %d body %s", name, w.Code, w.Body.String())
	}
	var def script.Definition
	if err := json.Unmarshal(w.Body.Bytes(), &def); err != nil {
		t.Fatalf("decode add response: %v", err)
	}
	return def
}

func TestAddListRemove(t *testing.T) {
	_, h := testHandler(t)

	def := addScript(t, h, "worker", "/bin/sh", []string{"-c", "sleep 30"}, "on-failure")
	if def.ID == "" {
		t.Fatal("no id assigned")
	}

	w := doJSON(t, h, http.MethodGet, "/api/scripts", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status %d", w.Code)
	}
	var defs []script.Definition
	if err := json.Unmarshal(w.Body.Bytes(), &defs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != "worker" {
		t.Fatalf("list = %+v", defs)
	}

	w = doJSON(t, h, http.MethodDelete, "/api/scripts/"+def.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("remove: status %d body %s", w.Code, w.Body.String())
	}
	w = doJSON(t, h, http.MethodGet, "/api/scripts/"+def.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status after remove: %d", w.Code)
	}
}

func TestAddValidation(t *testing.T) {
	_, h := testHandler(t)
	tests := []struct {
		name string
		req  scriptReq
	}{
		{"empty name", scriptReq{Path: "/bin/true"}},
		{"traversal name", scriptReq{Name: "../etc", Path: "/bin/true"}},
		{"relative path", scriptReq{Name: "x", Path: "bin/true"}},
		{"traversal path", scriptReq{Name: "x", Path: "/bin/../etc/passwd"}},
		{"bad policy", scriptReq{Name: "x", Path: "/bin/true", Policy: "sometimes"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodPost, "/api/scripts", tc.req)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestStartStopLifecycle(t *testing.T) {
	_, h := testHandler(t)
	def := addScript(t, h, "sleeper", "/bin/sh", []string{"-c", "sleep 30"}, "never")

	w := doJSON(t, h, http.MethodPost, "/api/scripts/"+def.ID+"/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start: status %d body %s", w.Code, w.Body.String())
	}
	// Starting twice is a conflict.
	w = doJSON(t, h, http.MethodPost, "/api/scripts/"+def.ID+"/start", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("double start: status %d", w.Code)
	}

	w = doJSON(t, h, http.MethodGet, "/api/scripts/"+def.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var st engine.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.State != engine.StateRunning || st.PID <= 0 {
		t.Fatalf("status = %+v, want running", st)
	}

	w = doJSON(t, h, http.MethodPost, "/api/scripts/"+def.ID+"/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stop: status %d body %s", w.Code, w.Body.String())
	}
}

func TestStopWaitQuery(t *testing.T) {
	_, h := testHandler(t)
	def := addScript(t, h, "stubborn", "/bin/sh", []string{"-c", `trap "" TERM; sleep 30`}, "never")

	w := doJSON(t, h, http.MethodPost, "/api/scripts/"+def.ID+"/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start: %d", w.Code)
	}
	// Let the shell install the trap before signalling.
	time.Sleep(100 * time.Millisecond)

	w = doJSON(t, h, http.MethodPost, "/api/scripts/"+def.ID+"/stop?wait=banana", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad wait: status %d", w.Code)
	}

	// The configured grace period is 2s; a short override must force
	// the kill well before that.
	start := time.Now()
	w = doJSON(t, h, http.MethodPost, "/api/scripts/"+def.ID+"/stop?wait=100ms", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stop: status %d body %s", w.Code, w.Body.String())
	}
	if elapsed := time.Since(start); elapsed >= 1500*time.Millisecond {
		t.Fatalf("stop took %s, wait override not applied", elapsed)
	}

	w = doJSON(t, h, http.MethodGet, "/api/scripts/"+def.ID, nil)
	var st engine.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.State != engine.StateStopped {
		t.Fatalf("state = %v, want stopped", st.State)
	}
}

func TestUnknownScriptIs404(t *testing.T) {
	_, h := testHandler(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/scripts/ghost"},
		{http.MethodPost, "/api/scripts/ghost/start"},
		{http.MethodPost, "/api/scripts/ghost/stop"},
		{http.MethodDelete, "/api/scripts/ghost"},
		{http.MethodGet, "/api/scripts/ghost/logs"},
	} {
		w := doJSON(t, h, tc.method, tc.path, nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s %s: status %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestLogsSnapshotAndTail(t *testing.T) {
	eng, h := testHandler(t)
	def := addScript(t, h, "echoer", "/bin/sh", []string{"-c", "for i in 1 2 3 4 5; do echo line-$i; done; sleep 30"}, "never")

	w := doJSON(t, h, http.MethodPost, "/api/scripts/"+def.ID+"/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start: %d", w.Code)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		lines, err := eng.Snapshot(def.ID)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		n := 0
		for _, ln := range lines {
			if ln.Stream == logring.Stdout {
				n++
			}
		}
		if n >= 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for output, have %d stdout lines", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	w = doJSON(t, h, http.MethodGet, "/api/scripts/"+def.ID+"/logs?tail=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logs: %d", w.Code)
	}
	var lines []logring.Line
	if err := json.Unmarshal(w.Body.Bytes(), &lines); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("tail=2 returned %d lines", len(lines))
	}
	if lines[1].Text != "line-5" {
		t.Fatalf("last line = %q, want line-5", lines[1].Text)
	}

	w = doJSON(t, h, http.MethodGet, "/api/scripts/"+def.ID+"/logs?tail=banana", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad tail: status %d", w.Code)
	}
}

func TestStatusesEndpoint(t *testing.T) {
	_, h := testHandler(t)
	addScript(t, h, "beta", "/bin/true", nil, "never")
	addScript(t, h, "alpha", "/bin/true", nil, "never")

	w := doJSON(t, h, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var sts []engine.Status
	if err := json.Unmarshal(w.Body.Bytes(), &sts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(sts) != 2 || sts[0].Name != "alpha" || sts[1].Name != "beta" {
		t.Fatalf("statuses = %+v", sts)
	}
}

func TestMetricsAndHealthz(t *testing.T) {
	_, h := testHandler(t)
	w := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz: %d", w.Code)
	}
	w = doJSON(t, h, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
}

func TestBasePathMounting(t *testing.T) {
	eng := testEngine(t)
	h := NewRouter(eng, "/supervisor").Handler()
	w := doJSON(t, h, http.MethodGet, "/supervisor/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("healthz under base path: %d", w.Code)
	}
	w = doJSON(t, h, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unprefixed path: %d, want 404", w.Code)
	}
}
