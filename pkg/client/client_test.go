//go:build !windows

package client_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/scriptr/internal/catalog"
	"github.com/loykin/scriptr/internal/engine"
	"github.com/loykin/scriptr/internal/server"
	"github.com/loykin/scriptr/pkg/client"
)

func testDaemon(t *testing.T) *client.Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cat, err := catalog.NewFileStore(filepath.Join(t.TempDir(), "catalog.json"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(cat, engine.Config{GracePeriod: 2 * time.Second}, log)
	srv := httptest.NewServer(server.NewRouter(eng, "").Handler())
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})
	return client.New(client.Config{BaseURL: srv.URL, Logger: log})
}

func TestClientLifecycle(t *testing.T) {
	c := testDaemon(t)
	ctx := context.Background()

	if !c.IsReachable(ctx) {
		t.Fatal("daemon not reachable")
	}

	added, err := c.Add(ctx, client.Script{
		Name:   "worker",
		Path:   "/bin/sh",
		Args:   []string{"-c", "echo hi; sleep 30"},
		Policy: "on-failure",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.ID == "" {
		t.Fatal("Add returned no id")
	}

	defs, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != "worker" {
		t.Fatalf("List = %+v", defs)
	}

	if err := c.Start(ctx, added.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st, err := c.Status(ctx, added.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != "running" || st.PID <= 0 {
		t.Fatalf("Status = %+v, want running", st)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		lines, err := c.Logs(ctx, added.ID, 0)
		if err != nil {
			t.Fatalf("Logs: %v", err)
		}
		found := false
		for _, ln := range lines {
			if ln.Text == "hi" {
				found = true
			}
		}
		if found {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("output never appeared in logs")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := c.Stop(ctx, added.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	sts, err := c.Statuses(ctx)
	if err != nil {
		t.Fatalf("Statuses: %v", err)
	}
	if len(sts) != 1 || sts[0].State != "stopped" {
		t.Fatalf("Statuses = %+v", sts)
	}

	if err := c.Remove(ctx, added.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestClientErrors(t *testing.T) {
	c := testDaemon(t)
	ctx := context.Background()

	if err := c.Start(ctx, "ghost"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("Start unknown err = %v, want HTTP 404", err)
	}
	if _, err := c.Add(ctx, client.Script{Name: "bad name!", Path: "/bin/true"}); err == nil {
		t.Fatal("Add with invalid name succeeded")
	}
}

func TestClientStreamLogs(t *testing.T) {
	c := testDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	added, err := c.Add(ctx, client.Script{
		Name:   "streamer",
		Path:   "/bin/sh",
		Args:   []string{"-c", "echo early; sleep 0.3; echo late; sleep 30"},
		Policy: "never",
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := c.Start(ctx, added.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ch, err := c.StreamLogs(ctx, added.ID)
	if err != nil {
		t.Fatalf("StreamLogs: %v", err)
	}

	// The replayed snapshot carries "early"; "late" arrives live.
	got := map[string]bool{}
	timeout := time.After(5 * time.Second)
	for !got["early"] || !got["late"] {
		select {
		case ln, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed before both lines arrived, got %v", got)
			}
			got[ln.Text] = true
		case <-timeout:
			t.Fatalf("timed out waiting for lines, got %v", got)
		}
	}

	cancel()
	closeBy := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-closeBy:
			t.Fatal("channel still open after context cancel")
		}
	}
}

func TestClientStreamLogsUnknownScript(t *testing.T) {
	c := testDaemon(t)
	if _, err := c.StreamLogs(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for unknown script")
	}
}
