package server

import (
	"crypto/tls"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/scriptr/internal/catalog"
	"github.com/loykin/scriptr/internal/engine"
	"github.com/loykin/scriptr/internal/metrics"
	"github.com/loykin/scriptr/internal/process"
	"github.com/loykin/scriptr/internal/script"
)

// Router provides embeddable HTTP handlers over a supervisor engine.
// Endpoints (under {basePath}):
//
//	POST   /api/scripts             body: definition JSON, registers a script
//	GET    /api/scripts             list registered definitions
//	GET    /api/scripts/:id         status of one script
//	DELETE /api/scripts/:id         stop if live, remove from catalog
//	POST   /api/scripts/:id/start
//	POST   /api/scripts/:id/stop    query: wait=5s (overrides grace period)
//	GET    /api/scripts/:id/logs    query: tail=N (buffered lines)
//	GET    /api/scripts/:id/logs/stream   websocket: replay + live lines
//	GET    /api/status              statuses of every script
//	GET    /metrics                 Prometheus exposition
//	GET    /healthz
type Router struct {
	eng      *engine.Engine
	basePath string
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath: "/abc" results in /abc/api/scripts and so on.
func NewRouter(eng *engine.Engine, basePath string) *Router {
	return &Router{eng: eng, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	api := group.Group("/api")
	api.POST("/scripts", r.handleAdd)
	api.GET("/scripts", r.handleList)
	api.GET("/scripts/:id", r.handleStatus)
	api.DELETE("/scripts/:id", r.handleRemove)
	api.POST("/scripts/:id/start", r.handleStart)
	api.POST("/scripts/:id/stop", r.handleStop)
	api.GET("/scripts/:id/logs", r.handleLogs)
	api.GET("/scripts/:id/logs/stream", r.handleLogStream)
	api.GET("/status", r.handleStatuses)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	group.GET("/healthz", r.handleHealthz)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Callers shut it down via http.Server's Shutdown or Close.
func NewServer(addr, basePath string, eng *engine.Engine) (*http.Server, error) {
	r := NewRouter(eng, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// NewServerTLS starts a standalone HTTPS server on addr using this
// router and the given TLS configuration.
func NewServerTLS(addr, basePath string, eng *engine.Engine, tc *tls.Config) (*http.Server, error) {
	r := NewRouter(eng, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tc,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServeTLS("", "") }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type scriptReq struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Args   []string `json:"args"`
	Policy string   `json:"policy"`
}

func (r *Router) handleAdd(c *gin.Context) {
	var req scriptReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeName(req.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	if !isSafeAbsPath(req.Path) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid path: must be absolute path without traversal"})
		return
	}
	policy, err := script.ParsePolicy(req.Policy)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	def, err := r.eng.AddScript(c.Request.Context(), script.Definition{
		ID:     req.ID,
		Name:   req.Name,
		Path:   req.Path,
		Args:   req.Args,
		Policy: policy,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, def)
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.eng.Definitions())
}

func (r *Router) handleStatus(c *gin.Context) {
	st, err := r.eng.Status(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStatuses(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.eng.Statuses())
}

func (r *Router) handleRemove(c *gin.Context) {
	if err := r.eng.RemoveScript(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.eng.StartScript(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	var wait time.Duration
	if s := c.Query("wait"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "wait must be a duration such as 5s"})
			return
		}
		wait = d
	}
	if err := r.eng.StopScriptWait(c.Param("id"), wait); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleLogs(c *gin.Context) {
	lines, err := r.eng.Snapshot(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if tailStr := c.Query("tail"); tailStr != "" {
		tail, err := strconv.Atoi(tailStr)
		if err != nil || tail < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "tail must be a non-negative integer"})
			return
		}
		if tail < len(lines) {
			lines = lines[len(lines)-tail:]
		}
	}
	writeJSON(c, http.StatusOK, lines)
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// writeError maps engine and catalog errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrAlreadyRunning), errors.Is(err, engine.ErrNotRunning):
		status = http.StatusConflict
	case errors.Is(err, script.ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	case errors.Is(err, process.ErrSpawn):
		status = http.StatusBadGateway
	}
	writeJSON(c, status, errorResp{Error: err.Error()})
}
