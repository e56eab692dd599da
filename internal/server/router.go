package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/devdash/internal/batch"
	"github.com/loykin/devdash/internal/event"
	"github.com/loykin/devdash/internal/manifest"
	"github.com/loykin/devdash/internal/metrics"
	"github.com/loykin/devdash/internal/registry"
)

// Service is what the HTTP layer needs from the dashboard.
type Service interface {
	ListUnits() ([]manifest.Unit, error)
	ListUnitsIn(layout manifest.Layout) ([]manifest.Unit, error)
	ListRunning(ctx context.Context) ([]registry.Snapshot, error)
	RequestStart(ctx context.Context, unitPath, script string) error
	RequestStop(ctx context.Context, unitPath, script string) error
	SubscribeEvents(buffer int) (*event.Subscription, error)
	Unsubscribe(id string) error
	InstallDependencies(ctx context.Context, paths []string) ([]batch.Result, error)
	LinkLocal(ctx context.Context, paths []string) ([]batch.Result, error)
}

type Options struct {
	BasePath    string
	StaticDir   string // browser UI; empty disables static serving
	EventBuffer int
	Usage       func() []metrics.Usage // nil disables GET {base}/usage
	Logger      *slog.Logger
}

// Router provides embeddable HTTP handlers for the dashboard.
// Endpoints under {basePath}:
//
//	GET  /units /modules /apps
//	GET  /running-scripts
//	POST /run-script             body: {modulePath, script}
//	POST /stop-script            body: {modulePath, script}
//	POST /install-dependencies   body: {paths}
//	POST /switch-to-local-files  body: {paths}
//	GET  /events                 server-sent events
//	GET  /usage                  optional
//
// plus GET /ws and GET /healthz at the root.
type Router struct {
	svc         Service
	basePath    string
	staticDir   string
	eventBuffer int
	usage       func() []metrics.Usage
	log         *slog.Logger
}

// NewRouter constructs a new Router. A basePath of "/abc" results in
// /abc/units, /abc/run-script and so on.
func NewRouter(svc Service, opts Options) *Router {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		svc:         svc,
		basePath:    sanitizeBase(opts.BasePath),
		staticDir:   opts.StaticDir,
		eventBuffer: opts.EventBuffer,
		usage:       opts.Usage,
		log:         log.With("component", "http"),
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.requestLog(), allowCORS())
	group := g.Group(r.basePath)
	group.GET("/units", r.handleUnits)
	group.GET("/modules", r.handleUnitsIn(manifest.LayoutCategories))
	group.GET("/apps", r.handleUnitsIn(manifest.LayoutApps))
	group.GET("/running-scripts", r.handleRunning)
	group.POST("/run-script", r.handleRunScript)
	group.POST("/stop-script", r.handleStopScript)
	group.POST("/install-dependencies", r.handleInstall)
	group.POST("/switch-to-local-files", r.handleLink)
	group.GET("/events", r.handleEvents)
	if r.usage != nil {
		group.GET("/usage", r.handleUsage)
	}
	g.GET("/ws", r.handleWebSocket)
	g.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	g.NoRoute(r.handleStatic)
	return g
}

// NewServer returns an http.Server for h on addr. No write timeout is set so
// event streams stay open.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type messageResp struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type batchResp struct {
	Success bool           `json:"success"`
	Results []batch.Result `json:"results"`
}

type scriptRequest struct {
	ModulePath string `json:"modulePath"`
	Script     string `json:"script"`
}

type pathsRequest struct {
	Paths []string `json:"paths"`
}

func (r *Router) handleUnits(c *gin.Context) {
	units, err := r.svc.ListUnits()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, units)
}

func (r *Router) handleUnitsIn(layout manifest.Layout) gin.HandlerFunc {
	return func(c *gin.Context) {
		units, err := r.svc.ListUnitsIn(layout)
		if err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, units)
	}
}

func (r *Router) handleRunning(c *gin.Context) {
	running, err := r.svc.ListRunning(c.Request.Context())
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, running)
}

func (r *Router) bindScript(c *gin.Context) (scriptRequest, bool) {
	var req scriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return req, false
	}
	if !isUnitPath(req.ModulePath) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid modulePath: must be an absolute path without traversal"})
		return req, false
	}
	if !isSafeScriptName(req.Script) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid script name"})
		return req, false
	}
	return req, true
}

func (r *Router) handleRunScript(c *gin.Context) {
	req, ok := r.bindScript(c)
	if !ok {
		return
	}
	if err := r.svc.RequestStart(c.Request.Context(), req.ModulePath, req.Script); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, messageResp{
		Success: true,
		Message: fmt.Sprintf("Running '%s' in %s", req.Script, req.ModulePath),
	})
}

func (r *Router) handleStopScript(c *gin.Context) {
	req, ok := r.bindScript(c)
	if !ok {
		return
	}
	if err := r.svc.RequestStop(c.Request.Context(), req.ModulePath, req.Script); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, messageResp{
		Success: true,
		Message: fmt.Sprintf("Stopping script '%s' in %s", req.Script, req.ModulePath),
	})
}

func (r *Router) bindPaths(c *gin.Context) ([]string, bool) {
	var req pathsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return nil, false
	}
	if len(req.Paths) == 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "Invalid paths array"})
		return nil, false
	}
	for _, p := range req.Paths {
		if !isUnitPath(p) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid path " + p + ": must be absolute without traversal"})
			return nil, false
		}
	}
	return req.Paths, true
}

func (r *Router) handleInstall(c *gin.Context) {
	paths, ok := r.bindPaths(c)
	if !ok {
		return
	}
	results, err := r.svc.InstallDependencies(c.Request.Context(), paths)
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, batchResp{Success: true, Results: results})
}

func (r *Router) handleLink(c *gin.Context) {
	paths, ok := r.bindPaths(c)
	if !ok {
		return
	}
	results, err := r.svc.LinkLocal(c.Request.Context(), paths)
	if err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, batchResp{Success: true, Results: results})
}

func (r *Router) handleUsage(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.usage())
}

func (r *Router) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		begin := time.Now()
		c.Next()
		r.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(begin))
	}
}

// allowCORS lets a UI served from another origin (a dev server) call the API.
func allowCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
