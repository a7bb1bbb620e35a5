package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/loykin/appvisor/internal/manager"
	"github.com/loykin/appvisor/internal/metrics"
)

// Router provides embeddable HTTP handlers for controlling supervised apps.
// Endpoints, relative to basePath:
//
//	GET  /healthz
//	GET  /apps                 statuses of every app
//	GET  /apps/:name           status of one app
//	GET  /apps/:name/spec      runtime spec of one app
//	POST /apps/:name/start
//	POST /apps/:name/stop
//	POST /apps/:name/restart
//	POST /apps/:name/reset
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *manager.Manager
	basePath string
	metrics  bool
}

type RouterOption func(*Router)

// WithMetrics serves /metrics (outside basePath) from the router.
func WithMetrics() RouterOption {
	return func(r *Router) { r.metrics = true }
}

// NewRouter constructs a Router. Example basePath: "/api" results in
// /api/apps, /api/apps/:name and so on.
func NewRouter(mgr *manager.Manager, basePath string, opts ...RouterOption) *Router {
	r := &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// BasePath returns the sanitized base path.
func (r *Router) BasePath() string { return r.basePath }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealth)
	group.GET("/apps", r.handleList)
	group.GET("/apps/:name", r.withName(r.handleStatus))
	group.GET("/apps/:name/spec", r.withName(r.handleSpec))
	group.POST("/apps/:name/start", r.withName(r.action(r.mgr.Start)))
	group.POST("/apps/:name/stop", r.withName(r.action(r.mgr.Stop)))
	group.POST("/apps/:name/restart", r.withName(r.action(r.mgr.Restart)))
	group.POST("/apps/:name/reset", r.withName(r.action(r.mgr.Reset)))
	return g
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type healthResp struct {
	OK   bool `json:"ok"`
	Apps int  `json:"apps"`
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, healthResp{OK: true, Apps: len(r.mgr.Names())})
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mgr.List())
}

// withName rejects names that could not have been declared.
func (r *Router) withName(next func(*gin.Context, string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		if !isSafeName(name) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid app name"})
			return
		}
		next(c, name)
	}
}

func (r *Router) handleStatus(c *gin.Context, name string) {
	st, err := r.mgr.Status(name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleSpec(c *gin.Context, name string) {
	spec, err := r.mgr.Spec(name)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, spec)
}

func (r *Router) action(fn func(string) error) func(*gin.Context, string) {
	return func(c *gin.Context, name string) {
		if err := fn(name); err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

func writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, manager.ErrUnknownApp):
		code = http.StatusNotFound
	case errors.Is(err, manager.ErrShuttingDown):
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, errorResp{Error: err.Error()})
}
