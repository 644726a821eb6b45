package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/warden/internal/guard"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/orchestrator"
	"github.com/loykin/warden/internal/portscan"
)

// Router provides embeddable HTTP handlers for the orchestrator.
// Endpoints:
//
//	GET    {basePath}/servers          reconciled status views
//	POST   {basePath}/servers/:id      query: action=start|stop
//	DELETE {basePath}/kill             body: {"pid": "..."} or {"port": "..."}
//	GET    {basePath}/ports            raw listener snapshot
//	GET    {basePath}/events           SSE status stream
//	GET    {basePath}/healthz          liveness
//	GET    /metrics                    Prometheus
//
// Logical failures (unknown id, duplicate start, absent pid) are HTTP 200
// with success:false; 400/403 are reserved for malformed or refused input.
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	orch     *orchestrator.Orchestrator
	basePath string
	bcast    *broadcaster
}

// NewRouter constructs a Router and subscribes its SSE broadcaster to the
// orchestrator's event subject.
func NewRouter(orch *orchestrator.Orchestrator, basePath string) *Router {
	r := &Router{
		orch:     orch,
		basePath: sanitizeBase(basePath),
		bcast:    newBroadcaster(),
	}
	r.subscribeEvents()
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/servers", r.handleServers)
	group.POST("/servers/:id", r.handleServerAction)
	group.DELETE("/kill", r.handleKill)
	group.GET("/ports", r.handlePorts)
	group.GET("/events", r.handleEvents)
	group.GET("/healthz", r.handleHealthz)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// The caller shuts it down via http.Server's Shutdown or Close.
func NewServer(addr, basePath string, orch *orchestrator.Orchestrator) (*http.Server, error) {
	r := NewRouter(orch, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleServers(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.orch.Status(c.Request.Context()))
}

func (r *Router) handleServerAction(c *gin.Context) {
	id := c.Param("id")
	switch c.Query("action") {
	case "start":
		writeJSON(c, http.StatusOK, r.orch.StartServer(c.Request.Context(), id))
	case "stop":
		writeJSON(c, http.StatusOK, r.orch.StopServer(c.Request.Context(), id))
	default:
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "action must be start or stop"})
	}
}

type killRequest struct {
	PID  string `json:"pid"`
	Port string `json:"port"`
}

func (r *Router) handleKill(c *gin.Context) {
	var req killRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	ctx := c.Request.Context()
	switch {
	case req.PID == "" && req.Port == "":
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "pid or port is required"})
	case req.PID != "":
		res, err := r.orch.KillPID(ctx, req.PID)
		if err != nil {
			writeJSON(c, guardStatus(err), errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, res)
	default:
		res, err := r.orch.KillPort(ctx, req.Port)
		if err != nil {
			writeJSON(c, guardStatus(err), errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, res)
	}
}

// guardStatus maps validation failures: refused pids are forbidden, the rest
// of the guard sentinels are malformed input.
func guardStatus(err error) int {
	if errors.Is(err, guard.ErrProtectedPID) {
		return http.StatusForbidden
	}
	return http.StatusBadRequest
}

func (r *Router) handlePorts(c *gin.Context) {
	entries := r.orch.Ports(c.Request.Context())
	if entries == nil {
		entries = []portscan.Entry{}
	}
	writeJSON(c, http.StatusOK, entries)
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}
