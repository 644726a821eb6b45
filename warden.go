// Package warden exposes the supervision engine for embedding. The types
// here are thin aliases and facades over the internal packages so that a
// host program can register servers, drive their lifecycle and observe
// state without importing internal paths.
package warden

import (
	"context"
	"net/http"
	"time"

	cfg "github.com/loykin/warden/internal/config"
	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/health"
	"github.com/loykin/warden/internal/history"
	"github.com/loykin/warden/internal/history/factory"
	"github.com/loykin/warden/internal/logger"
	"github.com/loykin/warden/internal/metrics"
	"github.com/loykin/warden/internal/orchestrator"
	"github.com/loykin/warden/internal/portscan"
	"github.com/loykin/warden/internal/process"
	iapi "github.com/loykin/warden/internal/server"
	"github.com/loykin/warden/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type ServerConfig = process.ServerConfig

type Record = process.Record

type Result = orchestrator.Result

type StatusView = orchestrator.StatusView

type Options = orchestrator.Options

type LogConfig = logger.Config

type StoreConfig = store.Config

type Store = store.Store

type HistorySink = history.Sink

type HealthStatus = health.Status

type PortEntry = portscan.Entry

// Event types carried on the subject returned by Orchestrator.Events.

type ServerStartedEvent = events.ServerStartedEvent

type ServerStoppedEvent = events.ServerStoppedEvent

type ServerReattachedEvent = events.ServerReattachedEvent

type ProcessDiedEvent = events.ProcessDiedEvent

type HealthCheckEvent = events.HealthCheckEvent

type HealthStatusChangedEvent = events.HealthStatusChangedEvent

const (
	TopicServerStarted       = events.TopicServerStarted
	TopicServerStopped       = events.TopicServerStopped
	TopicServerReattached    = events.TopicServerReattached
	TopicProcessDied         = events.TopicProcessDied
	TopicHealthCheck         = events.TopicHealthCheck
	TopicHealthStatusChanged = events.TopicHealthStatusChanged
)

// Orchestrator is a thin facade over internal/orchestrator.Orchestrator.
// It provides a stable public API for embedding.

type Orchestrator struct{ inner *orchestrator.Orchestrator }

func New(opts Options) *Orchestrator {
	return &Orchestrator{inner: orchestrator.New(opts)}
}

func (o *Orchestrator) RegisterServer(s ServerConfig) error    { return o.inner.RegisterServer(s) }
func (o *Orchestrator) RegisterServers(s []ServerConfig) error { return o.inner.RegisterServers(s) }
func (o *Orchestrator) Servers() []ServerConfig                { return o.inner.Servers() }
func (o *Orchestrator) Records() []Record                      { return o.inner.Records() }
func (o *Orchestrator) Events() *events.Subject                { return o.inner.Events() }
func (o *Orchestrator) Initialize(ctx context.Context) error   { return o.inner.Initialize(ctx) }
func (o *Orchestrator) Shutdown(ctx context.Context)           { o.inner.Shutdown(ctx) }
func (o *Orchestrator) StartServer(ctx context.Context, id string) Result {
	return o.inner.StartServer(ctx, id)
}
func (o *Orchestrator) StopServer(ctx context.Context, id string) Result {
	return o.inner.StopServer(ctx, id)
}
func (o *Orchestrator) Status(ctx context.Context) []StatusView { return o.inner.Status(ctx) }
func (o *Orchestrator) Ports(ctx context.Context) []PortEntry   { return o.inner.Ports(ctx) }
func (o *Orchestrator) KillPID(ctx context.Context, pid string) (Result, error) {
	return o.inner.KillPID(ctx, pid)
}
func (o *Orchestrator) KillPort(ctx context.Context, port string) (Result, error) {
	return o.inner.KillPort(ctx, port)
}

// Subscribe registers handler for one of the Topic* constants on o's event
// subject. The subscription stays active until Unsubscribe or Shutdown.
func Subscribe[T any](o *Orchestrator, topic string, handler func(ctx context.Context, evt T) error) *events.Subscription {
	return events.Subscribe(o.inner.Events(), topic, handler)
}

// NewStore opens a state store described by c. An empty Type yields (nil, nil),
// meaning persistence is disabled.
func NewStore(c StoreConfig) (Store, error) {
	if c.Type == "" {
		return nil, nil
	}
	return store.New(c)
}

// NewHistorySink builds a lifecycle history sink from a DSN
// (postgres://, clickhouse://, opensearch://, sqlite:// or a plain file path).
func NewHistorySink(dsn string) (HistorySink, error) {
	return factory.NewSinkFromDSN(dsn)
}

func LoadConfig(path string) (*cfg.FileConfig, error) {
	return cfg.Load(path)
}

// NewHTTPServer starts an HTTP server exposing the internal API using the given orchestrator.
func NewHTTPServer(addr, basePath string, o *Orchestrator) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, o.inner)
}

// Metrics helpers (public facade)

type ResourceSampler = metrics.ResourceSampler

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// NewResourceSampler builds a per-server cpu/memory sampler. Register it on a
// registry, then Start it with a pid snapshot function (Orchestrator.Records
// is the usual source).
func NewResourceSampler(interval time.Duration) *ResourceSampler {
	return metrics.NewResourceSampler(interval)
}

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
