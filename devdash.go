// Package devdash is a local development dashboard: it discovers npm-style
// packages under configured roots, runs and stops their scripts, detects the
// localhost URL each script serves on, and streams lifecycle events.
package devdash

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	cfg "github.com/loykin/devdash/internal/config"
	"github.com/loykin/devdash/internal/batch"
	"github.com/loykin/devdash/internal/event"
	"github.com/loykin/devdash/internal/limiter"
	"github.com/loykin/devdash/internal/manifest"
	"github.com/loykin/devdash/internal/metrics"
	"github.com/loykin/devdash/internal/registry"
	iapi "github.com/loykin/devdash/internal/server"
	"github.com/loykin/devdash/internal/supervisor"
	"github.com/loykin/devdash/internal/watch"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type ConfigurationError = cfg.ConfigurationError

type ServerConfig = cfg.ServerConfig

type SupervisorConfig = cfg.SupervisorConfig

type Unit = manifest.Unit

type Layout = manifest.Layout

type RunningScript = registry.Snapshot

type Event = event.Event

type Subscription = event.Subscription

type BatchResult = batch.Result

type Usage = metrics.Usage

const (
	LayoutCategories = manifest.LayoutCategories
	LayoutApps       = manifest.LayoutApps
)

var (
	ErrNotFound       = supervisor.ErrNotFound
	ErrAlreadyRunning = supervisor.ErrAlreadyRunning
	ErrNotRunning     = supervisor.ErrNotRunning
	ErrShuttingDown   = supervisor.ErrShuttingDown
)

// Dashboard wires the catalog, supervisor, batch runner and event bus built
// from one Config.
type Dashboard struct {
	cfg     *cfg.Config
	log     *slog.Logger
	catalog *manifest.Catalog
	bus     *event.Broadcaster
	sup     *supervisor.Supervisor
	batch   *batch.Runner
	usage   *metrics.UsageCollector
	watcher *watch.Watcher
}

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// New builds a Dashboard. Call Run to start the dispatcher.
func New(c *Config, log *slog.Logger) (*Dashboard, error) {
	if c == nil {
		return nil, errors.New("nil config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	globalEnv, err := c.GlobalEnv()
	if err != nil {
		return nil, err
	}

	roots := c.ScanRoots()
	catalog := manifest.NewCatalog(manifest.NewScanner(log), roots)
	bus := event.NewBroadcaster()
	sup, err := supervisor.New(supervisor.Options{
		Resolver:    catalog,
		Publisher:   bus,
		Env:         globalEnv,
		Launcher:    c.Supervisor.Launcher,
		NPM:         c.Batch.NPM,
		URLPattern:  c.Supervisor.URLPattern,
		GracePeriod: c.Supervisor.GracePeriod,
		Output:      c.Log.Output,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	d := &Dashboard{
		cfg:     c,
		log:     log,
		catalog: catalog,
		bus:     bus,
		sup:     sup,
		batch: batch.New(batch.Options{
			Limiter:   limiter.New(c.Batch.Concurrency),
			Publisher: bus,
			NPM:       c.Batch.NPM,
			Env:       globalEnv.Merge(nil),
			Logger:    log,
		}),
		usage: metrics.NewUsageCollector(metrics.UsageConfig{
			Enabled:  c.Metrics.Enabled,
			Interval: c.Metrics.SampleInterval,
		}, log),
	}
	if c.Watch.Enabled {
		paths := make([]string, len(roots))
		for i, r := range roots {
			paths[i] = r.Path
		}
		d.watcher = watch.New(watch.Options{
			Roots:     paths,
			Debounce:  c.Watch.Debounce,
			Catalog:   catalog,
			Publisher: bus,
			Logger:    log,
		})
	}
	return d, nil
}

// ListUnits rescans every root.
func (d *Dashboard) ListUnits() ([]Unit, error) { return d.catalog.Units() }

// ListUnitsIn rescans and keeps the units of roots with the given layout.
func (d *Dashboard) ListUnitsIn(layout Layout) ([]Unit, error) { return d.catalog.UnitsIn(layout) }

func (d *Dashboard) ListRunning(ctx context.Context) ([]RunningScript, error) {
	return d.sup.List(ctx)
}

func (d *Dashboard) RequestStart(ctx context.Context, unitPath, script string) error {
	return d.sup.Start(ctx, unitPath, script)
}

func (d *Dashboard) RequestStop(ctx context.Context, unitPath, script string) error {
	return d.sup.Stop(ctx, unitPath, script)
}

// SubscribeEvents registers an observer. A non-positive buffer uses the
// configured event buffer.
func (d *Dashboard) SubscribeEvents(buffer int) (*Subscription, error) {
	if buffer <= 0 {
		buffer = d.cfg.Supervisor.EventBuffer
	}
	return d.bus.Subscribe(buffer)
}

func (d *Dashboard) Unsubscribe(id string) error { return d.bus.Unsubscribe(id) }

func (d *Dashboard) InstallDependencies(ctx context.Context, paths []string) ([]BatchResult, error) {
	return d.batch.Install(ctx, paths)
}

func (d *Dashboard) LinkLocal(ctx context.Context, paths []string) ([]BatchResult, error) {
	return d.batch.Link(ctx, paths)
}

// Usage returns the latest CPU and memory samples; empty unless metrics are
// enabled.
func (d *Dashboard) Usage() []Usage { return d.usage.Latest() }

// Handler returns the HTTP API and UI handler.
func (d *Dashboard) Handler() http.Handler {
	opts := iapi.Options{
		BasePath:    d.cfg.Server.BasePath,
		StaticDir:   d.cfg.Server.StaticDir,
		EventBuffer: d.cfg.Supervisor.EventBuffer,
		Logger:      d.log,
	}
	if d.usage.Enabled() {
		opts.Usage = d.usage.Latest
	}
	return iapi.NewRouter(d, opts).Handler()
}

// Run starts the dispatcher and the optional watcher and usage sampler. It
// blocks until ctx is done; scripts still running then are killed. Call
// Shutdown before cancelling ctx to stop them gracefully.
func (d *Dashboard) Run(ctx context.Context) error {
	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			d.log.Warn("file watching disabled", "error", err)
		} else {
			defer func() { _ = d.watcher.Stop() }()
		}
	}
	d.usage.Start(ctx, d.usageTargets)
	defer d.usage.Stop()
	defer d.bus.Close()

	err := d.sup.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown rejects new starts and stops every running script, waiting until
// they have exited or ctx is done.
func (d *Dashboard) Shutdown(ctx context.Context) error {
	return d.sup.Shutdown(ctx)
}

// Done is closed once Run has returned.
func (d *Dashboard) Done() <-chan struct{} { return d.sup.Done() }

func (d *Dashboard) usageTargets(ctx context.Context) []metrics.Target {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	running, err := d.sup.List(ctx)
	if err != nil {
		return nil
	}
	out := make([]metrics.Target, 0, len(running))
	for _, r := range running {
		out = append(out, metrics.Target{Unit: r.UnitPath, Script: r.Script, PID: r.PID})
	}
	return out
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// RegisterUsageMetrics registers the per-script CPU and memory gauges.
func (d *Dashboard) RegisterUsageMetrics(r prometheus.Registerer) error {
	return d.usage.RegisterMetrics(r)
}

// NewMetricsServer returns an HTTP server exposing /metrics from the default
// registry on addr.
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// NewHTTPServer returns an http.Server serving d's API on addr.
func NewHTTPServer(addr string, d *Dashboard) *http.Server {
	return iapi.NewServer(addr, d.Handler())
}
