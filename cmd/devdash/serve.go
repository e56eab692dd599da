package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/loykin/devdash"
	"github.com/loykin/devdash/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Serve runs the daemon until ctx is done, then stops every script within
// the configured grace period and closes the listeners.
func (c command) Serve(ctx context.Context, f ServeFlags, args []string) error {
	configPath := f.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	cfg, err := devdash.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if f.Listen != "" {
		cfg.Server.Listen = f.Listen
	}
	if f.PidFile != "" {
		cfg.Server.PIDFile = f.PidFile
	}
	if f.Open {
		cfg.Server.OpenBrowser = true
	}
	if f.Daemonize {
		return daemonize(cfg.Server.PIDFile, f.LogFile)
	}

	log, closer := logger.New(cfg.Log, c.errOut)
	defer func() { _ = closer.Close() }()

	d, err := devdash.New(cfg, log)
	if err != nil {
		return err
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		if err := devdash.RegisterMetricsDefault(); err != nil {
			log.Warn("register metrics", "error", err)
		}
		if err := d.RegisterUsageMetrics(prometheus.DefaultRegisterer); err != nil {
			log.Warn("register usage metrics", "error", err)
		}
		if cfg.Metrics.Listen != "" {
			metricsSrv = devdash.NewMetricsServer(cfg.Metrics.Listen)
			go func() {
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server", "error", err)
				}
			}()
		}
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}
	if cfg.Server.PIDFile != "" {
		if pid, err := readPidFile(cfg.Server.PIDFile); err == nil && pid != os.Getpid() {
			if alive, _ := process.PidExists(int32(pid)); alive {
				_ = ln.Close()
				return fmt.Errorf("pidfile %s: daemon already running with PID %d", cfg.Server.PIDFile, pid)
			}
		}
		if err := writePidFile(cfg.Server.PIDFile, os.Getpid()); err != nil {
			_ = ln.Close()
			return fmt.Errorf("write pidfile: %w", err)
		}
		defer func() { _ = removePidFile(cfg.Server.PIDFile) }()
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(runCtx) }()

	srv := devdash.NewHTTPServer(cfg.Server.Listen, d)
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()
	log.Info("devdash serving", "addr", ln.Addr().String(), "base_path", cfg.Server.BasePath)
	if cfg.Server.OpenBrowser {
		go func() {
			u := dashboardURL(ln.Addr())
			bctx, bcancel := context.WithTimeout(runCtx, browserTimeout)
			defer bcancel()
			if err := c.openBrowser(bctx, u); err != nil {
				log.Warn("open browser", "url", u, "error", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-srvErr:
	case serveErr = <-runErr:
		runErr <- nil
	}

	log.Info("shutting down")
	grace := cfg.Supervisor.GracePeriod
	if grace <= 0 {
		grace = 5 * time.Second
	}
	sctx, scancel := context.WithTimeout(context.Background(), grace+2*time.Second)
	defer scancel()
	if err := d.Shutdown(sctx); err != nil {
		log.Warn("scripts still running at shutdown", "error", err)
	}
	cancel()
	if err := <-runErr; err != nil && serveErr == nil {
		serveErr = err
	}
	// event streams end once the dispatcher has closed the bus
	if err := srv.Shutdown(sctx); err != nil {
		_ = srv.Close()
	}
	if metricsSrv != nil {
		_ = metricsSrv.Close()
	}
	return serveErr
}
