// Command strand-serve runs a demo HTTP/1.1 server on the strand engine.
//
// Routes:
//
//	/          Hello World!
//	/stream    chunked body
//	/stats     server counters as JSON
//	/echo      the request as JSON
//	/ws        websocket handshake
//	/redirect  307 to /
//
// Prometheus metrics are served on -metrics-addr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/watt-toolkit/strand/pkg/strand/metrics"
	"github.com/watt-toolkit/strand/pkg/strand/server"
)

// dateLayout is the IMF-fixdate format of the Date header.
const dateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "strand-serve:", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "strand-serve:", err)
		os.Exit(1)
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *Config) error {
	logger, err := newLogger(cfg.Dev)
	if err != nil {
		return err
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt := &router{logger: logger.Named("routes")}
	srvCfg := server.Config{
		Addr:               cfg.Addr,
		Handler:            rt,
		Mode:               cfg.Mode,
		Workers:            cfg.Workers,
		ReadTimeout:        cfg.ReadTimeout,
		WriteTimeout:       cfg.WriteTimeout,
		IdleTimeout:        cfg.IdleTimeout,
		MaxRequestsPerConn: cfg.MaxRequests,
		MaxConnections:     cfg.MaxConnections,
		ServerName:         cfg.ServerName,
		Date:               func() string { return time.Now().UTC().Format(dateLayout) },
		Logger:             logger,
		Metrics:            metrics.New(reg, metrics.DefaultNamespace),
	}
	if cfg.Compress {
		cc := server.DefaultCompressionConfig()
		srvCfg.Compression = &cc
	}
	srv := server.New(srvCfg)
	rt.stats = srv.Stats().Snapshot

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("serving",
		zap.String("addr", cfg.Addr),
		zap.Stringer("mode", cfg.Mode),
		zap.String("metrics", cfg.MetricsAddr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("grace", cfg.ShutdownGrace))
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if metricsSrv != nil {
		metricsSrv.Shutdown(sctx)
	}
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("shutdown deadline exceeded, connections closed", zap.Error(err))
	}
	if err := <-errc; !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	s := srv.Stats().Snapshot()
	logger.Info("stopped",
		zap.Uint64("requests", s.TotalRequests),
		zap.Uint64("connections", s.TotalConnections))
	return nil
}
