package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/tankwatch/internal/analytics"
	"github.com/tejusbharadwaj/tankwatch/internal/api"
	"github.com/tejusbharadwaj/tankwatch/internal/config"
	"github.com/tejusbharadwaj/tankwatch/internal/netstate"
	"github.com/tejusbharadwaj/tankwatch/internal/scheduler"
	"github.com/tejusbharadwaj/tankwatch/internal/server"
	middleware "github.com/tejusbharadwaj/tankwatch/internal/server/middlewares"
	"github.com/tejusbharadwaj/tankwatch/internal/session"
)

// Command tankwatch polls spreadsheet-backed water tank feeds and serves the
// derived readings, status and analytics as JSON.
//
// The service supports:
//   - Any number of sources, each with its own column layout and thresholds
//   - Thresholds re-read from a settings feed or from inline feed columns
//   - Flood/drought classification and trailing-window analytics
//   - Offline detection with an immediate refresh on reconnect
//   - Prometheus metrics
//
// Usage:
//
//	tankwatch [flags]
//
// The flags are:
//
//	-config string
//	      path to config file (default "config.yaml")
//	-sources string
//	      path or http(s) url of the sources document, overrides sources_file
func main() {
	flags := parseFlags()

	appConfig, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if flags.Sources != "" {
		appConfig.SourcesFile = flags.Sources
	}

	logger := newLogger(appConfig.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := api.NewFeedClient(api.ClientConfig{
		Timeout:   appConfig.Polling.RequestTimeout,
		RateLimit: appConfig.Polling.OutboundRate,
		Burst:     appConfig.Polling.OutboundBurst,
		UserAgent: api.DefaultClientConfig().UserAgent,
	})

	sources, err := loadSources(ctx, client, appConfig.SourcesFile)
	if err != nil {
		if len(sources) == 0 {
			logger.WithError(err).Fatal("No usable sources")
		}
		// Invalid sources are skipped; the rest still run.
		logger.WithError(err).Warn("Some sources were rejected")
	}

	opts := session.Options{
		Analytics: analytics.Options{
			Window:  appConfig.Analytics.Window,
			Mode:    analytics.TrendMode(appConfig.Analytics.TrendMode),
			Epsilon: appConfig.Analytics.TrendEpsilon,
		},
		Anchor: session.Anchor(appConfig.Analytics.Anchor),
		Now:    time.Now,
	}
	if err := opts.Analytics.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid analytics configuration")
	}

	var (
		refreshers []scheduler.Refresher
		views      []server.Source
	)
	for _, src := range sources {
		s, err := session.New(src, client, opts, logger)
		if err != nil {
			logger.WithError(err).WithField("source", src.ID).Error("Failed to set up source")
			continue
		}
		refreshers = append(refreshers, s)
		views = append(views, s)
	}
	if len(refreshers) == 0 {
		logger.Fatal("No sources could be set up")
	}

	registerMetrics()

	monitor := netstate.NewMonitor(
		netstate.DialProbe(appConfig.Network.ProbeAddress, appConfig.Network.ProbeTimeout),
		appConfig.Network.ProbeInterval,
		logger.WithField("component", "netstate"),
	)

	sched := scheduler.NewScheduler(refreshers, monitor, scheduler.Options{
		Interval:       appConfig.Polling.Interval,
		RequestTimeout: appConfig.Polling.RequestTimeout,
		Concurrent:     appConfig.Polling.Concurrent,
	}, logger)
	monitor.OnChange(sched.NetworkChanged)

	serverConfig := server.Config{
		CacheSize:      appConfig.Server.CacheSize,
		RateLimit:      appConfig.Server.RateLimit,
		RateLimitBurst: appConfig.Server.RateLimitBurst,
		CORSOrigins:    appConfig.Server.CORSOrigins,
	}
	if opts.Anchor == session.AnchorClock {
		serverConfig.CacheBucket = time.Minute
	}

	srv, err := server.New(views, monitor, serverConfig, logger)
	if err != nil {
		logger.Fatalf("Failed to setup server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", appConfig.Server.Host, appConfig.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := sched.Start(ctx); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}
	go monitor.Run(ctx)

	errChan := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":    httpServer.Addr,
			"sources": len(views),
		}).Info("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		logger.WithError(err).Error("Service error")
	}

	shutdown(httpServer, sched, logger)
}

type Flags struct {
	ConfigPath string
	Sources    string
}

func parseFlags() *Flags {
	f := &Flags{}

	flag.StringVar(&f.ConfigPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&f.Sources, "sources", "", "Path or http(s) url of the sources document")

	flag.Parse()

	return f
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logger.WithError(err).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// loadSources reads the sources document from a file or, for http(s)
// locations, through the feed client.
func loadSources(ctx context.Context, fetcher api.Fetcher, location string) ([]config.SourceConfig, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		return config.LoadSources(location)
	}
	body, err := fetcher.Fetch(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch sources: %v", config.ErrConfig, err)
	}
	return config.ParseSources([]byte(body))
}

func registerMetrics() {
	prometheus.MustRegister(middleware.Requests, middleware.Latency)
	prometheus.MustRegister(session.Collectors()...)
	prometheus.MustRegister(netstate.Collectors()...)
}

// Handle graceful shutdown
func shutdown(httpServer *http.Server, sched *scheduler.Scheduler, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("Gracefully stopping server...")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown failed")
	}
	sched.Stop()
	logger.Info("Server stopped")
}
