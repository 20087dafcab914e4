package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objgw/objgw/internal/logger"
	"github.com/objgw/objgw/pkg/config"
	"github.com/objgw/objgw/pkg/engine"
	"github.com/objgw/objgw/pkg/engine/memory"
	s3engine "github.com/objgw/objgw/pkg/engine/s3"
	"github.com/objgw/objgw/pkg/gateway"
	"github.com/objgw/objgw/pkg/metrics"
)

// buildEngine constructs the backend engine selected by cfg.
func buildEngine(ctx context.Context, cfg *config.Config) (engine.Engine, error) {
	switch cfg.Engine.Type {
	case "memory":
		return memory.New(), nil
	case "s3":
		var s3cfg s3engine.Config
		if err := mapstructure.Decode(cfg.Engine.S3, &s3cfg); err != nil {
			return nil, fmt.Errorf("failed to decode s3 engine config: %w", err)
		}
		return s3engine.New(ctx, s3cfg)
	default:
		return nil, fmt.Errorf("unknown engine type %q", cfg.Engine.Type)
	}
}

// serveMetrics exposes the Prometheus registry over HTTP.
func serveMetrics(listen string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: listen, Handler: mux}

	go func() {
		logger.Info("metrics endpoint listening on %s", listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics endpoint failed: %v", err)
		}
	}()
	return srv
}

// listPath resolves a slash-separated path through the gateway and
// prints one line per directory entry. Used by the -ls one-shot mode.
func listPath(ctx context.Context, fs *gateway.Filesystem, path string) error {
	dir := fs.Root()
	for _, leaf := range strings.Split(strings.Trim(path, "/"), "/") {
		if leaf == "" {
			continue
		}
		h, err := fs.StatLeaf(ctx, dir, leaf)
		if err != nil {
			return err
		}
		if h == nil {
			return fmt.Errorf("%s: not found", leaf)
		}
		defer fs.Unref(h)
		if !h.IsDir() {
			return fmt.Errorf("%s: not a directory", leaf)
		}
		dir = h
	}

	_, err := fs.ReadDir(ctx, dir, 0, func(name string, _ uint64, isDir bool) bool {
		kind := "f"
		if isDir {
			kind = "d"
		}
		fmt.Printf("%s %s\n", kind, name)
		return true
	})
	return err
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Override configured log level (DEBUG, INFO, WARN, ERROR)")
	lsPath := flag.String("ls", "", "One-shot mode: list the given gateway path and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	logger.SetLevel(cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build %s engine: %v", cfg.Engine.Type, err)
	}

	var cacheMetrics gateway.CacheMetrics
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		cacheMetrics = metrics.NewCacheMetrics()
		metricsSrv = serveMetrics(cfg.Metrics.Listen)
	}

	fs := gateway.New(eng, gateway.Config{
		Partitions:    cfg.Cache.Partitions,
		Lanes:         cfg.Cache.Lanes,
		LaneHighWater: cfg.Cache.LaneHighWater,
	}, cacheMetrics)
	defer fs.Close()

	if cfg.Metrics.Enabled {
		metrics.RegisterCacheSize(func() float64 { return float64(fs.Len()) })
	}

	if *lsPath != "" {
		if err := listPath(ctx, fs, *lsPath); err != nil {
			log.Fatalf("ls %s: %v", *lsPath, err)
		}
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("objgw running (engine=%s). Press Ctrl+C to stop.", cfg.Engine.Type)
	<-sigChan
	logger.Info("Shutdown signal received, draining handle cache...")

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics endpoint shutdown error: %v", err)
		}
	}
}
