package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bitrise-io/go-swiftclient/compression"
	"github.com/bitrise-io/go-swiftclient/config"
	"github.com/bitrise-io/go-swiftclient/dispatch"
	"github.com/bitrise-io/go-swiftclient/metrics"
	"github.com/bitrise-io/go-swiftclient/objectstore"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type app struct {
	configPath  string
	metricsAddr string
	zstd        bool
	verbose     bool

	logger        log.Logger
	envRepo       env.Repository
	session       *config.Session
	metricsServer *http.Server
}

func newApp() *app {
	return &app{
		logger:  log.NewLogger(),
		envRepo: env.NewRepository(),
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "swiftctl",
		Short:         "Resilient client for Swift compatible object storage.",
		Long:          `swiftctl talks to a Swift compatible object storage through a set of redundant endpoints, retrying transient failures and refreshing expired tokens.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "JSON or YAML config file (default reads SWIFT_* environment variables)")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs, e.g. :9090")
	root.PersistentFlags().BoolVar(&a.zstd, "zstd", false, "compress uploads and decompress downloads with zstd")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newCreateContainerCmd(a),
		newPutCmd(a),
		newGetCmd(a),
		newHeadCmd(a),
		newDeleteCmd(a),
		newCopyCmd(a),
		newListCmd(a),
		newUploadLargeCmd(a),
		newDownloadCmd(a),
		newCleanupCmd(a),
	)
	return root
}

func (a *app) open() error {
	a.logger.EnableDebugLog(a.verbose)

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	sink := dispatch.NewLoggerSink(a.logger)
	if a.metricsAddr != "" {
		registry := prometheus.NewRegistry()
		metricsSink, err := metrics.NewSink(registry)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		sink = dispatch.MultiSink(sink, metricsSink)
		a.serveMetrics(registry)
	}

	session, err := config.Open(cfg, a.logger, sink)
	if err != nil {
		return err
	}
	a.session = session
	return nil
}

func (a *app) loadConfig() (config.Config, error) {
	if a.configPath != "" {
		return config.FromFile(a.configPath)
	}
	return config.FromEnv(a.envRepo)
}

func (a *app) serveMetrics(registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	a.metricsServer = &http.Server{Addr: a.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Errorf("Metrics server: %s", err)
		}
	}()
	a.logger.Debugf("Serving metrics on %s/metrics", a.metricsAddr)
}

func (a *app) close() error {
	var errs []error
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.metricsServer.Shutdown(ctx))
	}
	if a.session != nil {
		errs = append(errs, a.session.Close())
	}
	return errors.Join(errs...)
}

func (a *app) client() *objectstore.Client {
	return a.session.Client
}

func (a *app) compressor() *compression.Compressor {
	return compression.NewCompressor(a.logger, a.envRepo, compression.NewDependencyChecker(a.logger, a.envRepo))
}

// compressToTemp returns path itself unless --zstd is set, otherwise the path
// of a compressed temporary copy. The returned func removes the copy.
func (a *app) compressToTemp(path string) (string, func(), error) {
	if !a.zstd {
		return path, func() {}, nil
	}

	dir, err := os.MkdirTemp("", "swiftctl")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			a.logger.Warnf("Failed to remove %s: %s", dir, err)
		}
	}

	compressed := filepath.Join(dir, filepath.Base(path)+compression.Extension)
	if err := a.compressor().CompressFile(path, compressed); err != nil {
		cleanup()
		return "", nil, err
	}
	return compressed, cleanup, nil
}
