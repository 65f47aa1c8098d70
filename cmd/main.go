/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	"github.com/chazu/ordinal/pkg/graph"
	"github.com/chazu/ordinal/pkg/lifecycle"
	"github.com/chazu/ordinal/pkg/manifest"
	"github.com/chazu/ordinal/pkg/metrics"
	"github.com/chazu/ordinal/pkg/snapshot"
)

// Output formats
const (
	outputOrder    = "order"
	outputDOT      = "dot"
	outputSnapshot = "snapshot"
)

// Config holds the command-line configuration
type Config struct {
	ManifestPath string
	Embedded     string
	GitRef       string
	OCIRef       string
	CacheDir     string
	PlainHTTP    bool
	ListEmbedded bool
	Output       string
	Ticks        int
	MetricsAddr  string
	Development  bool
}

// parseFlags parses command-line flags and returns configuration
func parseFlags() Config {
	cfg := Config{}
	flag.StringVar(&cfg.ManifestPath, "manifest", "", "Path to a registration manifest (.cue, .yaml, .yml or .json).")
	flag.StringVar(&cfg.Embedded, "embedded", "", "Name of a bundled manifest to load instead of -manifest.")
	flag.StringVar(&cfg.GitRef, "git", "",
		"Git manifest reference, e.g. https://github.com/org/repo?ref=v1.0.0&path=manifests/app.cue.")
	flag.StringVar(&cfg.OCIRef, "oci", "", "OCI manifest artifact reference, e.g. ghcr.io/org/app:v1.")
	flag.StringVar(&cfg.CacheDir, "cache-dir", "", "Directory for caching git and oci manifests. Empty disables caching.")
	flag.BoolVar(&cfg.PlainHTTP, "plain-http", false, "Talk to OCI registries over plain HTTP.")
	flag.BoolVar(&cfg.ListEmbedded, "list", false, "List the bundled manifests and exit.")
	flag.StringVar(&cfg.Output, "output", outputOrder, "Output format: order, dot or snapshot.")
	flag.IntVar(&cfg.Ticks, "ticks", 0, "Number of lifecycle passes to run over the replayed container.")
	flag.StringVar(&cfg.MetricsAddr, "metrics-bind-address", "0", "The address the metrics endpoint binds to. "+
		"Leave as 0 to disable the metrics endpoint; otherwise the process serves metrics until interrupted.")
	flag.BoolVar(&cfg.Development, "zap-devel", false, "Use zap's development logger.")
	flag.Parse()
	return cfg
}

// newLogger builds the zap-backed logr logger
func newLogger(development bool) (logr.Logger, func(), error) {
	var (
		zl  *zap.Logger
		err error
	)
	if development {
		zl, err = zap.NewDevelopment()
	} else {
		zl, err = zap.NewProduction()
	}
	if err != nil {
		return logr.Discard(), func() {}, err
	}
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}

// credentialsFromEnv reads registry and Git credentials from the environment
func credentialsFromEnv() *manifest.Credentials {
	creds := &manifest.Credentials{
		Username: os.Getenv("ORDINAL_USERNAME"),
		Password: os.Getenv("ORDINAL_PASSWORD"),
		Token:    os.Getenv("ORDINAL_TOKEN"),
	}
	if creds.Username == "" && creds.Token == "" {
		return nil
	}
	return creds
}

// loadManifest resolves the manifest named by the configuration
func loadManifest(ctx context.Context, loader *manifest.Loader, cfg Config) (*manifest.Manifest, error) {
	set := 0
	for _, value := range []string{cfg.ManifestPath, cfg.Embedded, cfg.GitRef, cfg.OCIRef} {
		if value != "" {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("exactly one of -manifest, -embedded, -git or -oci is required")
	}

	switch {
	case cfg.ManifestPath != "":
		return loader.LoadFile(ctx, cfg.ManifestPath)
	case cfg.Embedded != "":
		return loader.LoadEmbedded(ctx, cfg.Embedded)
	case cfg.GitRef != "":
		return loader.LoadGit(ctx, cfg.GitRef)
	default:
		return loader.LoadOCI(ctx, cfg.OCIRef)
	}
}

// runTicks drives lifecycle passes over the container
func runTicks(ctx context.Context, c *graph.Container[string, manifest.Component], ticks int) error {
	config := lifecycle.DefaultFleetConfig()
	config.Walker.Observer = metrics.NewRecorder()
	fleet := lifecycle.NewFleet[string, manifest.Component](config)
	if err := fleet.Register(c); err != nil {
		return err
	}

	logger := logr.FromContextOrDiscard(ctx)
	for i := 0; i < ticks; i++ {
		states, err := fleet.PassAll(ctx)
		for owner, state := range states {
			summary := state.GetSummary()
			logger.Info("Pass completed", "owner", owner, "tick", fleet.Tick(),
				"done", summary.Done, "failed", summary.Failed, "skipped", summary.Skipped)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// writeOutput renders the container in the requested format
func writeOutput(w io.Writer, c *graph.Container[string, manifest.Component], format string) error {
	switch format {
	case outputOrder:
		keys, err := c.OrderedKeys()
		if err != nil {
			return err
		}
		for _, key := range keys {
			if _, err := fmt.Fprintln(w, key); err != nil {
				return err
			}
		}
		return nil
	case outputDOT:
		return c.WriteDOT(w)
	case outputSnapshot:
		s, err := snapshot.Take(c, snapshot.JSON[manifest.Component])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// listEmbedded prints the bundled manifest names
func listEmbedded(w io.Writer) error {
	names, err := manifest.NewEmbeddedFetcher().List()
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := fmt.Fprintln(w, name); err != nil {
			return err
		}
	}
	return nil
}

// serveMetrics serves /metrics until ctx is done
func serveMetrics(ctx context.Context, addr string, logger logr.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Serving metrics", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func run(ctx context.Context, cfg Config, logger logr.Logger) error {
	if cfg.ListEmbedded {
		return listEmbedded(os.Stdout)
	}

	ctx = logr.NewContext(ctx, logger)
	loader, err := manifest.NewLoaderWithConfig(manifest.LoaderConfig{
		CacheDir:    cfg.CacheDir,
		Credentials: credentialsFromEnv(),
		PlainHTTP:   cfg.PlainHTTP,
	})
	if err != nil {
		return fmt.Errorf("unable to create loader: %w", err)
	}

	m, err := loadManifest(ctx, loader, cfg)
	if err != nil {
		return fmt.Errorf("unable to load manifest: %w", err)
	}

	c, err := manifest.Run(ctx, m,
		graph.WithLogger(logger.WithName("container")),
		graph.WithObserver(metrics.NewRecorder()))
	if err != nil {
		return fmt.Errorf("unable to replay manifest %q: %w", m.Name, err)
	}
	logger.Info("Replayed manifest", "name", m.Name, "components", c.Len())

	if cfg.Ticks > 0 {
		if err := runTicks(ctx, c, cfg.Ticks); err != nil {
			return fmt.Errorf("lifecycle pass failed: %w", err)
		}
	}

	if err := writeOutput(os.Stdout, c, cfg.Output); err != nil {
		return err
	}

	if cfg.MetricsAddr != "0" {
		return serveMetrics(ctx, cfg.MetricsAddr, logger)
	}
	return nil
}

func main() {
	cfg := parseFlags()

	logger, flush, err := newLogger(cfg.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to create logger: %v\n", err)
		os.Exit(1)
	}
	defer flush()
	setupLog := logger.WithName("setup")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		setupLog.Error(err, "ordinal failed")
		flush()
		os.Exit(1)
	}
}
