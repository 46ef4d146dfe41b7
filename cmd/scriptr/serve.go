package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	catalogfactory "github.com/loykin/scriptr/internal/catalog/factory"
	"github.com/loykin/scriptr/internal/config"
	"github.com/loykin/scriptr/internal/engine"
	"github.com/loykin/scriptr/internal/journal"
	journalfactory "github.com/loykin/scriptr/internal/journal/factory"
	"github.com/loykin/scriptr/internal/logger"
	"github.com/loykin/scriptr/internal/metrics"
	"github.com/loykin/scriptr/internal/server"
	itls "github.com/loykin/scriptr/internal/tls"
)

type serveFlags struct {
	configPath string
	listen     string
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor daemon with the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "scriptr.toml", "path to TOML config")
	cmd.Flags().StringVar(&f.listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, f serveFlags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.listen != "" {
		cfg.Listen = f.listen
	}

	log := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Color)
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	cat, err := catalogfactory.New(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}

	var sinks []journal.Sink
	for _, dsn := range cfg.Journals {
		sink, err := journalfactory.New(dsn)
		if err != nil {
			_ = cat.Close()
			return fmt.Errorf("open journal %s: %w", dsn, err)
		}
		sinks = append(sinks, sink)
	}

	eng := engine.New(cat, cfg.EngineConfig(), log, sinks...)
	if err := eng.Load(ctx); err != nil {
		return err
	}

	// Seed TOML-declared scripts; entries already in the catalog win.
	seeds, err := cfg.ScriptDefinitions()
	if err != nil {
		return err
	}
	for _, def := range seeds {
		if _, err := eng.AddScript(ctx, def); err != nil {
			log.Debug("seed script skipped", "id", def.ID, "reason", err)
		}
	}

	var srv *http.Server
	if cfg.TLS != nil {
		tc, err := itls.Setup(itls.Config{
			CertFile:     cfg.TLS.CertFile,
			KeyFile:      cfg.TLS.KeyFile,
			AutoGenerate: cfg.TLS.AutoGenerate,
			Dir:          cfg.TLS.Dir,
			CommonName:   cfg.TLS.CommonName,
			DNSNames:     cfg.TLS.DNSNames,
			ValidDays:    cfg.TLS.ValidDays,
		})
		if err != nil {
			return err
		}
		srv, err = server.NewServerTLS(cfg.Listen, "", eng, tc)
		if err != nil {
			return fmt.Errorf("start https server: %w", err)
		}
	} else {
		srv, err = server.NewServer(cfg.Listen, "", eng)
		if err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
	}
	log.Info("daemon listening", "addr", cfg.Listen, "catalog", cfg.Catalog, "tls", cfg.TLS != nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		log.Info("shutting down", "reason", ctx.Err())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn("http shutdown", "error", err)
	}
	return eng.Shutdown(shutdownCtx)
}
