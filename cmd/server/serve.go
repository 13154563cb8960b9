package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiwibes/kiwibes/internal/auth"
	"github.com/kiwibes/kiwibes/internal/catalog"
	"github.com/kiwibes/kiwibes/internal/config"
	"github.com/kiwibes/kiwibes/internal/datastore"
	"github.com/kiwibes/kiwibes/internal/kerr"
	"github.com/kiwibes/kiwibes/internal/logger"
	"github.com/kiwibes/kiwibes/internal/manager"
	"github.com/kiwibes/kiwibes/internal/metrics"
	"github.com/kiwibes/kiwibes/internal/restapi"
	"github.com/kiwibes/kiwibes/internal/scheduler"
)

// serve validates cfg, wires every component together, and blocks until a
// termination signal arrives. Startup failures exit the process with the
// matching wire error code rather than the generic 1.
func serve(cfg config.Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		fmt.Fprintln(os.Stderr, "invalid configuration:")
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  - %v\n", e)
		}
		os.Exit(int(kerr.CmdlineInvalidFlag))
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.LogLevelName(),
		Format: "json",
		Output: cfg.LogPath(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(int(kerr.CmdlineInvalidFlag))
	}

	cat := catalog.New(log)
	if err := cat.Load(cfg.CatalogPath()); err != nil {
		log.Error("failed to load catalog", err, logger.Field{Key: "path", Value: cfg.CatalogPath()})
		code := kerr.NoDatabaseFile
		var kerrErr *kerr.Error
		if errors.As(err, &kerrErr) {
			code = kerrErr.Code
		}
		os.Exit(int(code))
	}

	data := datastore.New(cfg.DataStoreMaxBytes())

	metricsRegistry := metrics.New()
	data.OnChange(func(currentBytes int64) {
		metricsRegistry.DataStoreBytesUsed.Set(float64(currentBytes))
	})

	authenticator := auth.New(cfg.AuthPath(), log)
	if err := authenticator.Reload(); err != nil {
		log.Warn("initial token load failed, starting with an empty token set",
			logger.Field{Key: "path", Value: cfg.AuthPath()}, logger.Field{Key: "error", Value: err})
	}
	if err := authenticator.Start(); err != nil {
		log.Error("failed to start authenticator watcher", err)
		os.Exit(int(kerr.MainInterrupted))
	}

	mgrMetrics := manager.NewMetrics(metricsRegistry.Registerer)
	mgr := manager.New(cat, log, mgrMetrics)
	mgr.Start()

	sched := scheduler.New(cat, mgr, log)
	sched.Start()

	for _, name := range cat.ListSchedulable() {
		if err := sched.Schedule(name); err != nil {
			log.Error("failed to schedule job at startup", err, logger.Field{Key: "job", Value: name})
		}
	}

	apiCtx := &restapi.Context{
		Catalog:   cat,
		Manager:   mgr,
		Scheduler: sched,
		Data:      data,
		Auth:      authenticator,
		Log:       log,
		Metrics:   metricsRegistry,
	}
	router := restapi.NewRouter(apiCtx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		TLSConfig:    &tls.Config{MinVersion: tls.VersionTLS12},
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("kiwibes server listening",
			logger.Field{Key: "port", Value: cfg.Port}, logger.Field{Key: "home", Value: cfg.Home})
		serverErr <- httpServer.ListenAndServeTLS(cfg.CertPath(), cfg.KeyPath())
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Error("HTTPS server failed", err)
			os.Exit(int(kerr.MainInterrupted))
		}
	case sig := <-sigChan:
		log.Info("received shutdown signal", logger.Field{Key: "signal", Value: sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("error during HTTPS server shutdown", err)
	}

	sched.Stop()
	mgr.Stop()
	authenticator.Stop()

	if err := cat.Save(); err != nil {
		log.Error("failed to persist catalog on shutdown", err)
		os.Exit(int(kerr.JSONParseFail))
	}

	log.Info("kiwibes stopped gracefully")
	return nil
}
