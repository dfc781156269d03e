package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ember-project/ember/internal/api"
	"github.com/ember-project/ember/internal/cli"
	"github.com/ember-project/ember/internal/config"
	"github.com/ember-project/ember/internal/db"
	"github.com/ember-project/ember/internal/engine"
	"github.com/ember-project/ember/internal/events"
	"github.com/ember-project/ember/internal/health"
	"github.com/ember-project/ember/internal/network"
	"github.com/ember-project/ember/internal/scheduler"
	"github.com/ember-project/ember/internal/telemetry"
	"github.com/ember-project/ember/internal/util"
	"github.com/ember-project/ember/internal/world"
)

// loadConfig reads the config file and applies the flag overrides. The
// overrides are not written back.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	srv := cfg.GetServer()
	if opts.host != "" {
		srv.Host = opts.host
	}
	if opts.port != 0 {
		srv.Port = opts.port
	}
	if opts.cycleMS != 0 {
		srv.CycleRateMS = opts.cycleMS
	}
	cfg.SetServer(srv)
	return cfg, nil
}

func run(cmd *cobra.Command, opts *options) error {
	fmt.Fprintf(cmd.OutOrStdout(), Banner, AppVersion)
	fmt.Fprintln(cmd.OutOrStdout())

	// Defaults until the config says otherwise.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Ember")

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app := cfg.GetApplicationData()
	logCfg := util.LogConfig{
		Level:      app.Logging.Level,
		Directory:  app.Logging.Directory,
		MaxSizeMB:  app.Logging.MaxSizeMB,
		MaxBackups: app.Logging.MaxBackups,
		MaxAgeDays: app.Logging.MaxAgeDays,
		Compress:   true,
		Console:    app.Logging.Console,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return errors.New("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	// Storage
	if err := util.EnsureDir(filepath.Dir(app.Storage.Path)); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	database, err := db.NewDatabase(app.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open player database: %w", err)
	}
	defer database.Close()

	store, err := db.NewPlayerStore(database, app.Storage.BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to prepare player store: %w", err)
	}
	if n, err := store.Count(); err == nil {
		log.Info().Int("accounts", n).Str("path", app.Storage.Path).Msg("player database ready")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		cancel()
		return nil
	})

	// World and cycle
	srv := cfg.GetServer()
	w := world.New(world.Config{
		WorldID:        srv.WorldID,
		MaxPlayers:     srv.MaxPlayers,
		WelcomeMessage: srv.WelcomeMessage,
	})
	eng := engine.New(engine.Config{
		CycleRate:         srv.CycleRate(),
		IdleTimeout:       srv.IdleTimeout(),
		MaxUnknownOpcodes: srv.MaxUnknownOpcodes,
		AlreadyOnlineCode: byte(srv.RejectCodes.AlreadyOnline),
		WorldFullCode:     byte(srv.RejectCodes.WorldFull),
	}, w, store, eventBus)

	tcpListener := network.NewTCPListener(cfg, eventBus, store, eng)
	conns := tcpListener.Registry()

	apiServer := api.NewServer(cfg, eventBus, eng, conns)
	healthMgr := health.NewManager(cfg, eventBus, eng, conns)
	sched := scheduler.NewScheduler(cfg, eventBus, eng, tcpListener)

	var mqttHandler *telemetry.MQTTHandler
	if app.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
			mqttHandler = nil
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// The cycle. It returns after logging every player out.
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		log.Info().Dur("cycle", srv.CycleRate()).Msg("starting world cycle")
		if err := eng.Run(ctx); err != nil {
			errCh <- fmt.Errorf("engine: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Int("port", srv.Port).Msg("starting game listener")
		if err := startWithRetry(ctx, "game listener", tcpListener.Start, 5); err != nil {
			log.Error().Err(err).Msg("game listener failed after retries")
			errCh <- fmt.Errorf("game listener: %w", err)
		}
	}()

	if app.API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", app.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting health check manager")
		healthMgr.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Monitor().Start(ctx, time.Minute)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Msg("starting task scheduler")
		sched.Start(ctx)
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// The console blocks on stdin, so it is not waited for.
	if !opts.noConsole {
		console := cli.NewCLI(cfg, eventBus, eng, conns, os.Stdin, os.Stdout)
		go console.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
		runErr = err
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	// Logouts are flushed by the engine before the sockets go.
	<-engineDone
	if err := tcpListener.Stop(); err != nil {
		log.Debug().Err(err).Msg("listener close")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	eventBus.Stop()
	log.Info().Msg("Ember stopped")
	return runErr
}

// startWithRetry attempts to start a listener or server, retrying bind
// errors every three seconds.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
