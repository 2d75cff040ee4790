// Multisnake - lobby server for a networked multiplayer snake game.
//
// Multisnake accepts game clients on a TCP port, runs the login handshake,
// tracks per-player ready flags and broadcasts the game start once every
// player is ready. A REST API, an operator console and MQTT telemetry
// expose the lobby to operators.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"

	"github.com/multisnake-project/multisnake/internal/api"
	"github.com/multisnake-project/multisnake/internal/cli"
	"github.com/multisnake-project/multisnake/internal/config"
	"github.com/multisnake-project/multisnake/internal/events"
	"github.com/multisnake-project/multisnake/internal/health"
	"github.com/multisnake-project/multisnake/internal/lobby"
	"github.com/multisnake-project/multisnake/internal/network"
	"github.com/multisnake-project/multisnake/internal/telemetry"
	"github.com/multisnake-project/multisnake/internal/util"
)

const (
	AppName    = "Multisnake"
	AppVersion = api.Version
	Banner     = `
  __  __       _ _   _                 _
 |  \/  |_   _| | |_(_)___ _ __   __ _| | _____
 | |\/| | | | | | __| / __| '_ \ / _' | |/ / _ \
 | |  | | |_| | | |_| \__ \ | | | (_| |   <  __/
 |_|  |_|\__,_|_|\__|_|___/_| |_|\__,_|_|\_\___|
                                          v%s
 Multiplayer Snake Lobby Server
`
)

var (
	configDir = flag.String("config-dir", config.DefaultConfigDir, "directory containing config.json")
	portFlag  = flag.Int("port", 0, "game port, overrides server.port when set")
	noCLI     = flag.Bool("no-cli", false, "disable the interactive operator console")
	showVer   = flag.Bool("version", false, "print the version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Printf("%s %s\n", AppName, AppVersion)
		return
	}

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Initialize logger with defaults first (will be reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.CloseLogger()

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Multisnake")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *portFlag != 0 {
		server := cfg.GetServer()
		server.Port = *portFlag
		cfg.SetServer(server)
	}

	// Re-initialize logger with config-based settings
	appData := cfg.GetApplicationData()
	logCfg := util.LogConfig{
		Level:      appData.Logging.Level,
		Directory:  appData.Logging.Directory,
		MaxSizeMB:  appData.Logging.MaxSizeMB,
		MaxBackups: appData.Logging.MaxBackups,
		MaxAgeDays: appData.Logging.MaxAgeDays,
		Console:    true,
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
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize core components
	eventBus := events.NewEventBus()
	serverCfg := cfg.GetServer()

	lb := lobby.New(lobby.Options{
		LoginTimeout: serverCfg.LoginTimeout(),
		EventBus:     eventBus,
	})

	reactor, err := network.Open(network.Options{
		Sessions:         lb.NewSession,
		InputBufferSize:  serverCfg.InputBufferSize,
		OutputBufferSize: serverCfg.OutputBufferSize,
		WriteTimeout:     serverCfg.WriteTimeout(),
		EventBus:         eventBus,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create game listener")
	}

	apiServer := api.NewServer(cfg, eventBus, reactor, lb)
	healthMgr := health.NewManager(cfg, eventBus, reactor, lb)

	var mqttHandler *telemetry.MQTTHandler
	if appData.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	// a console quit asks for the same shutdown as a signal
	quitCh := make(chan struct{}, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		select {
		case quitCh <- struct{}{}:
		default:
		}
		return nil
	})

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	// Task 1: game listener (fatal when it cannot bind)
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := serverCfg.Address()
		log.Info().Str("addr", addr).Msg("starting game listener")
		start := func(ctx context.Context) error { return reactor.Start(ctx, addr) }
		if err := startWithRetry(ctx, "game listener", start, 5); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("game listener failed after retries")
			errCh <- fmt.Errorf("game listener: %w", err)
		}
	}()

	// Task 2: REST API server
	if appData.API.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", appData.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	// Task 3: health checks and heartbeat
	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	// Task 4: MQTT telemetry
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

	// Task 5: interactive console. It blocks on stdin, so shutdown does
	// not wait for it.
	if appData.CLI.Enabled && !*noCLI {
		cliHandler := cli.NewCLI(eventBus, reactor, lb)
		go cliHandler.Start(ctx)
	}

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-quitCh:
		log.Info().Msg("shutdown requested from the console")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()
	reactor.Close()

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

	// Stop the event bus last
	eventBus.Stop()

	log.Info().Msg("Multisnake stopped")
}

// startWithRetry attempts to start a listener/server with retry on bind errors.
// Uses a fixed 3-second interval between retries.
// Returns nil on success, or the last error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("start failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
