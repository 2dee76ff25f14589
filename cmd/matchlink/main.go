// matchlink - realtime matchmaking client
//
// matchlink connects to a name server, pings the offered regions, moves on
// to the region's master server and from there into game rooms. A local
// REST API and an interactive console drive the client, a SQLite store
// keeps the best region and the disconnect history, and client activity is
// exported as Prometheus metrics and MQTT telemetry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/energizer-project/matchlink/internal/api"
	"github.com/energizer-project/matchlink/internal/cli"
	"github.com/energizer-project/matchlink/internal/config"
	"github.com/energizer-project/matchlink/internal/control"
	"github.com/energizer-project/matchlink/internal/events"
	"github.com/energizer-project/matchlink/internal/metrics"
	"github.com/energizer-project/matchlink/internal/peer"
	"github.com/energizer-project/matchlink/internal/realtime"
	"github.com/energizer-project/matchlink/internal/region"
	"github.com/energizer-project/matchlink/internal/scheduler"
	"github.com/energizer-project/matchlink/internal/store"
	"github.com/energizer-project/matchlink/internal/telemetry"
	"github.com/energizer-project/matchlink/internal/util"
)

const (
	AppName    = "matchlink"
	AppVersion = "1.0.0"
	Banner     = `
                 _       _     _ _       _
 _ __ ___   __ _| |_ ___| |__ | (_)_ __ | | __
| '_ ' _ \ / _' | __/ __| '_ \| | | '_ \| |/ /
| | | | | | (_| | || (__| | | | | | | | |   <
|_| |_| |_|\__,_|\__\___|_| |_|_|_|_| |_|_|\_\
                                        v%s
`
)

func main() {
	configDir := flag.String("config", config.DefaultConfigDir, "configuration directory")
	noConsole := flag.Bool("no-console", false, "disable the interactive console")
	autoConnect := flag.Bool("connect", false, "connect on startup")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", AppName, AppVersion)
		return
	}

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first; reconfigured once the config is loaded.
	logCloser, err := util.InitLogger(util.DefaultLogConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Msg("starting matchlink")

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging := cfg.GetApplicationData().Logging
	logCloser.Close()
	logCloser, err = util.InitLogger(util.LogConfig{
		Level:      logging.Level,
		Directory:  logging.Directory,
		MaxSizeMB:  logging.MaxSizeMB,
		MaxBackups: logging.MaxBackups,
		Console:    true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using console only")
	} else {
		defer logCloser.Close()
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}

		if !cfg.IsFirstRun() {
			log.Fatal().Msg("configuration validation failed, please fix the errors above")
		}
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg); err != nil {
			log.Fatal().Err(err).Msg("setup wizard failed")
		}
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("threads", sysInfo.CPUThreads).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	if err := run(cfg, *noConsole, *autoConnect); err != nil {
		log.Error().Err(err).Msg("matchlink stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("matchlink stopped")
}

func run(cfg *config.Config, noConsole, autoConnect bool) error {
	clientData := cfg.GetClientData()
	appData := cfg.GetApplicationData()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	st, err := store.Open(appData.Storage.Path, appData.Storage.HistoryLimit)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	userID := clientData.UserID
	if userID == "" {
		if userID, err = st.UserID(); err != nil {
			return err
		}
	}

	sessionID := uuid.NewString()
	log.Info().Str("session_id", sessionID).Str("user_id", userID).Msg("session started")

	eventBus := events.NewEventBus()
	defer eventBus.Stop()

	collector := metrics.New()
	collector.Subscribe(eventBus)
	st.Subscribe(eventBus)

	eventBus.Subscribe(events.EventShutdown, "main", func(context.Context, events.Event) error {
		cancel()
		return nil
	})

	proto, err := clientData.TransportProtocol()
	if err != nil {
		return err
	}

	bridge := events.NewBridge(context.Background(), eventBus)
	client := realtime.NewClient(peer.NewWSPeer(proto),
		realtime.WithLogger(util.ComponentLogger("realtime")),
		realtime.WithStateObserver(bridge.StateObserver),
		realtime.WithOperationObserver(bridge.OperationObserver),
		realtime.WithPingerConfig(clientData.PingConfig()),
	)
	defer client.Close()
	bridge.Attach(client)

	runner := realtime.NewRunner(client, clientData.ServiceInterval())
	ctl := control.New(runner, cfg, st, userID)
	ctl.Attach(client)
	ctl.Subscribe(eventBus)

	keepAlive := realtime.NewConnectionHandler(client)
	keepAlive.KeepAliveInBackground = clientData.KeepAliveInBackground()

	// The pump outlives the other tasks so the client can disconnect
	// cleanly on shutdown.
	pumpCtx, stopPump := context.WithCancel(context.Background())
	pumpDone := make(chan error, 1)
	go func() {
		log.Info().Dur("interval", clientData.ServiceInterval()).Msg("starting client pump")
		pumpDone <- runner.Run(pumpCtx)
	}()

	keepAlive.Start(pumpCtx)

	g, gctx := errgroup.WithContext(ctx)

	if appData.API.Enabled {
		apiServer := api.NewServer(cfg, eventBus, ctl)
		apiServer.SetDependencies(collector, api.BuildInfo{Version: AppVersion, SessionID: sessionID})
		g.Go(func() error {
			log.Info().Int("port", appData.API.Port).Msg("starting REST API server")
			return apiServer.Start(gctx)
		})
	}

	if appData.PingResponder.Enabled {
		responder := region.NewResponder(appData.PingResponder.Address)
		if err := responder.Listen(gctx); err != nil {
			log.Warn().Err(err).Msg("ping responder disabled")
		} else {
			g.Go(func() error { return responder.Serve(gctx) })
		}
	}

	if appData.MQTT.Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(cfg, eventBus, telemetry.Identity{
			Version:   AppVersion,
			SessionID: sessionID,
			UserID:    userID,
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			g.Go(func() error {
				log.Info().Msg("starting MQTT telemetry")
				if err := mqttHandler.Start(gctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
				return nil
			})
		}
	}

	sched := scheduler.NewScheduler(cfg, eventBus, ctl)
	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})

	if !noConsole {
		console := cli.NewCLI(cfg, eventBus, ctl, os.Stdin, os.Stdout)
		g.Go(func() error {
			console.Start(gctx)
			return nil
		})
	}

	if autoConnect {
		if err := ctl.Connect(gctx, ""); err != nil {
			log.Warn().Err(err).Msg("automatic connect failed")
		}
	}

	<-gctx.Done()
	log.Info().Msg("initiating graceful shutdown...")

	disconnect(runner, 3*time.Second)
	keepAlive.Stop()
	stopPump()
	<-pumpDone

	eventBus.Emit(context.Background(), events.NewEvent(events.EventShutdown, "main", nil))
	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}
	return nil
}

// disconnect leaves the current server and waits until the client settled,
// so the server sees a clean disconnect.
func disconnect(runner *realtime.Runner, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := runner.Do(ctx, func(c *realtime.Client) {
		if c.IsConnected() {
			c.Disconnect(realtime.DisconnectCauseDisconnectByClientLogic)
		}
	})
	if err != nil {
		log.Debug().Err(err).Msg("skipped disconnect on shutdown")
		return
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		var connected bool
		if err := runner.Do(ctx, func(c *realtime.Client) { connected = c.IsConnected() }); err != nil || !connected {
			return
		}
		select {
		case <-ctx.Done():
			log.Warn().Msg("client did not disconnect in time")
			return
		case <-ticker.C:
		}
	}
}
