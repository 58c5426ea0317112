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
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("chuted v%s\n", version)
	fmt.Println("Emergency parachute release daemon for fixed-wing aircraft")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  chuted [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Companion-computer daemon that decides when to fire an emergency")
	fmt.Println("  parachute. Consumes vehicle telemetry over MQTT, evaluates the")
	fmt.Println("  loss-of-control trigger at a fixed tick rate and drives the release")
	fmt.Println("  actuator (relay or servo) through GPIO. Operators command releases")
	fmt.Println("  and tune CHUTE_ parameters through the IPC socket; ground-station")
	fmt.Println("  bridges follow engine state over a WebSocket.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (optional; defaults apply without it)")
	fmt.Println()
	fmt.Println("  -broker-url string")
	fmt.Println("        MQTT broker URL override (default \"tcp://127.0.0.1:1883\")")
	fmt.Println()
	fmt.Println("  -vehicle-topic string")
	fmt.Println("        MQTT topic carrying vehicle state frames (default \"vehicle/state\")")
	fmt.Println()
	fmt.Println("  -text-topic string")
	fmt.Println("        MQTT topic for outgoing status text (default \"gcs/statustext\")")
	fmt.Println()
	fmt.Println("  -actuator-driver string")
	fmt.Println("        Actuator backend: rpio|none (default \"rpio\")")
	fmt.Println()
	fmt.Println("  -switch-device string")
	fmt.Println("        evdev device for the deploy switch (enables the switch)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/tmp/chuted.sock\")")
	fmt.Println()
	fmt.Println("  -ws-listen string")
	fmt.Println("        State WebSocket listen address (default \"127.0.0.1:3702\")")
	fmt.Println()
	fmt.Println("  -tick-hz int")
	fmt.Printf("        Engine update rate in Hz (default %d)\n", defaultTickHz)
	fmt.Println()
	fmt.Println("  -params-file string")
	fmt.Println("        CHUTE_ parameter persistence file (default \"/var/lib/chuted/params.yaml\")")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start with a config file")
	fmt.Println("  chuted -config /etc/chuted/config.yaml")
	fmt.Println()
	fmt.Println("  # Bench run without hardware, local broker")
	fmt.Println("  chuted -actuator-driver none -params-file /tmp/params.yaml")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - The release stays disabled until CHUTE_ENABLED is set to 1")
	fmt.Println("  - GPIO access requires /dev/gpiomem permissions (gpio group)")
	fmt.Println("  - The deploy switch device needs read access ('input' group)")
	fmt.Println()
}

func main() {
	// Check for version/help early so they work without a valid config.
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath = flag.String("config", "", "Path to YAML config file")

		brokerURL    = flag.String("broker-url", "", "MQTT broker URL override")
		vehicleTopic = flag.String("vehicle-topic", "", "MQTT topic for vehicle state frames")
		textTopic    = flag.String("text-topic", "", "MQTT topic for outgoing status text")

		actuatorDriver = flag.String("actuator-driver", "", "Actuator backend: rpio|none")
		switchDevice   = flag.String("switch-device", "", "evdev device for the deploy switch")

		ipcSocketPath = flag.String("ipc-socket", "", "Unix domain socket path for IPC")
		wsListenAddr  = flag.String("ws-listen", "", "State WebSocket listen address")

		tickHz     = flag.Int("tick-hz", 0, "Engine update rate in Hz")
		paramsFile = flag.String("params-file", "", "CHUTE_ parameter persistence file")

		logLevelStr = flag.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion = flag.Bool("version", false, "Print version and exit")
		showHelp    = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	// Config: defaults, then file, then flag overrides.
	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	overrides := FlagOverrides{}
	if *brokerURL != "" {
		overrides.BrokerURL = brokerURL
	}
	if *vehicleTopic != "" {
		overrides.VehicleTopic = vehicleTopic
	}
	if *textTopic != "" {
		overrides.TextTopic = textTopic
	}
	if *actuatorDriver != "" {
		overrides.ActuatorDriver = actuatorDriver
	}
	if *switchDevice != "" {
		enabled := true
		overrides.SwitchEnabled = &enabled
		overrides.SwitchDevice = switchDevice
	}
	if *ipcSocketPath != "" {
		overrides.IPCSocketPath = ipcSocketPath
	}
	if *wsListenAddr != "" {
		overrides.WSListenAddr = wsListenAddr
	}
	if *tickHz != 0 {
		overrides.TickHz = tickHz
	}
	if *paramsFile != "" {
		overrides.ParamsFile = paramsFile
	}
	if *logLevelStr != "" {
		overrides.LogLevel = logLevelStr
	}
	overrides.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Parameter store (operator CHUTE_ parameters, persisted).
	store, err := NewParamStore(ExpandPath(cfg.Params.File), logger)
	if err != nil {
		logger.Error("failed to load parameter store", "file", cfg.Params.File, "error", err)
		os.Exit(1)
	}

	// Actuator hardware.
	var (
		act    Actuator
		notify Notifier
	)
	switch cfg.Actuator.Driver {
	case "rpio":
		rp, err := newRPIOActuator(cfg.Actuator, logger)
		if err != nil {
			logger.Error("failed to open actuator", "error", err, "tip", "add user to 'gpio' group or use -actuator-driver none")
			os.Exit(1)
		}
		act, notify = rp, rp
	case "none":
		na := &nullActuator{logger: logger}
		act, notify = na, na
	}
	defer act.Close()

	// Central event channel.
	events := make(chan Event, 64)

	// Telemetry link (vehicle frames in, status text out).
	telem := NewTelemetryLink(cfg.Telemetry, events, logger)
	if err := telem.Start(); err != nil {
		logger.Error("failed to start telemetry link", "error", err)
		os.Exit(1)
	}
	defer telem.Stop()

	// State WebSocket server for ground-station bridges.
	broadcasts := make(chan Broadcast, 128)
	wsServer := NewServer(logger, events, ServerConfig{
		Hub: HubConfig{
			SendBuf:      cfg.StateWS.SendBuf,
			BroadcastBuf: cfg.StateWS.BroadcastBuf,
		},
	})
	go wsServer.Hub().Run(ctx)
	go RunBroadcaster(ctx, wsServer.Hub(), broadcasts, logger)

	mux := http.NewServeMux()
	wsServer.Register(mux, cfg.StateWS.Path)
	httpServer := &http.Server{Addr: cfg.StateWS.ListenAddr, Handler: mux}
	go func() {
		logger.Info("state ws listening", "addr", cfg.StateWS.ListenAddr, "path", cfg.StateWS.Path)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("state ws server error", "error", err)
		}
	}()

	// IPC server for chute-ctl and scripts.
	go func() {
		if err := runIPCServer(ctx, cfg.IPC.SocketPath, events, logger); err != nil {
			logger.Error("IPC server error", "error", err)
		}
	}()

	// Physical deploy switch.
	if cfg.Switch.Enabled {
		go func() {
			if err := runDeploySwitch(ctx, cfg.Switch, events, logger); err != nil {
				logger.Error("deploy switch stopped", "error", err)
			}
		}()
	}

	// Engine loop.
	go runDaemon(ctx, events, store, act, notify, telem, broadcasts, cfg.Engine.TickHz, logger)

	logger.Info("chuted started",
		"version", version,
		"broker", cfg.Telemetry.BrokerURL,
		"vehicle_topic", cfg.Telemetry.VehicleTopic,
		"actuator", cfg.Actuator.Driver,
		"ipc", cfg.IPC.SocketPath,
		"tick_hz", cfg.Engine.TickHz,
		"switch_enabled", cfg.Switch.Enabled)

	// Wait for shutdown.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}
