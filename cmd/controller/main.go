package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robodog/simcontroller/domain/diagnostic"
	"github.com/robodog/simcontroller/domain/simulation"
	"github.com/robodog/simcontroller/domain/teleop"
	"github.com/robodog/simcontroller/pkg/api"
	"github.com/robodog/simcontroller/pkg/config"
	customlog "github.com/robodog/simcontroller/pkg/log"
	"github.com/robodog/simcontroller/pkg/mqttbridge"
	"github.com/robodog/simcontroller/pkg/processing"
	"github.com/robodog/simcontroller/pkg/statecache"
	"github.com/robodog/simcontroller/pkg/zeromq"
	"github.com/robodog/simcontroller/services"
)

func main() {
	configDir := flag.String("config-dir", "./config", "directory containing controller_config.yaml")
	envFile := flag.String("env-file", ".env", "optional .env file with environment overrides")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	bootstrap, err := config.LoadBootstrapConfig(*configDir)
	if err != nil {
		log.Fatalf("FATAL: Failed to load bootstrap configuration: %v", err)
	}

	logger, err := customlog.NewRotatingLogger(bootstrap.Logging.Level, bootstrap.Logging.LogPath, customlog.Rotation{
		MaxSizeMB:  bootstrap.Logging.MaxSizeMB,
		MaxBackups: bootstrap.Logging.MaxBackups,
		MaxAgeDays: bootstrap.Logging.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	logger.Infof("Starting RoboDog simulation controller (config dir %s)", *configDir)

	// Operational configuration
	configService, err := services.NewRobotConfigService(bootstrap.RobotConfigPath(), logger)
	if err != nil {
		logger.Fatalf("Failed to create robot config service: %v", err)
	}
	robotConfig := configService.GetCurrentConfig()
	if robotConfig == nil {
		logger.Fatalf("No operational configuration available at %s", bootstrap.RobotConfigPath())
	}
	robotID := robotConfig.RobotID
	if id, ok := config.RobotIDOverride(); ok {
		robotID = id
	}

	// Outbound pipeline
	topicRegistry := processing.NewTopicRegistry(logger)
	topicRegistry.LoadFromConfig(robotConfig)

	publishers := processing.NewMultiPublisher()
	messageDirector := processing.NewMessageDirector(logger, topicRegistry, &processing.DirectorOptions{
		DefaultQueueSize: bootstrap.Processing.QueueSize,
	})
	messageDirector.SetProcessor(processing.NewEventEncoder(logger, topicRegistry).CreateProcessorFunc())
	messageDirector.SetResultHandler(processing.NewLoggingResultHandler(logger, publishers).CreateHandlerFunc())
	messageDirector.Initialize(
		bootstrap.Processing.HighPriorityWorkers,
		bootstrap.Processing.StandardPriorityWorkers,
		bootstrap.Processing.LowPriorityWorkers,
	)

	// Simulation session
	engine := simulation.NewEngine(engineOptions(bootstrap.Engine, logger))
	teleopService := teleop.NewTeleopService(engine, robotID, logger)
	teleopService.SetRouter(messageDirector)

	// ZeroMQ link
	zmqService, err := zeromq.NewZeroMQService(bootstrap.ZeroMQ, logger)
	if err != nil {
		logger.Fatalf("Failed to create ZeroMQ service: %v", err)
	}
	configService.SetPublisher(zeromq.RegisterConfigHandlers(zmqService, configService, logger))
	zeromq.RegisterCommandHandler(zmqService, teleopService.SubmitCommand, logger)
	publishers.Add("zeromq", zmqService)

	// MQTT bridge
	var bridge *mqttbridge.Bridge
	if bootstrap.MQTT.Broker != "" {
		bridge = mqttbridge.New(mqttbridge.OptionsFromConfig(bootstrap.MQTT, robotID), logger)
		bridge.LoadTopics(robotConfig)
		bridge.SetCommandHandler(teleopService.SubmitCommand)
		if err := bridge.Start(); err != nil {
			logger.Warnf("MQTT bridge disabled: %v", err)
			bridge = nil
		} else {
			publishers.Add("mqtt", bridge)
		}
	}

	// Latest-state cache
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var cache *statecache.Cache
	cacheDone := make(chan struct{})
	if bootstrap.Redis.Address != "" {
		cache = statecache.New(statecache.NewRedisStore(bootstrap.Redis), robotID,
			time.Duration(bootstrap.Redis.TTLSeconds)*time.Second, logger)
		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		err := cache.Ping(pingCtx)
		pingCancel()
		if err != nil {
			logger.Warnf("State cache disabled: %v", err)
			cache.Close()
			cache = nil
		} else {
			teleopService.AddListener(teleop.ListenerFuncs{
				Connection: cache.ObserveConnection,
				Telemetry:  cache.ObserveTelemetry,
			})
			go func() {
				defer close(cacheDone)
				cache.Run(ctx)
			}()
			logger.Infof("State cache writing to Redis at %s", bootstrap.Redis.Address)
		}
	}

	// Dashboard socket, alerts and diagnostics
	hub := api.NewControlHub(teleopService, 0, logger)
	teleopService.AddListener(hub)

	alertMonitor := diagnostic.NewAlertMonitor(robotID, robotConfig.Alerts, logger)
	alertMonitor.SetRouter(messageDirector)
	alertMonitor.AddSink(hub)
	teleopService.AddListener(alertMonitor)

	diagnosticService := diagnostic.NewDiagnosticService(robotID, engine, alertMonitor, logger)
	diagnosticService.SetPoolSource(messageDirector)
	diagnosticService.SetTopicSource(topicRegistry)
	diagnosticService.SetDashboardSource(hub)
	zeromq.RegisterStatusHandler(zmqService, func() interface{} {
		return diagnosticService.GetMetrics()
	}, logger)

	configService.OnUpdate(func(cfg *config.Config) {
		topicRegistry.LoadFromConfig(cfg)
		alertMonitor.ApplyConfig(cfg.Alerts)
		if bridge != nil {
			bridge.LoadTopics(cfg)
		}
	})

	messageDirector.Start()
	if err := zmqService.Start(); err != nil {
		logger.Fatalf("Failed to start ZeroMQ service: %v", err)
	}

	// HTTP server
	app := api.NewServer(api.ServerOptions{
		AppName:    "RoboDog Simulation Controller",
		RobotID:    robotID,
		RequestLog: true,
	})
	teleopService.RegisterRoutes(app)
	hub.RegisterRoutes(app)
	api.RegisterConfigRoutes(app, configService, logger)
	diagnosticService.RegisterRoutes(app)
	if cache != nil {
		api.RegisterCacheRoutes(app, cache, logger)
	}

	if bootstrap.Engine.AutoConnect {
		teleopService.Connect()
	}

	go func() {
		addr := fmt.Sprintf(":%d", bootstrap.Server.HTTPPort)
		logger.Infof("Server starting on %s", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Set up graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("Shutting down controller...")

	teleopService.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	messageDirector.Stop()
	if bridge != nil {
		bridge.Stop()
	}
	zmqService.Stop()

	cancel()
	if cache != nil {
		<-cacheDone
		if err := cache.Close(); err != nil {
			logger.Warnf("Failed to close Redis client: %v", err)
		}
	}

	logger.Infof("Controller exited properly")
}

// engineOptions maps the bootstrap engine section onto simulation options.
// Unset fields keep the simulation defaults.
func engineOptions(cfg config.EngineConfig, logger customlog.Logger) simulation.Options {
	opts := simulation.DefaultOptions()
	if cfg.TickPeriodMs > 0 {
		opts.TickPeriod = time.Duration(cfg.TickPeriodMs) * time.Millisecond
	}
	if cfg.HandshakeDelayMs > 0 {
		opts.HandshakeDelay = time.Duration(cfg.HandshakeDelayMs) * time.Millisecond
	}
	if cfg.AckDelayMs > 0 {
		opts.AckDelay = time.Duration(cfg.AckDelayMs) * time.Millisecond
	}
	if cfg.BaseSpeed > 0 {
		opts.BaseSpeed = cfg.BaseSpeed
	}
	if cfg.JitterAmplitude > 0 {
		opts.JitterAmplitude = cfg.JitterAmplitude
	}
	if cfg.Seed != 0 {
		opts.Rand = rand.New(rand.NewSource(cfg.Seed))
	}
	opts.Logger = logger.WithField("component", "engine")
	return opts
}
