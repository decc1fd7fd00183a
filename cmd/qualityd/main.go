package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callpulse/internal/core/services"
	httphandlers "callpulse/internal/handlers/http"
	"callpulse/internal/infrastructure/distributed"
	"callpulse/internal/infrastructure/middleware"
	"callpulse/internal/infrastructure/monitoring"
	signalinfra "callpulse/internal/infrastructure/signal"
	"callpulse/pkg/config"
	"callpulse/pkg/logger"
	"callpulse/pkg/tracing"
	"callpulse/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

var defaultConfigPaths = []string{
	"configs/config.yaml",
	"./configs/config.yaml",
	"/etc/callpulse/config.yaml",
	"config.yaml",
}

var baseFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "path to the YAML configuration file",
		EnvVars: []string{"CALLPULSE_CONFIG"},
	},
	&cli.StringFlag{
		Name:  "log-level",
		Usage: "overrides logging.level",
	},
}

func main() {
	app := &cli.App{
		Name:        "qualityd",
		Usage:       "call quality monitoring and adaptation service",
		Description: "run without subcommands to start the server",
		Flags:       baseFlags,
		Action:      startServer,
		Commands: []*cli.Command{
			{
				Name:   "probe",
				Usage:  "monitor a local loopback WebRTC connection and print quality reports",
				Action: runProbe,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "duration",
						Usage: "how long to monitor",
						Value: 10 * time.Second,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := loadConfig(c.String("config"), defaultConfigPaths)
	if err != nil {
		return nil, err
	}
	return applyFlags(c, cfg), nil
}

// loadConfig loads the explicit path, which must exist, or else the first
// default location that exists. An existing file that fails to load is an
// error. Defaults apply only when no candidate file exists.
func loadConfig(explicit string, paths []string) (*config.Config, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return nil, fmt.Errorf("config file %s: %w", explicit, err)
		}
		return config.Load(explicit)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func applyFlags(c *cli.Context, cfg *config.Config) *config.Config {
	if level := c.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg
}

func startServer(c *cli.Context) error {
	startTime := time.Now()

	cfg, err := getConfig(c)
	if err != nil {
		return err
	}

	zapLogger, err := logger.New(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(cfg.TracingOptions())
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				log.Warnw("error shutting down tracer provider", "error", err)
			}
		}()
	}

	sessions, err := services.NewSessionService(cfg.EngineOptions(), cfg.Sessions.MaxSessions, log.Named("sessions"))
	if err != nil {
		return fmt.Errorf("failed to create session service: %w", err)
	}

	checker := monitoring.NewHealthChecker()
	checker.AddSessionCapacityCheck(func() int { return sessions.Stats().Active }, cfg.Sessions.MaxSessions)

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		registry := prometheus.NewRegistry()
		collector := monitoring.NewPrometheusCollector(registry, cfg.Monitoring.SessionLabels)
		sessions.OnSessionCreated(collector.Attach)
		sessions.OnSessionClosed(collector.Detach)
		gatherer = registry
		log.Info("Prometheus metrics enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Address},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		checker.AddRedisCheck(redisClient, 2*time.Second)

		bus := distributed.NewEventBus(redisClient, cfg.Redis.Channel, utils.GenerateInstanceID(), log.Named("events"))
		sessions.OnSessionCreated(bus.Attach)
		sessions.OnSessionClosed(bus.Detach)
		go func() {
			err := bus.Subscribe(ctx, func(ev *distributed.Event) error {
				log.Debugw("remote quality event",
					"type", ev.Type,
					"instance_id", ev.InstanceID,
					"session_id", ev.SessionID,
				)
				return nil
			})
			if err != nil && ctx.Err() == nil {
				log.Errorw("event subscription stopped", "error", err)
			}
		}()
		log.Infow("distributed events enabled", "address", cfg.Redis.Address, "channel", cfg.Redis.Channel)
	}

	wsServer := signalinfra.NewWebSocketServer(sessions, cfg, log.Named("signal"))
	sessions.OnSessionClosed(wsServer.Detach)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	httphandlers.NewQualityHandler(sessions).SetupRoutes(router)
	httphandlers.NewHealthHandler(checker, sessions, gatherer).SetupRoutes(router)
	router.GET(cfg.Signal.Path, gin.WrapF(wsServer.HandleWebSocket))

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting CallPulse server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("Server failed", "error", err)
		return err
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down CallPulse server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	// stops every engine and runs the close hooks while redis is still up
	sessions.Clear()
	cancel()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Errorw("Error closing redis client", "error", err)
		}
	}

	log.Infow("CallPulse server stopped", "uptime", time.Since(startTime).Round(time.Second).String())
	return nil
}
