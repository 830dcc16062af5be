package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"meetsignal/internal/core/ports"
	"meetsignal/internal/core/services"
	httphandlers "meetsignal/internal/handlers/http"
	"meetsignal/internal/infrastructure/middleware"
	"meetsignal/internal/infrastructure/monitoring"
	"meetsignal/internal/infrastructure/repositories"
	signalws "meetsignal/internal/infrastructure/signal"
	"meetsignal/pkg/config"
	"meetsignal/pkg/logger"
	"meetsignal/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Misconfiguration (including a missing TURN signing key) aborts
		// startup; serving without it would issue unverifiable credentials.
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	sugar := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "meetsignal",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		sugar.Fatalw("failed to initialize tracing", "error", err)
	}

	factory, err := repositories.NewRepositoryFactory(cfg, sugar)
	if err != nil {
		sugar.Fatalw("failed to initialize repositories", "error", err)
	}
	defer factory.Close()

	roomService := services.NewRoomService(factory.CreateRoomRepository(), cfg.Rooms.MaxParticipants)

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.TURN.ICEServers))
	for _, server := range cfg.TURN.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}
	turnService, err := services.NewTurnService(services.TurnConfig{
		SharedSecret: cfg.TURN.SharedSecret,
		TTL:          cfg.TURN.TTL,
		ICEServers:   iceServers,
	}, sugar)
	if err != nil {
		sugar.Fatalw("failed to initialize credential issuer", "error", err)
	}

	var collector *monitoring.PrometheusCollector
	if cfg.Monitoring.PrometheusEnabled {
		collector = monitoring.NewPrometheusCollector()
	}

	wsServer := signalws.NewWebSocketServer(signalws.Config{
		PingInterval:    cfg.Signal.PingInterval,
		CleanupInterval: cfg.Signal.CleanupInterval,
		ClientTimeout:   cfg.Signal.ClientTimeout,
		WriteTimeout:    cfg.Signal.WriteTimeout,
		RemoveGrace:     cfg.Signal.RemoveGrace,
		AllowedOrigins:  cfg.Signal.AllowedOrigins,
		RedirectURL:     cfg.Signal.RedirectURL,
	}, roomService, turnService, collector, sugar)
	wsServer.Start()

	router := setupRouter(cfg, sugar, wsServer, roomService, turnService, collector, factory)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sugar.Infow("starting signaling server",
			"address", cfg.Server.Address,
			"ws_path", cfg.Signal.Path,
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("http server failed", "error", err)
		}
	}()

	var metricsServer *http.Server
	if cfg.Monitoring.PrometheusEnabled {
		metricsServer = &http.Server{
			Addr:    ":" + strconv.Itoa(cfg.Monitoring.PrometheusPort),
			Handler: promhttp.Handler(),
		}
		go func() {
			sugar.Infow("starting metrics server", "port", cfg.Monitoring.PrometheusPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				sugar.Errorw("metrics server failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	sugar.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	wsServer.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("http server shutdown failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			sugar.Errorw("metrics server shutdown failed", "error", err)
		}
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("tracer shutdown failed", "error", err)
	}
}

func setupRouter(
	cfg *config.Config,
	sugar *zap.SugaredLogger,
	wsServer *signalws.WebSocketServer,
	roomService ports.RoomService,
	turnService ports.TurnService,
	collector *monitoring.PrometheusCollector,
	factory *repositories.RepositoryFactory,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(sugar))
	router.Use(middleware.ErrorHandlerMiddleware(sugar))
	router.Use(middleware.RequestLoggingMiddleware(logger.NewContextLogger(sugar.Desugar())))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	router.GET("/health", func(c *gin.Context) {
		if err := factory.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"connections": wsServer.ConnectionCount(),
		})
	})

	var apiMiddlewares []gin.HandlerFunc
	if cfg.Auth.Enabled {
		apiMiddlewares = append(apiMiddlewares, middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	}

	httphandlers.NewTurnHandler(turnService, collector).SetupRoutes(router, apiMiddlewares...)
	httphandlers.NewRoomHandler(roomService).SetupRoutes(router, apiMiddlewares...)

	router.GET(cfg.Signal.Path, func(c *gin.Context) {
		wsServer.HandleWebSocket(c.Writer, c.Request)
	})

	return router
}
