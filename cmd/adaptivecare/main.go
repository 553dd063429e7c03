package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/krishx06/SKAG-MedTech/internal/api"
	"github.com/krishx06/SKAG-MedTech/internal/audit"
	"github.com/krishx06/SKAG-MedTech/internal/decision"
	"github.com/krishx06/SKAG-MedTech/internal/explain"
	"github.com/krishx06/SKAG-MedTech/internal/notification"
	"github.com/krishx06/SKAG-MedTech/internal/pipeline"
	"github.com/krishx06/SKAG-MedTech/internal/shared/config"
	"github.com/krishx06/SKAG-MedTech/internal/shared/events"
	"github.com/krishx06/SKAG-MedTech/internal/shared/metrics"
	secmiddleware "github.com/krishx06/SKAG-MedTech/internal/shared/middleware"
	"github.com/krishx06/SKAG-MedTech/internal/simulation"
	"github.com/krishx06/SKAG-MedTech/internal/state"
)

// App holds all application dependencies
type App struct {
	Config        *config.Config
	Logger        *zap.Logger
	Bus           *events.Bus
	Store         *state.Store
	Coordinator   *pipeline.Coordinator
	Notifications *notification.Dispatcher
	Audit         *audit.Trail
	Hub           *api.Hub
	Simulator     *simulation.Simulator
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log, cfg.Server.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	app := &App{Config: cfg, Logger: logger}

	// Event bus and shared state
	app.Bus = events.NewBus(
		events.WithHistoryCapacity(cfg.Bus.HistoryCapacity),
		events.WithLogger(logger),
	)
	defer app.Bus.Stop()

	app.Store = state.NewStore(state.WithHistoryWindow(cfg.Decision.HistoryWindow))

	// Decision engine
	weights := decision.Weights{
		Risk:     cfg.Weights.Risk,
		Capacity: cfg.Weights.Capacity,
		WaitTime: cfg.Weights.WaitTime,
		Resource: cfg.Weights.Resource,
	}
	thresholds := decision.Thresholds{
		Escalate:      cfg.Decision.EscalateThreshold,
		Observe:       cfg.Decision.ObserveThreshold,
		LowCapacity:   cfg.Decision.LowCapacityThreshold,
		MinConfidence: cfg.Decision.ConfidenceThreshold,
	}
	calculator := decision.NewCalculator(weights, logger)
	estimator := decision.NewEstimator(time.Duration(cfg.Decision.MaxDataAgeMinutes)*time.Minute, thresholds)
	arbiter := decision.NewArbiter(thresholds)

	// Explanation service (rule-based fallback when disabled or unreachable)
	explainer := explain.New(explain.Config{
		BaseURL:       cfg.Explain.URL,
		Enabled:       cfg.Explain.Enabled,
		Timeout:       time.Duration(cfg.Explain.TimeoutSeconds) * time.Second,
		RetryAttempts: 2,
		RetryDelay:    500 * time.Millisecond,
	}, logger)
	if cfg.Explain.Enabled {
		logger.Info("explanation service enabled", zap.String("url", cfg.Explain.URL))
	} else {
		logger.Info("explanation service disabled, using rule-based fallback")
	}

	// Pipeline coordinator wires producers to the decision engine
	app.Coordinator = pipeline.NewCoordinator(
		pipeline.Config{
			Debounce:      time.Duration(cfg.Pipeline.DebounceSeconds) * time.Second,
			MinConfidence: cfg.Decision.ConfidenceThreshold,
		},
		app.Bus, app.Store, calculator, estimator, arbiter, explainer, logger,
	)
	app.Coordinator.Subscribe()

	// Staff notifications
	notifyConfig := notification.DefaultConfig()
	notifyConfig.MinConfidence = cfg.Decision.ConfidenceThreshold
	app.Notifications = notification.NewDispatcher(notifyConfig, app.Bus, app.Store, map[notification.Channel]notification.Provider{
		notification.ChannelPager: notification.NewLogProvider(notification.ChannelPager, logger),
		notification.ChannelInApp: notification.NewLogProvider(notification.ChannelInApp, logger),
	}, logger)
	app.Notifications.Subscribe()
	if err := app.Notifications.Start(ctx); err != nil {
		logger.Warn("notification dispatcher failed to start", zap.Error(err))
	} else {
		defer app.Notifications.Stop()
	}

	// Audit trail
	app.Audit = audit.NewTrail()
	audit.NewSubscriber(app.Audit, app.Bus).Subscribe()

	// Websocket feed for dashboards
	app.Hub = api.NewHub(app.Bus, logger)
	app.Hub.Subscribe()
	defer app.Hub.Close()

	// Simulator drives synthetic producer traffic (demo/training)
	if cfg.Simulator.Enabled {
		app.Simulator = simulation.New(simulation.Config{
			Enabled:         true,
			TickInterval:    time.Duration(cfg.Simulator.TickSeconds) * time.Second,
			InitialPatients: cfg.Simulator.InitialPatients,
			Seed:            cfg.Simulator.Seed,
		}, app.Bus, app.Store, logger)
		if err := app.Simulator.Start(ctx); err != nil {
			logger.Warn("simulator failed to start", zap.Error(err))
		} else {
			logger.Info("simulator started",
				zap.Int("initial_patients", cfg.Simulator.InitialPatients),
				zap.Int("tick_seconds", cfg.Simulator.TickSeconds))
			defer app.Simulator.Stop()
		}
	}

	handler := api.NewHandler(app.Store, app.Coordinator, app.Bus, app.Hub, cfg.Auth)
	handler.AttachNotifications(app.Notifications)
	handler.AttachAudit(audit.NewHandler(app.Audit))

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(secmiddleware.RequestLogger(logger))
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig()))
	r.Use(secmiddleware.BodyLimit(1 << 20))

	limiter := secmiddleware.NewIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	r.Use(limiter.Middleware)

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())

	// API info
	r.Get("/", infoHandler)

	// API routes
	r.Mount("/api/v1", handler.Routes())

	// Live decision feed
	r.Get("/ws", app.Hub.ServeWS)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		close(done)
	}()

	logger.Info("adaptivecare server starting",
		zap.String("env", cfg.Server.Env),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("simulator", cfg.Simulator.Enabled))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	logger.Info("server stopped")
}

func newLogger(cfg config.LogConfig, env string) (*zap.Logger, error) {
	var zc zap.Config
	if env == "production" && cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	if lvl, err := zap.ParseAtomicLevel(cfg.Level); err == nil {
		zc.Level = lvl
	}
	return zc.Build()
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "AdaptiveCare Escalation Pipeline",
		"version": "0.1.0",
		"docs":    "/api/v1",
		"feed":    "/ws",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.Bus.Stats().Running {
			checks["bus"] = "ready"
		} else {
			checks["bus"] = "not ready: stopped"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}
