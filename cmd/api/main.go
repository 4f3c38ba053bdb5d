package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AyushPandey003/quantcal-auth/internal/auth"
	"github.com/AyushPandey003/quantcal-auth/internal/background"
	"github.com/AyushPandey003/quantcal-auth/internal/config"
	"github.com/AyushPandey003/quantcal-auth/internal/database"
	"github.com/AyushPandey003/quantcal-auth/internal/handlers"
	"github.com/AyushPandey003/quantcal-auth/internal/kv"
	middlewareCustom "github.com/AyushPandey003/quantcal-auth/internal/middleware"
	"github.com/AyushPandey003/quantcal-auth/internal/migrations"
	"github.com/AyushPandey003/quantcal-auth/internal/models"
	"github.com/AyushPandey003/quantcal-auth/internal/repositories"
	"github.com/AyushPandey003/quantcal-auth/internal/routes"
	"github.com/AyushPandey003/quantcal-auth/internal/security"
	"github.com/AyushPandey003/quantcal-auth/internal/services"
	pkgauth "github.com/AyushPandey003/quantcal-auth/pkg/auth"
	pkghttp "github.com/AyushPandey003/quantcal-auth/pkg/http"
	pkglogger "github.com/AyushPandey003/quantcal-auth/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	if cfg.Database.RunMigrations {
		if err := migrations.Run(cfg.Database.DSN(), logger); err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	connectCtx, connectCancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := kv.Connect(connectCtx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	connectCancel()
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	// Repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)

	cleanupManager := background.NewCleanupManager(sessionRepo, logger, cfg.Auth.CleanupInterval)

	// Security services
	auditLogger := pkglogger.NewAuditLogger(logger)
	events := security.NewEventRecorder(store, auditLogger, logger, cfg.Security.EventTTL)

	tracker := security.NewIPReputationTracker(store, security.ReputationConfig{
		FailureThreshold:   cfg.Security.FailureThreshold,
		FailureWindow:      cfg.Security.FailureWindow,
		BlockDuration:      cfg.Security.BlockDuration,
		PermanentThreshold: cfg.Security.PermanentThreshold,
		EscalationMemory:   cfg.Security.EscalationMemory,
	}, events, logger)

	counter := security.NewTrafficCounter(store, security.DefaultQuotas(), logger)

	verifier := security.NewChallengeVerifier(security.CaptchaConfig{
		SiteKey:   cfg.Captcha.SiteKey,
		Secret:    cfg.Captcha.Secret,
		VerifyURL: cfg.Captcha.VerifyURL,
		MinScore:  cfg.Captcha.MinScore,
		Timeout:   cfg.Captcha.Timeout,
	}, nil, logger)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	gate := security.NewGate(tracker, counter, verifier, events, ipConfig, logger)

	// Token manager and auth service
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.Issuer,
		cfg.Auth.Audience,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   100,
		RandomDelayMs: 100,
	})

	authService := services.NewAuthService(
		userRepo, sessionRepo, tracker, tokenManager, timingDelay,
		cfg.Auth.RefreshTokenExpiry, logger, auditLogger,
	)

	// Handlers
	cookies := handlers.CookieSettings{
		Config: auth.CookieConfig{
			Domain:   cfg.Auth.CookieDomain,
			Secure:   cfg.Auth.CookieSecure,
			SameSite: cfg.Auth.CookieSameSite,
		},
		AccessMaxAge:  cfg.Auth.AccessCookieMaxAge,
		RefreshMaxAge: cfg.Auth.RefreshCookieMaxAge,
	}
	authHandler := handlers.NewAuthHandler(authService, ipConfig, cookies)
	userHandler := handlers.NewUserHandler(authService)
	adminHandler := handlers.NewAdminHandler(tracker, events)

	// Bootstrap first admin user if configured
	bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(bootstrapCtx, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	bootstrapCancel()

	// Router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(middlewareCustom.BurstLimitByIP(middlewareCustom.BurstLimitConfig{
		RequestsPerMinute: cfg.Security.BurstPerMinute,
	}))

	routes.RegisterRoutes(router, gate, tokenManager, authHandler, userHandler, adminHandler)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		dbStatus, redisStatus := "up", "up"
		if err := db.HealthCheck(ctx); err != nil {
			dbStatus = "down"
		}
		if err := store.HealthCheck(ctx); err != nil {
			redisStatus = "down"
		}

		status := http.StatusOK
		overall := "healthy"
		if dbStatus == "down" || redisStatus == "down" {
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
		}

		pkghttp.WriteJSON(w, status, map[string]string{
			"status":   overall,
			"database": dbStatus,
			"redis":    redisStatus,
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminUser creates the first admin user if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	_, err = userRepo.Create(ctx, &models.User{
		Email:        adminEmail,
		PasswordHash: hashedPassword,
		Name:         "Admin",
		Role:         models.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created")
	return nil
}
