package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatline-backend/internal/api"
	"chatline-backend/internal/auth"
	"chatline-backend/internal/config"
	"chatline-backend/internal/crypto"
	"chatline-backend/internal/notify"
	"chatline-backend/internal/push"
	"chatline-backend/internal/repository"
	"chatline-backend/internal/service"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// a missing .env is fine when the variables come from the environment (Docker/K8s)
	envErr := godotenv.Load()

	var cfg config.Config
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if envErr != nil {
		sugar.Infow("No .env file loaded, using existing environment", "error", envErr)
	}

	if err := run(&cfg, sugar); err != nil {
		sugar.Fatalw("Server stopped with error", "error", err)
	}
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cfg *config.Config, logger *zap.SugaredLogger) error {
	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelInit()

	store, closeStore, err := openStore(initCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	tokenService, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	key, err := cfg.LocationKeyBytes()
	if err != nil {
		return err
	}
	cipher, err := crypto.NewLocationCipher(key)
	if err != nil {
		return fmt.Errorf("location cipher: %w", err)
	}

	gateway, err := newGateway(initCtx, cfg, logger)
	if err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher(logger, store, gateway, notify.Options{
		MaxInFlight: cfg.PushWorkers,
		Timeout:     cfg.PushTimeout,
	})

	userService := service.NewUserService(logger, store, tokenService, cipher, dispatcher, service.UserOptions{
		NearbyRadiusKm:     cfg.NearbyRadiusKm,
		MinPasswordEntropy: cfg.MinPasswordEntropy,
	})
	messageService := service.NewMessageService(logger, store, dispatcher)

	handler := api.NewHandler(logger, userService, messageService, tokenService, cfg.AllowedOrigins)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infow("Server started", "addr", srv.Addr, "storage", cfg.StorageDriver, "push", cfg.PushEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("listen: %w", err)
	case sig := <-quit:
		logger.Infow("Shutdown signal received", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	// in-flight notifications are bounded by PUSH_TIMEOUT
	dispatcher.Wait()
	logger.Info("Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (repository.Store, func(), error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		logger.Warn("Using in-memory storage, data is lost on restart")
		return repository.NewInMemoryStore(), func() {}, nil
	}

	store, err := repository.NewPostgresStore(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("Connected to PostgreSQL")

	migrationSQL, err := os.ReadFile(cfg.MigrationsPath)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("read migration file: %w", err)
	}
	if err := store.RunMigrations(ctx, string(migrationSQL)); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Infow("Database migrations applied", "path", cfg.MigrationsPath)

	return store, store.Close, nil
}

func newGateway(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (push.Gateway, error) {
	if !cfg.PushEnabled() {
		logger.Warn("Firebase not configured, push notifications will only be logged")
		return push.NewLogGateway(logger), nil
	}

	gateway, err := push.NewFCMGateway(ctx, logger, cfg.FirebaseCredentialsFile, cfg.FirebaseProjectID, cfg.PushClickAction)
	if err != nil {
		return nil, fmt.Errorf("firebase messaging: %w", err)
	}
	return gateway, nil
}
