// Package main is the entry point for the AIforBharat gateway.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chauhanaman41/AIforBharat-sub001/pkg/api"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/config"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/engine"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/flow"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/idempotency"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/orchestrator"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/services"
	"github.com/chauhanaman41/AIforBharat-sub001/pkg/storage"
)

var (
	// Command-line flags
	configPath = flag.String("config", "", "Path to config file")
	version    = flag.Bool("version", false, "Print version information")
)

// Version information
const (
	AppVersion = "0.1.0"
	AppName    = "aiforbharat-gateway"
)

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	app, err := NewApp(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	// Handle graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error)
	go func() {
		errCh <- app.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Application failed: %v", err)
		}
	case <-stop:
		log.Println("Shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(ctx); err != nil {
			log.Fatalf("Error during shutdown: %v", err)
		}
	}
}

// loadConfig loads the configuration from the specified path or creates a default one
func loadConfig() (*config.Config, error) {
	var cfg *config.Config

	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", *configPath, err)
		}
	} else {
		locations := []string{
			"./config.json",
			"./configs/config.json",
			filepath.Join(os.Getenv("HOME"), ".aiforbharat", "config.json"),
			"/etc/aiforbharat/config.json",
		}

		for _, path := range locations {
			if loadedCfg, err := config.LoadConfig(path); err == nil {
				cfg = loadedCfg
				break
			}
		}

		if cfg == nil {
			cfg = config.DefaultConfig()

			defaultPath := filepath.Join(os.Getenv("HOME"), ".aiforbharat", "config.json")
			if err := config.SaveConfig(cfg, defaultPath); err != nil {
				return nil, fmt.Errorf("failed to save default config: %w", err)
			}

			fmt.Printf("Created default configuration at %s\n", defaultPath)
		}
	}

	// Generate a random JWT secret if not set
	if cfg.Auth.JWTSecret == "" {
		secret, err := generateRandomKey(32)
		if err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.Auth.JWTSecret = secret
	}

	return cfg, nil
}

// generateRandomKey generates a random key of the specified length
func generateRandomKey(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// App represents the gateway application
type App struct {
	config          *config.Config
	server          *api.Server
	storageProvider storage.StorageProvider
	prober          *engine.Prober
	orchestrator    *orchestrator.Orchestrator
	guardCloser     func()
}

// NewApp creates a new application instance
func NewApp(cfg *config.Config) (*App, error) {
	// Storage
	storageProvider, err := storage.NewProviderFromConfig(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage provider: %w", err)
	}
	if err := storageProvider.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Printf("Using %s storage provider", cfg.Storage.Type)

	// Engine registry and health probing
	registry := engine.NewRegistry(cfg.Engines.DownAfterFailures)
	for _, eng := range engine.DefaultCatalog(cfg.Engines.BaseHost, cfg.Engines.Overrides) {
		if err := registry.Register(eng); err != nil {
			return nil, fmt.Errorf("failed to register engine: %w", err)
		}
	}
	log.Printf("Registered %d engines", len(registry.Engines()))

	prober := engine.NewProber(registry, cfg.Engines.ProbeSchedule,
		time.Duration(cfg.Engines.ProbeTimeoutSeconds)*time.Second)

	// Flow definitions
	flows := flow.NewStore()
	if err := flows.RegisterBuiltins(); err != nil {
		return nil, fmt.Errorf("failed to register built-in flows: %w", err)
	}

	// Orchestrator
	client := engine.NewHTTPClient(time.Duration(cfg.Engines.CallTimeoutSeconds) * time.Second)
	pool := orchestrator.NewPool(cfg.Orchestrator.WorkerPoolSize)
	orch := orchestrator.New(flows, registry, client, pool, orchestrator.Options{
		MaxAttempts:        cfg.Orchestrator.MaxAttempts,
		RetryBackoff:       time.Duration(cfg.Orchestrator.RetryBackoffMS) * time.Millisecond,
		DefaultStepTimeout: time.Duration(cfg.Engines.CallTimeoutSeconds) * time.Second,
		Retention:          time.Duration(cfg.Orchestrator.ExecutionRetentionHours) * time.Hour,
	})

	// Idempotency guard
	var guard idempotency.Guard
	var guardCloser func()
	switch cfg.Idempotency.Backend {
	case "redis":
		redisGuard, err := idempotency.NewRedisGuardFromURL(context.Background(),
			cfg.Idempotency.RedisURL,
			time.Duration(cfg.Idempotency.RetentionHours)*time.Hour)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis idempotency guard: %w", err)
		}
		guard = redisGuard
		guardCloser = func() { redisGuard.Close() }
		log.Println("Using redis idempotency guard")
	default:
		memGuard := idempotency.NewMemoryGuard(time.Duration(cfg.Idempotency.RetentionHours) * time.Hour)
		guard = memGuard
		guardCloser = memGuard.Close
		log.Println("Using in-memory idempotency guard")
	}

	// Services
	accountService := services.NewAccountService(storageProvider.GetAccountStore())
	jwtService := services.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiration)

	server := api.NewServer(cfg, flows, orch, registry, prober, accountService, jwtService, guard, storageProvider.GetExecutionStore())

	return &App{
		config:          cfg,
		server:          server,
		storageProvider: storageProvider,
		prober:          prober,
		orchestrator:    orch,
		guardCloser:     guardCloser,
	}, nil
}

// Start starts the application
func (a *App) Start() error {
	fmt.Printf("Starting %s version %s\n", AppName, AppVersion)

	if err := a.prober.Start(); err != nil {
		return err
	}

	return a.server.Start()
}

// Stop stops the application gracefully
func (a *App) Stop(ctx context.Context) error {
	a.prober.Stop()

	if err := a.server.Stop(ctx); err != nil {
		return err
	}

	a.orchestrator.Close()
	if a.guardCloser != nil {
		a.guardCloser()
	}

	if err := a.storageProvider.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}

	return nil
}
