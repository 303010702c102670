package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	internalMiddleware "github.com/lsst-sqre/cachemachine/internal/middleware"
	"github.com/lsst-sqre/cachemachine/internal/cluster"
	"github.com/lsst-sqre/cachemachine/internal/machine"
	"github.com/lsst-sqre/cachemachine/internal/registry"
	"github.com/lsst-sqre/cachemachine/internal/repoman"
	"github.com/lsst-sqre/cachemachine/internal/server"
	"github.com/lsst-sqre/cachemachine/pkg/config"
	"github.com/lsst-sqre/cachemachine/pkg/logging"
)

// CustomValidator wraps the validator
type CustomValidator struct {
	validator *validator.Validate
}

// Validate validates the struct
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}

func main() {
	// Parse flags
	var configPath string
	var kubeconfig string
	var inCluster bool

	flag.StringVar(&configPath, "config-path", "", "Path to configuration file")
	flag.StringVar(&kubeconfig, "kubeconfig", "", "Path to kubeconfig file (optional for out-of-cluster)")
	flag.BoolVar(&inCluster, "in-cluster", false, "Use in-cluster Kubernetes configuration")
	flag.Parse()

	// Load configuration
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Printf("Configuration loaded from %s", configPath)
	}

	// Initialize structured logging
	if err := logging.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	logging.Logger.Info("Structured logging initialized",
		zap.String("level", cfg.Logging.Level),
		zap.String("format", cfg.Logging.Format))

	// Initialize Kubernetes client
	clusterClient, err := cluster.NewClient(inCluster, kubeconfig, cfg.Namespace, cfg.DockerSecretName)
	if err != nil {
		logging.Logger.Fatal("Failed to create Kubernetes client", zap.Error(err))
	}
	logging.Logger.Info("Kubernetes client initialized")

	// Load registry credentials, if mounted
	var creds config.DockerCredentials
	if cfg.DockerConfigPath != "" {
		creds, err = config.LoadDockerCredentials(cfg.DockerConfigPath)
		if err != nil {
			logging.Logger.Fatal("Failed to load docker credentials", zap.Error(err))
		}
	}
	newRegistry := func(ctx context.Context, registryHost, repository string) (registry.Client, error) {
		if user, pass, ok := creds.Lookup(registryHost); ok {
			return registry.NewClientWithBasicAuth(registryHost, repository, user, pass)
		}
		return repoman.DefaultRegistryFactory(ctx, registryHost, repository)
	}

	manager := machine.NewManager()

	// Per-instance ID so clients can detect restarts
	instanceID := uuid.NewString()
	logging.Logger.Info("API instance ID initialized", zap.String("id", instanceID))

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Add validator
	e.Validator = &CustomValidator{validator: validator.New()}

	// Add global middleware (including API ID header)
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(internalMiddleware.APIIDMiddleware(instanceID))

	// Initialize server
	srv := server.New(e, manager, clusterClient, newRegistry, cfg.PollInterval, instanceID)
	logging.Logger.Info("Server initialized")

	// Graceful teardown on SIGINT/SIGTERM
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logging.Logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logging.Logger.Error("Server shutdown failed", zap.Error(err))
		}
		manager.Close()
	}()

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		logging.Logger.Fatal("Server error", zap.Error(err))
	}
}
