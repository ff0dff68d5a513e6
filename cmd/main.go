package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"relativebrightness/internal/api"
	"relativebrightness/internal/config"
	"relativebrightness/internal/ha"
	"relativebrightness/internal/lightgroup"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	defaultConfigDir = "./configs"
	defaultAPIPort   = 8081
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	haURL := os.Getenv("HA_URL")
	haToken := os.Getenv("HA_TOKEN")
	readOnly := os.Getenv("READ_ONLY") == "true"

	if haURL == "" || haToken == "" {
		logger.Fatal("HA_URL and HA_TOKEN environment variables must be set")
	}

	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = defaultConfigDir
	}

	apiPort := defaultAPIPort
	if raw := os.Getenv("API_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			logger.Fatal("Invalid API_PORT", zap.String("value", raw))
		}
		apiPort = port
	}

	logger.Info("Starting relative brightness light groups",
		zap.String("url", haURL),
		zap.String("config_dir", configDir),
		zap.Int("api_port", apiPort),
		zap.Bool("read_only", readOnly))

	loader := config.NewLoader(configDir, logger)
	if err := loader.LoadAll(); err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Create HA client
	client := ha.NewClient(haURL, haToken, logger)

	// Connect to Home Assistant
	if err := client.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	defer client.Disconnect()

	manager := lightgroup.NewManager(client, loader.GetLightGroups(), logger, readOnly)
	if err := manager.Start(); err != nil {
		logger.Fatal("Failed to start light group manager", zap.Error(err))
	}

	server := api.NewServer(manager, logger, apiPort)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}

	if readOnly {
		logger.Info("Running in READ-ONLY mode - no changes will be made to Home Assistant")
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Application running. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-sigChan

	logger.Info("Shutting down gracefully...")

	if err := server.Stop(); err != nil {
		logger.Error("Failed to stop API server", zap.Error(err))
	}
	if err := manager.Stop(); err != nil {
		logger.Error("Failed to stop light group manager", zap.Error(err))
	}
}
