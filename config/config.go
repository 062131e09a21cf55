package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/tailscale/hujson"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ServerConfig contains all of the server settings
type ServerConfig struct {
	ListenAddrIP     string
	ListenAddrPort   string
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string `json:"-"`
	DatabaseDbname   string
	DatabaseSslmode  string
	DocumentPath     string
	ExportPath       string
	Backend          string
	SweepInterval    int
	SessionIdleMins  int
	RenderConfig
}

// RenderConfig stores the tunables handed to each viewer instance.
type RenderConfig struct {
	MaxConcurrency   int
	MaxPagesAlive    int
	PrefetchBuffer   int
	RootMargin       float64
	DevicePixelRatio float64
	PageGap          float64
	ThumbnailWidth   int
	ZoomDelta        float64
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatVal
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	serverConfigLive := ServerConfig{}

	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	// Server configuration
	serverConfigLive.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	serverConfigLive.ListenAddrIP = getEnv("SERVER_ADDR", "")

	// Database configuration
	serverConfigLive.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	serverConfigLive.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	serverConfigLive.DatabasePort = getEnv("DATABASE_PORT", "5432")
	serverConfigLive.DatabaseUser = getEnv("DATABASE_USER", "goview")
	serverConfigLive.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	serverConfigLive.DatabaseDbname = getEnv("DATABASE_NAME", "goview")
	serverConfigLive.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "")

	logger.Info("Database configuration loaded", "type", serverConfigLive.DatabaseType)

	// Document storage configuration
	documentPathRelative := filepath.ToSlash(getEnv("DOCUMENT_PATH", "documents"))
	documentPathAbs, err := filepath.Abs(documentPathRelative)
	if err != nil {
		logger.Error("Failed creating absolute path for document directory", "error", err)
	}
	serverConfigLive.DocumentPath = documentPathAbs

	exportPathRelative := filepath.ToSlash(getEnv("EXPORT_PATH", "exports"))
	exportPathAbs, err := filepath.Abs(exportPathRelative)
	if err != nil {
		logger.Error("Failed creating absolute path for export directory", "error", err)
	}
	serverConfigLive.ExportPath = exportPathAbs

	// Render engine configuration
	serverConfigLive.Backend = getEnv("RENDER_BACKEND", "")
	serverConfigLive.RenderConfig = loadRenderConfig()

	// Session housekeeping
	serverConfigLive.SweepInterval = getEnvInt("SESSION_SWEEP_INTERVAL", 5)
	serverConfigLive.SessionIdleMins = getEnvInt("SESSION_IDLE_MINUTES", 30)

	if err := applyOverrides(&serverConfigLive, getEnv("CONFIG_OVERRIDES", "goview.hujson"), logger); err != nil {
		logger.Warn("Config overrides not applied", "error", err)
	}

	fmt.Println("\n========================================")
	fmt.Println("   goview - Document Viewer Server")
	fmt.Println("========================================")
	fmt.Printf("Server will start on: %s:%s\n", serverConfigLive.ListenAddrIP, serverConfigLive.ListenAddrPort)
	if serverConfigLive.ListenAddrIP == "" {
		fmt.Println("(Listening on all network interfaces)")
	}
	fmt.Printf("Detailed logs: %s\n", getEnv("LOG_FILE", "goview.log"))
	fmt.Println("Initializing...")

	return serverConfigLive, logger
}

// loadRenderConfig reads the render tunables from the environment.
func loadRenderConfig() RenderConfig {
	return RenderConfig{
		MaxConcurrency:   getEnvInt("RENDER_CONCURRENCY", 2),
		MaxPagesAlive:    getEnvInt("RENDER_MAX_PAGES_ALIVE", 10),
		PrefetchBuffer:   getEnvInt("RENDER_PREFETCH_BUFFER", 2),
		RootMargin:       getEnvFloat("RENDER_ROOT_MARGIN", 200),
		DevicePixelRatio: getEnvFloat("RENDER_DEVICE_PIXEL_RATIO", 1),
		PageGap:          getEnvFloat("RENDER_PAGE_GAP", 16),
		ThumbnailWidth:   getEnvInt("RENDER_THUMBNAIL_WIDTH", 160),
		ZoomDelta:        getEnvFloat("RENDER_ZOOM_DELTA", 0.4),
	}
}

// applyOverrides layers an optional hujson file over the env-derived config.
// Comments and trailing commas are allowed, so the file works as an annotated
// local settings file.
func applyOverrides(cfg *ServerConfig, path string, logger *slog.Logger) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	standard, err := hujson.Standardize(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := json.Unmarshal(standard, cfg); err != nil {
		return fmt.Errorf("applying %s: %w", path, err)
	}
	logger.Info("Config overrides applied", "path", path)
	return nil
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "debug")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "file")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "goview.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}
