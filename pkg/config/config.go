package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/platinummonkey/gallery/pkg/observability"
	"github.com/platinummonkey/gallery/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Observability ObservabilityConfig
	Auth          AuthConfig
	Pictures      PictureConfig
	Quota         QuotaConfig

	// RoleConfigPath overrides the embedded role document when set
	RoleConfigPath string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// AllowedOrigins lists the origins accepted by the WebSocket handshake.
	// Empty means same-origin only.
	AllowedOrigins []string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
	OTelExportInterval time.Duration
}

// AuthConfig holds identity settings
type AuthConfig struct {
	SessionTTL       time.Duration
	SessionCookie    string
	IdentityCacheTTL time.Duration
	IdentityCacheMax int

	// OIDC is enabled when an issuer is configured
	OIDCIssuerURL string
	OIDCClientID  string
}

// PictureConfig holds upload and cleanup settings
type PictureConfig struct {
	MaxUploadBytes int64

	UploadRateLimit  int64
	UploadRateWindow time.Duration

	CleanupWorkers   int
	CleanupQueueSize int
	CleanupTimeout   time.Duration
}

// QuotaConfig holds reconciler settings
type QuotaConfig struct {
	ReconcileSchedule string // cron spec; "off" disables the reconciler
	ReconcileRepair   bool
}

// LoadDotEnv loads variables from path when the file exists. Variables
// already present in the environment win.
func LoadDotEnv(path string) (bool, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		return false, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return true, nil
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:         loadServerConfig(),
		Storage:        loadStorageConfig(),
		Observability:  loadObservabilityConfig(),
		Auth:           loadAuthConfig(),
		Pictures:       loadPictureConfig(),
		Quota:          loadQuotaConfig(),
		RoleConfigPath: getEnv("GALLERY_ROLE_CONFIG_PATH", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GALLERY_HOST", "0.0.0.0"),
		Port:            getEnv("GALLERY_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GALLERY_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("GALLERY_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("GALLERY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GALLERY_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("GALLERY_HEALTH_PORT", "9090"),
		AllowedOrigins:  getEnvList("GALLERY_ALLOWED_ORIGINS"),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	cfg.ObjectStore = getEnv("GALLERY_OBJECT_STORE", cfg.ObjectStore)
	cfg.FilesystemRoot = getEnv("GALLERY_FILESYSTEM_ROOT", cfg.FilesystemRoot)

	cfg.PostgresURL = getEnv("GALLERY_POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresReplicaURLs = getEnv("GALLERY_POSTGRES_REPLICA_URLS", cfg.PostgresReplicaURLs)
	if maxConns := getEnvInt("GALLERY_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("GALLERY_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	cfg.PostgresTimeout = getEnvDuration("GALLERY_POSTGRES_TIMEOUT", cfg.PostgresTimeout)

	cfg.S3Endpoint = getEnv("GALLERY_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("GALLERY_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("GALLERY_S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("GALLERY_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("GALLERY_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("GALLERY_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)

	cfg.RedisURL = getEnv("GALLERY_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("GALLERY_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("GALLERY_REDIS_DB", cfg.RedisDB)
	if retries := getEnvInt("GALLERY_REDIS_MAX_RETRIES", 0); retries > 0 {
		cfg.RedisMaxRetries = retries
	}
	if poolSize := getEnvInt("GALLERY_REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.RedisPoolSize = poolSize
	}

	return cfg
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(strings.ToLower(getEnv("GALLERY_LOG_LEVEL", "info"))),
		MetricsEnabled:     getEnvBool("GALLERY_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GALLERY_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GALLERY_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GALLERY_OTEL_SERVICE_NAME", "gallery"),
		OTelServiceVersion: getEnv("GALLERY_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GALLERY_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GALLERY_OTEL_SAMPLE_RATIO", 1),
		OTelExportInterval: getEnvDuration("GALLERY_OTEL_EXPORT_INTERVAL", 10*time.Second),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		SessionTTL:       getEnvDuration("GALLERY_SESSION_TTL", 7*24*time.Hour),
		SessionCookie:    getEnv("GALLERY_SESSION_COOKIE", "gallery_session"),
		IdentityCacheTTL: getEnvDuration("GALLERY_IDENTITY_CACHE_TTL", time.Minute),
		IdentityCacheMax: getEnvInt("GALLERY_IDENTITY_CACHE_SIZE", 10000),
		OIDCIssuerURL:    getEnv("GALLERY_OIDC_ISSUER_URL", ""),
		OIDCClientID:     getEnv("GALLERY_OIDC_CLIENT_ID", ""),
	}
}

func loadPictureConfig() PictureConfig {
	return PictureConfig{
		MaxUploadBytes:   getEnvInt64("GALLERY_MAX_UPLOAD_BYTES", 20*1024*1024),
		UploadRateLimit:  getEnvInt64("GALLERY_UPLOAD_RATE_LIMIT", 30),
		UploadRateWindow: getEnvDuration("GALLERY_UPLOAD_RATE_WINDOW", time.Minute),
		CleanupWorkers:   getEnvInt("GALLERY_CLEANUP_WORKERS", 4),
		CleanupQueueSize: getEnvInt("GALLERY_CLEANUP_QUEUE_SIZE", 256),
		CleanupTimeout:   getEnvDuration("GALLERY_CLEANUP_TIMEOUT", 30*time.Second),
	}
}

func loadQuotaConfig() QuotaConfig {
	return QuotaConfig{
		ReconcileSchedule: getEnv("GALLERY_QUOTA_RECONCILE_SCHEDULE", "@every 1h"),
		ReconcileRepair:   getEnvBool("GALLERY_QUOTA_RECONCILE_REPAIR", false),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}

	switch c.Storage.ObjectStore {
	case "filesystem":
		if c.Storage.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem object store")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 object store")
		}
	default:
		return fmt.Errorf("invalid object store: %s (must be filesystem or s3)", c.Storage.ObjectStore)
	}

	if c.Pictures.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}
	if c.Pictures.CleanupWorkers <= 0 {
		return fmt.Errorf("cleanup workers must be positive")
	}

	if c.Auth.OIDCIssuerURL != "" && c.Auth.OIDCClientID == "" {
		return fmt.Errorf("OIDC client ID is required when an issuer is configured")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be within [0, 1]")
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
