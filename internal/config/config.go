package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Auth       AuthConfig
	Classifier ClassifierConfig
	Storage    StorageConfig
	Cloudinary CloudinaryConfig
	Cache      CacheConfig
	Events     EventsConfig
	Logging    LoggingConfig
	Scoring    ScoringConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            string
	Host            string
	Environment     string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	AllowedOrigins  []string
	ScanRateLimit   int
	ScanRateWindow  time.Duration
}

// DatabaseConfig holds persistence configuration. Provider "memory" keeps
// everything in process and is meant for local development only.
type DatabaseConfig struct {
	Provider            string
	URL                 string
	MaxOpenConns        int
	MaxIdleConns        int
	ConnMaxLifetime     time.Duration
	ConnMaxIdleTime     time.Duration
	SlowQueryThreshold  time.Duration
	HealthCheckInterval time.Duration
	MigrationsPath      string
}

// AuthConfig holds the settings used to verify bearer tokens issued by the
// hosted auth provider.
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

// ClassifierConfig configures the external inference endpoint
type ClassifierConfig struct {
	URL        string
	Timeout    time.Duration
	MaxRetries int
}

// StorageConfig selects where scan images are stored
type StorageConfig struct {
	Provider  string // cloudinary, local
	LocalDir  string
	PublicURL string
}

// CloudinaryConfig holds Cloudinary configuration
type CloudinaryConfig struct {
	CloudName     string
	APIKey        string
	APISecret     string
	Folder        string
	UploadTimeout time.Duration
	MaxRetries    int
}

// CacheConfig holds display cache configuration
type CacheConfig struct {
	Provider      string // memory, redis
	TTL           time.Duration
	MaxKeys       int
	RedisURL      string
	RedisPassword string
	RedisDB       int
	PoolSize      int
}

// EventsConfig configures the optional AMQP sink for domain events
type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// ScoringConfig holds knobs of the scan recorder
type ScoringConfig struct {
	MaxConflictRetries int
}

// Load reads configuration from the environment, loading a .env file first
// outside production.
func Load() (*Config, error) {
	env := getEnv("GO_ENV", "development")
	if env != "production" {
		envFile := fmt.Sprintf(".env.%s", env)
		if _, err := os.Stat(envFile); err == nil {
			_ = godotenv.Load(envFile)
		} else {
			_ = godotenv.Load()
		}
	}

	config := &Config{
		Server:     loadServerConfig(env),
		Database:   loadDatabaseConfig(env),
		Auth:       loadAuthConfig(),
		Classifier: loadClassifierConfig(),
		Storage:    loadStorageConfig(),
		Cloudinary: loadCloudinaryConfig(),
		Cache:      loadCacheConfig(),
		Events:     loadEventsConfig(),
		Logging:    loadLoggingConfig(env),
		Scoring:    loadScoringConfig(),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func loadServerConfig(env string) ServerConfig {
	return ServerConfig{
		Port:            getEnv("PORT", "9000"),
		Host:            getEnv("HOST", "0.0.0.0"),
		Environment:     env,
		ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getDurationEnv("SERVER_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxUploadBytes:  getInt64Env("MAX_UPLOAD_BYTES", 10*1024*1024),
		AllowedOrigins:  getListEnv("CORS_ALLOWED_ORIGINS", "*"),
		ScanRateLimit:   getIntEnv("SCAN_RATE_LIMIT", 30),
		ScanRateWindow:  getDurationEnv("SCAN_RATE_WINDOW", time.Minute),
	}
}

func loadDatabaseConfig(env string) DatabaseConfig {
	cfg := DatabaseConfig{
		Provider:            getEnv("DATABASE_PROVIDER", "postgres"),
		URL:                 getEnv("DATABASE_URL", ""),
		MaxOpenConns:        getIntEnv("DB_MAX_OPEN_CONNS", 0),
		MaxIdleConns:        getIntEnv("DB_MAX_IDLE_CONNS", 0),
		ConnMaxLifetime:     getDurationEnv("DB_CONN_MAX_LIFETIME", 0),
		ConnMaxIdleTime:     getDurationEnv("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		SlowQueryThreshold:  getDurationEnv("DB_SLOW_QUERY_THRESHOLD", 0),
		HealthCheckInterval: getDurationEnv("DB_HEALTH_CHECK_INTERVAL", 30*time.Second),
		MigrationsPath:      getEnv("MIGRATIONS_PATH", ""),
	}
	optimizeDatabaseForEnvironment(&cfg, env)
	return cfg
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", ""),
		JWTAudience: getEnv("JWT_AUDIENCE", "authenticated"),
	}
}

func loadClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		URL:        getEnv("CLASSIFIER_URL", "http://127.0.0.1:8000/predict"),
		Timeout:    getDurationEnv("CLASSIFIER_TIMEOUT", 15*time.Second),
		MaxRetries: getIntEnv("CLASSIFIER_MAX_RETRIES", 2),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Provider:  getEnv("STORAGE_PROVIDER", "cloudinary"),
		LocalDir:  getEnv("STORAGE_LOCAL_DIR", "./uploads"),
		PublicURL: getEnv("STORAGE_PUBLIC_URL", "http://localhost:9000/uploads"),
	}
}

func loadCloudinaryConfig() CloudinaryConfig {
	return CloudinaryConfig{
		CloudName:     getEnv("CLOUDINARY_CLOUD_NAME", ""),
		APIKey:        getEnv("CLOUDINARY_API_KEY", ""),
		APISecret:     getEnv("CLOUDINARY_API_SECRET", ""),
		Folder:        getEnv("CLOUDINARY_FOLDER", "recycloai/scans"),
		UploadTimeout: getDurationEnv("CLOUDINARY_UPLOAD_TIMEOUT", 30*time.Second),
		MaxRetries:    getIntEnv("CLOUDINARY_MAX_RETRIES", 3),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Provider:      getEnv("CACHE_PROVIDER", "memory"),
		TTL:           getDurationEnv("CACHE_TTL", 5*time.Minute),
		MaxKeys:       getIntEnv("CACHE_MAX_KEYS", 10000),
		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		PoolSize:      getIntEnv("REDIS_POOL_SIZE", 10),
	}
}

func loadEventsConfig() EventsConfig {
	return EventsConfig{
		AMQPURL:  getEnv("AMQP_URL", ""),
		Exchange: getEnv("AMQP_EXCHANGE", "recycloai.events"),
	}
}

func loadLoggingConfig(env string) LoggingConfig {
	return LoggingConfig{
		Level:  getEnv("LOG_LEVEL", getDefaultLogLevel(env)),
		Format: getEnv("LOG_FORMAT", getDefaultLogFormat(env)),
	}
}

func loadScoringConfig() ScoringConfig {
	return ScoringConfig{
		MaxConflictRetries: getIntEnv("SCAN_MAX_CONFLICT_RETRIES", 3),
	}
}

func optimizeDatabaseForEnvironment(cfg *DatabaseConfig, env string) {
	switch env {
	case "production":
		if cfg.MaxOpenConns == 0 {
			cfg.MaxOpenConns = 50
		}
		if cfg.MaxIdleConns == 0 {
			cfg.MaxIdleConns = 20
		}
		if cfg.ConnMaxLifetime == 0 {
			cfg.ConnMaxLifetime = 15 * time.Minute
		}
		if cfg.SlowQueryThreshold == 0 {
			cfg.SlowQueryThreshold = 200 * time.Millisecond
		}
	default:
		if cfg.MaxOpenConns == 0 {
			cfg.MaxOpenConns = 10
		}
		if cfg.MaxIdleConns == 0 {
			cfg.MaxIdleConns = 5
		}
		if cfg.ConnMaxLifetime == 0 {
			cfg.ConnMaxLifetime = 5 * time.Minute
		}
		if cfg.SlowQueryThreshold == 0 {
			cfg.SlowQueryThreshold = 100 * time.Millisecond
		}
	}

	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}
}

// Validate checks the configuration for missing or inconsistent values
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	if err := c.Auth.Validate(c.Server.Environment); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	if c.Classifier.URL == "" {
		return fmt.Errorf("classifier config: CLASSIFIER_URL is required")
	}
	switch c.Storage.Provider {
	case "cloudinary":
		if c.Cloudinary.CloudName == "" || c.Cloudinary.APIKey == "" || c.Cloudinary.APISecret == "" {
			return fmt.Errorf("storage config: cloudinary credentials are missing")
		}
	case "local":
	default:
		return fmt.Errorf("storage config: unsupported provider %q", c.Storage.Provider)
	}
	switch c.Cache.Provider {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache config: unsupported provider %q", c.Cache.Provider)
	}
	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if port, err := strconv.Atoi(s.Port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid PORT: %s", s.Port)
	}
	if s.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}

// Validate validates database configuration
func (d *DatabaseConfig) Validate() error {
	switch d.Provider {
	case "memory":
		return nil
	case "postgres":
		if d.URL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	default:
		return fmt.Errorf("unsupported provider %q", d.Provider)
	}
	if d.MaxOpenConns <= 0 {
		return fmt.Errorf("DB_MAX_OPEN_CONNS must be positive")
	}
	return nil
}

// Validate validates auth configuration
func (a *AuthConfig) Validate(env string) error {
	if a.JWTSecret == "" && env == "production" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if a.JWTSecret != "" && len(a.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// IsDevelopment reports whether the service runs in development
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getListEnv(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getDefaultLogLevel(env string) string {
	switch env {
	case "production":
		return "info"
	default:
		return "debug"
	}
}

func getDefaultLogFormat(env string) string {
	switch env {
	case "production":
		return "json"
	default:
		return "console"
	}
}
