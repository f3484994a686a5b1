package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Store engines.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMySQL    = "mysql"
	StoreMongoDB  = "mongodb"
)

// Cache types.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server ServerConfig
	App    AppConfig
	SWAPI  SWAPIConfig
	Store  StoreConfig
	Cache  CacheConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"20m"` // admin ingest runs synchronously
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"0"` // 0 disables the scheduler
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"swapi-archive"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	AdminKey    string `envconfig:"ADMIN_KEY" default:""` // empty leaves admin routes open
}

// SWAPIConfig holds upstream API and ingestion settings.
type SWAPIConfig struct {
	BaseURL               string        `envconfig:"SWAPI_BASE_URL" default:"https://www.swapi.tech/api/people"`
	RequestTimeout        time.Duration `envconfig:"SWAPI_REQUEST_TIMEOUT" default:"60s"`
	MaxRetries            int           `envconfig:"SWAPI_MAX_RETRIES" default:"3"`
	RetryDelay            time.Duration `envconfig:"SWAPI_RETRY_DELAY" default:"5s"`
	MaxConcurrentRequests int           `envconfig:"SWAPI_MAX_CONCURRENT_REQUESTS" default:"10"`
	RunTimeout            time.Duration `envconfig:"SWAPI_RUN_TIMEOUT" default:"15m"` // 0 disables
}

// StoreConfig holds snapshot store settings.
type StoreConfig struct {
	Type string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite, postgres, mysql or mongodb
	Path string `envconfig:"STORE_PATH" default:"./data/starwars.db"`
	// PostgreSQL and MySQL settings
	Host     string `envconfig:"STORE_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_PORT" default:"0"` // 0 picks the engine default
	Name     string `envconfig:"STORE_NAME" default:"starwars"`
	User     string `envconfig:"STORE_USER" default:"postgres"`
	Password string `envconfig:"STORE_PASS" default:""`
	SSLMode  string `envconfig:"STORE_SSLMODE" default:"disable"`
	// MongoDB settings
	MongoURI        string `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017/?replicaSet=rs0"`
	MongoDatabase   string `envconfig:"MONGODB_DATABASE" default:"starwars"`
	MongoCollection string `envconfig:"MONGODB_COLLECTION" default:"characters"`
}

// CacheConfig holds label cache settings.
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"`
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"1h"`

	RedisHost      string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort      int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	RedisKeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"swapi:labels"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

func (s *StoreConfig) port(fallback int) int {
	if s.Port > 0 {
		return s.Port
	}
	return fallback
}

// PostgresDSN returns the PostgreSQL connection string.
func (s *StoreConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.port(5432), s.Name, s.SSLMode)
}

// MySQLDSN returns the MySQL data source name.
func (s *StoreConfig) MySQLDSN() string {
	cfg := mysql.NewConfig()
	cfg.User = s.User
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(s.Host, strconv.Itoa(s.port(3306)))
	cfg.DBName = s.Name
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreSQLite, StorePostgres, StoreMySQL, StoreMongoDB:
	default:
		return fmt.Errorf("unknown STORE_TYPE %q", c.Store.Type)
	}
	switch c.Cache.Type {
	case CacheMemory, CacheRedis, CacheNone:
	default:
		return fmt.Errorf("unknown CACHE_TYPE %q", c.Cache.Type)
	}
	if c.SWAPI.BaseURL == "" {
		return fmt.Errorf("SWAPI_BASE_URL must not be empty")
	}
	if c.SWAPI.MaxConcurrentRequests < 1 {
		return fmt.Errorf("SWAPI_MAX_CONCURRENT_REQUESTS must be at least 1")
	}
	if c.SWAPI.MaxRetries < 1 {
		return fmt.Errorf("SWAPI_MAX_RETRIES must be at least 1")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
