// Package config loads process configuration from the environment via
// envconfig, matching the teacher's struct-of-structs shape exactly.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	MinIO    MinIOConfig
	RabbitMQ RabbitMQConfig
	Redis    RedisConfig
	Upstream UpstreamConfig
	Origins  OriginsConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Port            int           `envconfig:"API_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
}

// WorkerConfig configures the background-task consumer binary (cmd/worker)
// that durably executes the revalidate/write tasks C7 and C9 publish.
type WorkerConfig struct {
	MaxRetries      int           `envconfig:"WORKER_MAX_RETRIES" default:"3"`
	ShutdownTimeout time.Duration `envconfig:"WORKER_SHUTDOWN_TIMEOUT" default:"30s"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"edgevid"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"edgevid"`
	DBName   string `envconfig:"POSTGRES_DB" default:"edgevid"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// MinIOConfig configures the C7 Variant Store's object-storage backend.
type MinIOConfig struct {
	Endpoint       string `envconfig:"MINIO_ENDPOINT" default:"localhost:9000"`
	PublicEndpoint string `envconfig:"MINIO_PUBLIC_ENDPOINT" default:""`
	AccessKey      string `envconfig:"MINIO_ACCESS_KEY" default:"minioadmin"`
	SecretKey      string `envconfig:"MINIO_SECRET_KEY" default:"minioadmin"`
	Bucket         string `envconfig:"MINIO_BUCKET" default:"video-transformations"`
	UseSSL         bool   `envconfig:"MINIO_USE_SSL" default:"false"`
}

type RabbitMQConfig struct {
	Host     string `envconfig:"RABBITMQ_HOST" default:"localhost"`
	Port     int    `envconfig:"RABBITMQ_PORT" default:"5672"`
	User     string `envconfig:"RABBITMQ_USER" default:"edgevid"`
	Password string `envconfig:"RABBITMQ_PASSWORD" default:"edgevid"`
	VHost    string `envconfig:"RABBITMQ_VHOST" default:"/"`
}

func (c RabbitMQConfig) URL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}

// RedisConfig backs C5 (presign cache), C6 (edge HTTP cache), and C8
// (version service) — three small key/TTL stores sharing one instance.
type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UpstreamConfig names the media-transformation endpoint the Transform
// URL Builder (C3) targets, and the timeout every upstream/fallback fetch
// carries (§5 "implementation-bounded timeout").
type UpstreamConfig struct {
	Scheme         string        `envconfig:"UPSTREAM_SCHEME" default:"https"`
	Host           string        `envconfig:"UPSTREAM_HOST" default:"transform.edgevid.internal"`
	BasePath       string        `envconfig:"UPSTREAM_BASE_PATH" default:"/cdn-cgi/media"`
	RequestTimeout time.Duration `envconfig:"UPSTREAM_REQUEST_TIMEOUT" default:"15s"`
}

// OriginsConfig points at the PathPattern/Origin/Source/AuthConfig
// document (§1 "only the resolved configuration shape is specified" —
// schema validation of this document is out of scope, only its shape).
type OriginsConfig struct {
	ConfigPath string `envconfig:"ORIGINS_CONFIG_PATH" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
