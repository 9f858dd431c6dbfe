package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      App       `yaml:"app"`
	Server   Server    `yaml:"server"`
	MinIO    MinIO     `yaml:"minio"`
	Postgres Postgres  `yaml:"postgres"`
	Queue    *RabbitMQ `yaml:"rabbitmq"`
	Broker   Broker    `yaml:"broker"`
	Agent    Agent     `yaml:"agent"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
	Workers  int    `yaml:"workers"`
}

type MinIO struct {
	Url             string `yaml:"url"`
	AccessId        string `yaml:"access_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	Secure          bool   `yaml:"secure"`
	PublicUrl       string `yaml:"public_url"`
}

type Postgres struct {
	Dsn      string `yaml:"dsn"`
	LogLevel string `yaml:"log_level"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
	Enabled      bool   `json:"enabled"`
}

// Broker configures the presigned upload endpoints.
type Broker struct {
	GrantExpiry time.Duration `yaml:"grant_expiry"`
	JwtSecret   string        `yaml:"jwt_secret"`
}

// Agent configures the capture device side.
type Agent struct {
	DataDir           string        `yaml:"data_dir"`
	ThumbnailDir      string        `yaml:"thumbnail_dir"`
	BrokerUrl         string        `yaml:"broker_url"`
	Token             string        `yaml:"token"`
	CoachId           string        `yaml:"coach_id"`
	OrganizationId    string        `yaml:"organization_id"`
	FfmpegPath        string        `yaml:"ffmpeg_path"`
	ThumbnailOffset   time.Duration `yaml:"thumbnail_offset"`
	UploadConcurrency int           `yaml:"upload_concurrency"`
	Retry             Retry         `yaml:"retry"`
}

type Retry struct {
	MaxAttempts     uint          `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

var (
	ErrMissingDatabase = errors.New("postgresql_host is required")
	ErrMissingStorage  = errors.New("minio url, credentials and bucket are required")
	ErrMissingSecret   = errors.New("broker.jwt_secret is required")
	ErrMissingBroker   = errors.New("agent.broker_url and agent.token are required")
	ErrMissingIdentity = errors.New("agent.coach_id and agent.organization_id are required")
)

// Load reads config.yaml from path when present. Every key can be overridden
// from the environment, with dots replaced by underscores.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return &Config{
		App: App{
			Environment: v.GetString("app.environment"),
			Host:        v.GetString("app.host"),
			Protocol:    v.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: v.GetString("server.port"),
			Workers:  v.GetInt("server.workers"),
		},
		MinIO: MinIO{
			Url:             v.GetString("minio.url"),
			AccessId:        v.GetString("minio.access_id"),
			SecretAccessKey: v.GetString("minio.secret_access_key"),
			Bucket:          v.GetString("minio.bucket"),
			Secure:          v.GetBool("minio.secure"),
			PublicUrl:       v.GetString("minio.public_url"),
		},
		Postgres: Postgres{
			Dsn:      v.GetString("postgresql_host"),
			LogLevel: v.GetString("postgresql_log_level"),
		},
		Queue: &RabbitMQ{
			Host:         v.GetString("rabbitmq_host"),
			Port:         v.GetInt("rabbitmq_port"),
			User:         v.GetString("rabbitmq_user"),
			Pass:         v.GetString("rabbitmq_pass"),
			ExchangeName: v.GetString("rabbitmq_exchange"),
			Kind:         v.GetString("rabbitmq_kind"),
			Enabled:      v.GetBool("rabbitmq_enabled"),
		},
		Broker: Broker{
			GrantExpiry: v.GetDuration("broker.grant_expiry"),
			JwtSecret:   v.GetString("broker.jwt_secret"),
		},
		Agent: Agent{
			DataDir:           v.GetString("agent.data_dir"),
			ThumbnailDir:      v.GetString("agent.thumbnail_dir"),
			BrokerUrl:         v.GetString("agent.broker_url"),
			Token:             v.GetString("agent.token"),
			CoachId:           v.GetString("agent.coach_id"),
			OrganizationId:    v.GetString("agent.organization_id"),
			FfmpegPath:        v.GetString("agent.ffmpeg_path"),
			ThumbnailOffset:   v.GetDuration("agent.thumbnail_offset"),
			UploadConcurrency: v.GetInt("agent.upload_concurrency"),
			Retry: Retry{
				MaxAttempts:     v.GetUint("agent.retry.max_attempts"),
				InitialInterval: v.GetDuration("agent.retry.initial_interval"),
				MaxInterval:     v.GetDuration("agent.retry.max_interval"),
			},
		},
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "develop")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.workers", 4)
	v.SetDefault("postgresql_log_level", "warn")
	v.SetDefault("rabbitmq_port", 5672)
	v.SetDefault("rabbitmq_exchange", "capture_exchange")
	v.SetDefault("rabbitmq_kind", "direct")
	v.SetDefault("broker.grant_expiry", "15m")
	v.SetDefault("agent.data_dir", "./data")
	v.SetDefault("agent.thumbnail_dir", "./data/thumbnails")
	v.SetDefault("agent.ffmpeg_path", "ffmpeg")
	v.SetDefault("agent.thumbnail_offset", "500ms")
	v.SetDefault("agent.upload_concurrency", 1)
	v.SetDefault("agent.retry.max_attempts", 3)
	v.SetDefault("agent.retry.initial_interval", "1s")
	v.SetDefault("agent.retry.max_interval", "30s")
}

// ValidateServer checks what the broker and verification consumer need.
func (c *Config) ValidateServer() error {
	var errs []error
	if c.Postgres.Dsn == "" {
		errs = append(errs, ErrMissingDatabase)
	}
	if c.MinIO.Url == "" || c.MinIO.AccessId == "" || c.MinIO.SecretAccessKey == "" || c.MinIO.Bucket == "" {
		errs = append(errs, ErrMissingStorage)
	}
	if c.Broker.JwtSecret == "" {
		errs = append(errs, ErrMissingSecret)
	}
	return errors.Join(errs...)
}

// ValidateAgent checks what uploading from a device needs. Local capture and
// session bookkeeping work without it.
func (c *Config) ValidateAgent() error {
	var errs []error
	if c.Agent.BrokerUrl == "" || c.Agent.Token == "" {
		errs = append(errs, ErrMissingBroker)
	}
	if c.Agent.CoachId == "" || c.Agent.OrganizationId == "" {
		errs = append(errs, ErrMissingIdentity)
	}
	if c.Postgres.Dsn == "" {
		errs = append(errs, ErrMissingDatabase)
	}
	return errors.Join(errs...)
}
