package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sample = `
app:
  environment: staging
server:
  port: "9090"
minio:
  url: minio:9000
  access_id: key
  secret_access_key: secret
  bucket: media
  public_url: https://cdn.example.com
postgresql_host: postgres://u:p@db/capture?sslmode=disable
broker:
  grant_expiry: 5m
  jwt_secret: s3cret
agent:
  broker_url: https://api.example.com
  token: device-token
  coach_id: coach-1
  organization_id: org-1
  upload_concurrency: 2
  retry:
    max_attempts: 5
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AGENT_TOKEN", "from-env")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Environment != "staging" || cfg.Server.HttpPort != "9090" {
		t.Fatalf("unexpected app section %+v %+v", cfg.App, cfg.Server)
	}
	if cfg.MinIO.Bucket != "media" || cfg.MinIO.PublicUrl != "https://cdn.example.com" {
		t.Fatalf("unexpected minio section %+v", cfg.MinIO)
	}
	if cfg.Broker.GrantExpiry != 5*time.Minute {
		t.Fatalf("expected 5m grant expiry, got %v", cfg.Broker.GrantExpiry)
	}
	if cfg.Agent.Token != "from-env" {
		t.Fatalf("environment should override file, got %q", cfg.Agent.Token)
	}
	if cfg.Agent.UploadConcurrency != 2 || cfg.Agent.Retry.MaxAttempts != 5 {
		t.Fatalf("unexpected agent section %+v", cfg.Agent)
	}
	// untouched keys keep their defaults
	if cfg.Agent.Retry.InitialInterval != time.Second || cfg.Agent.ThumbnailOffset != 500*time.Millisecond {
		t.Fatalf("defaults not applied: %+v", cfg.Agent.Retry)
	}
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("server config should be valid: %v", err)
	}
	if err := cfg.ValidateAgent(); err != nil {
		t.Fatalf("agent config should be valid: %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("a missing file is not an error: %v", err)
	}
	if cfg.Broker.GrantExpiry != 15*time.Minute || cfg.Agent.UploadConcurrency != 1 {
		t.Fatalf("expected defaults, got %+v %+v", cfg.Broker, cfg.Agent)
	}

	err = cfg.ValidateServer()
	for _, want := range []error{ErrMissingDatabase, ErrMissingStorage, ErrMissingSecret} {
		if !errors.Is(err, want) {
			t.Fatalf("expected %v in %v", want, err)
		}
	}
	err = cfg.ValidateAgent()
	for _, want := range []error{ErrMissingBroker, ErrMissingIdentity} {
		if !errors.Is(err, want) {
			t.Fatalf("expected %v in %v", want, err)
		}
	}
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("app: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRabbitMQUrl(t *testing.T) {
	r := &RabbitMQ{User: "guest", Pass: "guest", Host: "mq", Port: 5672}
	if got := r.Url(); got != "amqp://guest:guest@mq:5672/" {
		t.Fatalf("unexpected url %s", got)
	}
}
