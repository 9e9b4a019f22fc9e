package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"propsync/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	taxonomiesPath := filepath.Join(tmpDir, "taxonomies.yaml")

	t.Setenv("PROPSYNC_TEST_CRM_KEY", "secret-key")

	yamlContent := `
database:
  path: "test.db"
crm:
  base_url: "https://crm.example.com"
  api_key: "${PROPSYNC_TEST_CRM_KEY}"
  timeout: 5s
sync:
  item_delay: 100ms
  taxonomies: ["property_type"]
  taxonomies_file: "` + taxonomiesPath + `"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	taxonomies := "taxonomies:\n  - property_type\n  - property_status\n"
	if err := os.WriteFile(taxonomiesPath, []byte(taxonomies), 0o644); err != nil {
		t.Fatalf("failed to write taxonomies: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.CRM.APIKey != "secret-key" {
		t.Errorf("expected api key from env, got %s", cfg.CRM.APIKey)
	}
	if cfg.CRM.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %s", cfg.CRM.Timeout)
	}
	if cfg.Sync.ItemDelay != 100*time.Millisecond {
		t.Errorf("expected item delay 100ms, got %s", cfg.Sync.ItemDelay)
	}
	if len(cfg.Sync.Taxonomies) != 2 || cfg.Sync.Taxonomies[1] != "property_status" {
		t.Errorf("expected merged taxonomies, got %v", cfg.Sync.Taxonomies)
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		cfg := Config{Database: DatabaseConfig{Path: "path"}}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: true},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
			},
			wantErr: true,
		},
		{
			name: "postgres ok",
			mutate: func(c *Config) {
				c.Database.Driver = "postgres"
				c.Database.Postgres.Host = "db"
				c.Database.Postgres.DBName = "propsync"
			},
			wantErr: false,
		},
		{name: "mongo sink without uri", mutate: func(c *Config) { c.Audit.Sink = "mongo" }, wantErr: true},
		{name: "telegram without chat", mutate: func(c *Config) { c.Notify.Telegram.Enabled = true }, wantErr: true},
		{
			name: "duplicate api key",
			mutate: func(c *Config) {
				c.API.Auth.APIKeys = []APIClientKey{{Key: "a", Name: "one"}, {Key: "a", Name: "two"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Sync.BatchSize != models.DefaultBatchSize {
		t.Errorf("expected default batch size %d, got %d", models.DefaultBatchSize, cfg.Sync.BatchSize)
	}
	if cfg.Sync.ProgressTTL != time.Hour {
		t.Errorf("expected default progress ttl 1h, got %s", cfg.Sync.ProgressTTL)
	}
	if cfg.Sync.StaleAfter != 2*time.Hour {
		t.Errorf("expected default stale window 2h, got %s", cfg.Sync.StaleAfter)
	}
	if cfg.API.GRPC.Port != 8081 {
		t.Errorf("expected default gRPC port 8081, got %d", cfg.API.GRPC.Port)
	}
	if cfg.Database.Driver != "sqlite3" {
		t.Errorf("expected sqlite3 driver, got %s", cfg.Database.Driver)
	}
	if cfg.Webhook.SecretHeader != "X-Webhook-Secret" {
		t.Errorf("unexpected secret header %s", cfg.Webhook.SecretHeader)
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "sync", DBName: "propsync", SSLMode: "disable", Password: "pw"}
	want := "host=db port=5432 user=sync dbname=propsync sslmode=disable password=pw"
	if got := p.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
