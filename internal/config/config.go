package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"propsync/internal/models"

	"github.com/joho/godotenv"
	yamlv2 "gopkg.in/yaml.v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	CRM        CRMConfig        `yaml:"crm"`
	Sync       SyncConfig       `yaml:"sync"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Audit      AuditConfig      `yaml:"audit"`
	Notify     NotifyConfig     `yaml:"notify"`
	Exports    ExportConfig     `yaml:"exports"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// IsPostgres reports whether the postgres driver is selected.
func (d DatabaseConfig) IsPostgres() bool {
	return d.Driver == "postgres"
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

// DSN builds a lib/pq connection string.
func (p PostgresConfig) DSN() string {
	parts := []string{
		fmt.Sprintf("host=%s", p.Host),
		fmt.Sprintf("port=%d", p.Port),
		fmt.Sprintf("user=%s", p.User),
		fmt.Sprintf("dbname=%s", p.DBName),
		fmt.Sprintf("sslmode=%s", p.SSLMode),
	}
	if p.Password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", p.Password))
	}
	return strings.Join(parts, " ")
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type CRMConfig struct {
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	APIVersion   string        `yaml:"api_version"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"`
	Burst        int           `yaml:"burst"`
}

type SyncConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	ItemDelay       time.Duration `yaml:"item_delay"`
	ProgressTTL     time.Duration `yaml:"progress_ttl"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
	Workers         int           `yaml:"workers"`
	QueueKey        string        `yaml:"queue_key"`
	TaxonomiesFile  string        `yaml:"taxonomies_file"`
	Taxonomies      []string      `yaml:"taxonomies"`
	AutoSync        bool          `yaml:"auto_sync"`
}

type WebhookConfig struct {
	Secret          string `yaml:"secret"`
	SecretHeader    string `yaml:"secret_header"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodyBytes    int64  `yaml:"max_body_bytes"`
}

type AuditConfig struct {
	Sink       string `yaml:"sink"`
	MongoURI   string `yaml:"mongo_uri"`
	MongoDB    string `yaml:"mongo_database"`
	Collection string `yaml:"collection"`
}

type NotifyConfig struct {
	Telegram TelegramNotifyConfig `yaml:"telegram"`
	Sheets   SheetsNotifyConfig   `yaml:"sheets"`
}

type TelegramNotifyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type SheetsNotifyConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if config.Sync.TaxonomiesFile != "" {
		taxonomies, err := LoadTaxonomies(config.Sync.TaxonomiesFile)
		if err != nil {
			return nil, fmt.Errorf("load taxonomies: %w", err)
		}
		config.Sync.Taxonomies = mergeUnique(config.Sync.Taxonomies, taxonomies)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

type taxonomiesFile struct {
	Taxonomies []string `yaml:"taxonomies"`
}

// LoadTaxonomies reads the list of taxonomies a full taxonomy sync walks.
func LoadTaxonomies(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file taxonomiesFile
	if err := yamlv2.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return file.Taxonomies, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" || c.Database.Postgres.DBName == "" {
			return errors.New("postgres host and dbname are required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Sync.BatchSize <= 0 {
		return errors.New("sync batch_size must be positive")
	}

	if c.Audit.Sink == "mongo" && c.Audit.MongoURI == "" {
		return errors.New("audit mongo_uri is required for the mongo sink")
	}

	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == 0) {
		return errors.New("telegram notify requires bot_token and chat_id")
	}

	if c.Notify.Sheets.Enabled && (c.Notify.Sheets.CredentialsFile == "" || c.Notify.Sheets.SpreadsheetID == "") {
		return errors.New("sheets notify requires credentials_file and spreadsheet_id")
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, key := range keys {
		if key.Key == "" {
			return fmt.Errorf("api key '%s' is empty", key.Name)
		}
		if seen[key.Key] {
			return fmt.Errorf("duplicate api key found for '%s'", key.Name)
		}
		seen[key.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "propsync"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.CRM.APIVersion == "" {
		c.CRM.APIVersion = "v1"
	}
	if c.CRM.Timeout == 0 {
		c.CRM.Timeout = 30 * time.Second
	}

	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = models.DefaultBatchSize
	}
	if c.Sync.ProgressTTL == 0 {
		c.Sync.ProgressTTL = models.DefaultProgressTTL
	}
	if c.Sync.StaleAfter == 0 {
		c.Sync.StaleAfter = models.DefaultStaleAfter
	}
	if c.Sync.JanitorInterval == 0 {
		c.Sync.JanitorInterval = 10 * time.Minute
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = 2
	}
	if c.Sync.QueueKey == "" {
		c.Sync.QueueKey = "propsync:batches"
	}

	if c.Webhook.SecretHeader == "" {
		c.Webhook.SecretHeader = "X-Webhook-Secret"
	}
	if c.Webhook.SignatureHeader == "" {
		c.Webhook.SignatureHeader = "X-Webhook-Signature"
	}
	if c.Webhook.MaxBodyBytes == 0 {
		c.Webhook.MaxBodyBytes = 1 << 20
	}

	if c.Audit.Sink == "" {
		c.Audit.Sink = "sql"
	}
	if c.Audit.MongoDB == "" {
		c.Audit.MongoDB = "propsync"
	}
	if c.Audit.Collection == "" {
		c.Audit.Collection = "sync_log"
	}

	if c.Notify.Sheets.SheetName == "" {
		c.Notify.Sheets.SheetName = "Syncs"
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}

	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
}

func mergeUnique(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
