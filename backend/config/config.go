package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Lookup sources
const (
	LookupSourceSheets   = "sheets"
	LookupSourcePostgres = "postgres"
)

// Lookup policies
const (
	LookupPolicyStrict   = "strict"
	LookupPolicyFallback = "fallback"
)

// Storage backends
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Lookup   LookupConfig   `yaml:"lookup"`
	Sheets   SheetsConfig   `yaml:"sheets"`
	Postgres PostgresConfig `yaml:"postgres"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Storage  StorageConfig  `yaml:"storage"`
	Minio    MinioConfig    `yaml:"minio"`
	Telegram TelegramConfig `yaml:"telegram"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Branding BrandingConfig `yaml:"branding"`
}

type ServerConfig struct {
	Port    int    `yaml:"port" env:"PORT"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// Quote requests per client IP per minute; negative disables the limit
	RateLimit      int      `yaml:"rate_limit" env:"RATE_LIMIT"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-separator:","`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

type LookupConfig struct {
	Source string `yaml:"source" env:"LOOKUP_SOURCE"`
	Policy string `yaml:"policy" env:"LOOKUP_POLICY"`
}

type SheetsConfig struct {
	SpreadsheetID   string        `yaml:"spreadsheet_id" env:"SHEETS_ID"`
	Tab             string        `yaml:"tab" env:"SHEETS_TAB"`
	CredentialsFile string        `yaml:"credentials_file" env:"SHEETS_CREDENTIALS_FILE"`
	APIKey          string        `yaml:"api_key" env:"SHEETS_API_KEY"`
	CacheTTL        time.Duration `yaml:"cache_ttl" env:"SHEETS_CACHE_TTL"`
	RefreshTimeout  time.Duration `yaml:"refresh_timeout" env:"SHEETS_REFRESH_TIMEOUT"`
}

type PostgresConfig struct {
	DSN            string `yaml:"dsn" env:"DB_DSN"`
	MaxConns       int32  `yaml:"max_conns" env:"DB_MAX_CONNS"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"DB_MIGRATE_ON_START"`
}

type OpenAIConfig struct {
	APIKey      string        `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"OPENAI_BASE_URL"`
	Model       string        `yaml:"model" env:"OPENAI_MODEL"`
	Temperature float32       `yaml:"temperature" env:"OPENAI_TEMPERATURE"`
	Timeout     time.Duration `yaml:"timeout" env:"OPENAI_TIMEOUT"`
	RetryDelay  time.Duration `yaml:"retry_delay" env:"OPENAI_RETRY_DELAY"`
}

type StorageConfig struct {
	Backend  string        `yaml:"backend" env:"PDF_STORAGE"`
	LocalDir string        `yaml:"local_dir" env:"PDF_DIR"`
	Timeout  time.Duration `yaml:"timeout" env:"PDF_STORAGE_TIMEOUT"`
}

type MinioConfig struct {
	Endpoint   string `yaml:"endpoint" env:"S3_ENDPOINT"`
	AccessKey  string `yaml:"access_key" env:"S3_KEY"`
	SecretKey  string `yaml:"secret_key" env:"S3_SECRET"`
	Bucket     string `yaml:"bucket" env:"S3_BUCKET"`
	Region     string `yaml:"region" env:"S3_REGION"`
	Prefix     string `yaml:"prefix" env:"S3_PREFIX"`
	UseSSL     bool   `yaml:"use_ssl" env:"S3_USE_SSL"`
	PublicURLs bool   `yaml:"public_urls" env:"S3_PUBLIC_URLS"`
}

type TelegramConfig struct {
	BotToken    string        `yaml:"bot_token" env:"TG_BOT_TOKEN"`
	ChatID      string        `yaml:"chat_id" env:"TG_MANAGER_CHAT_ID"`
	APIURL      string        `yaml:"api_url" env:"TG_API_URL"`
	Timeout     time.Duration `yaml:"timeout" env:"TG_TIMEOUT"`
	RetryDelay  time.Duration `yaml:"retry_delay" env:"TG_RETRY_DELAY"`
	MaxInFlight int           `yaml:"max_in_flight" env:"TG_MAX_IN_FLIGHT"`
}

type PipelineConfig struct {
	Timeout          time.Duration `yaml:"timeout" env:"PIPELINE_TIMEOUT"`
	NotifyGrace      time.Duration `yaml:"notify_grace" env:"PIPELINE_NOTIFY_GRACE"`
	HashSalt         string        `yaml:"hash_salt" env:"HASH_SALT"`
	ShutdownDrainFor time.Duration `yaml:"shutdown_drain" env:"PIPELINE_SHUTDOWN_DRAIN"`
}

type BrandingConfig struct {
	CompanyName string `yaml:"company_name" env:"BRAND_COMPANY_NAME"`
	ContactInfo string `yaml:"contact_info" env:"BRAND_CONTACT_INFO"`
	ValidDays   int    `yaml:"valid_days" env:"QUOTE_VALID_DAYS"`
}

var GlobalConfig *Config

const defaultTemperature = 0.2

// Load reads the YAML file at path, then a .env file if present, then
// overrides fields from environment variables. A missing YAML file is not
// an error: the service can be configured from the environment alone.
func Load(path string) (*Config, error) {
	// Zero is a valid temperature, so its default is set before reading
	cfg := Config{OpenAI: OpenAIConfig{Temperature: defaultTemperature}}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.setDefaults()

	GlobalConfig = &cfg
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Lookup.Source == "" {
		c.Lookup.Source = LookupSourceSheets
	}
	if c.Lookup.Policy == "" {
		c.Lookup.Policy = LookupPolicyStrict
	}
	if c.Sheets.Tab == "" {
		c.Sheets.Tab = "QuoteCatalog"
	}
	if c.Sheets.CacheTTL == 0 {
		c.Sheets.CacheTTL = time.Minute
	}
	if c.Sheets.RefreshTimeout == 0 {
		c.Sheets.RefreshTimeout = 20 * time.Second
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = 10
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.Timeout == 0 {
		c.OpenAI.Timeout = 45 * time.Second
	}
	if c.OpenAI.RetryDelay == 0 {
		c.OpenAI.RetryDelay = time.Second
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	if c.Storage.LocalDir == "" {
		c.Storage.LocalDir = "pdf"
	}
	if c.Storage.Timeout == 0 {
		c.Storage.Timeout = 15 * time.Second
	}
	if c.Minio.Region == "" {
		c.Minio.Region = "us-east-1"
	}
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = "https://api.telegram.org"
	}
	if c.Telegram.Timeout == 0 {
		c.Telegram.Timeout = 30 * time.Second
	}
	if c.Telegram.RetryDelay == 0 {
		c.Telegram.RetryDelay = 5 * time.Second
	}
	if c.Telegram.MaxInFlight == 0 {
		c.Telegram.MaxInFlight = 16
	}
	if c.Pipeline.Timeout == 0 {
		c.Pipeline.Timeout = 2 * time.Minute
	}
	if c.Pipeline.ShutdownDrainFor == 0 {
		c.Pipeline.ShutdownDrainFor = 10 * time.Second
	}
	if c.Branding.CompanyName == "" {
		c.Branding.CompanyName = "CPQ System"
	}
	if c.Branding.ContactInfo == "" {
		c.Branding.ContactInfo = "+7 (495) 123-45-67"
	}
	if c.Branding.ValidDays == 0 {
		c.Branding.ValidDays = 7
	}
}

// Validate checks the settings that select components and the credentials
// those components need
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains([]string{LookupSourceSheets, LookupSourcePostgres}, c.Lookup.Source) {
		errs = append(errs, fmt.Errorf("lookup.source: unsupported value %q", c.Lookup.Source))
	}
	if !slices.Contains([]string{LookupPolicyStrict, LookupPolicyFallback}, c.Lookup.Policy) {
		errs = append(errs, fmt.Errorf("lookup.policy: unsupported value %q", c.Lookup.Policy))
	}
	if !slices.Contains([]string{StorageLocal, StorageS3}, c.Storage.Backend) {
		errs = append(errs, fmt.Errorf("storage.backend: unsupported value %q", c.Storage.Backend))
	}

	switch c.Lookup.Source {
	case LookupSourceSheets:
		if c.Sheets.SpreadsheetID == "" {
			errs = append(errs, errors.New("sheets.spreadsheet_id is required for the sheets lookup source"))
		}
	case LookupSourcePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres lookup source"))
		}
	}
	if c.Storage.Backend == StorageS3 && (c.Minio.Endpoint == "" || c.Minio.Bucket == "") {
		errs = append(errs, errors.New("minio.endpoint and minio.bucket are required for s3 storage"))
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, errors.New("openai.api_key is required"))
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == "" {
		errs = append(errs, errors.New("telegram.chat_id is required when a bot token is set"))
	}

	return errors.Join(errs...)
}
