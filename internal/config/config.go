package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"pharmsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig         `yaml:"app"`
	Database     DatabaseConfig    `yaml:"database"`
	Redis        RedisConfig       `yaml:"redis"`
	Backup       BackupConfig      `yaml:"backup"`
	Monitoring   MonitoringConfig  `yaml:"monitoring"`
	Logging      LoggingConfig     `yaml:"logging"`
	API          APIConfig         `yaml:"api"`
	Scheduler    SchedulerConfig   `yaml:"scheduler"`
	Queue        QueueConfig       `yaml:"queue"`
	Notify       NotifyConfig      `yaml:"notify"`
	Sheets       SheetsConfig      `yaml:"sheets"`
	Backends     []BackendConfig   `yaml:"backends"`
	RemoteTables map[string]string `yaml:"remote_tables"`
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

// APIGRPCConfig controls the gRPC health endpoint.
type APIGRPCConfig struct {
	Enabled              bool `yaml:"enabled"`
	Port                 int  `yaml:"port"`
	CheckIntervalSeconds int  `yaml:"check_interval_seconds"`
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

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type SchedulerConfig struct {
	BufferSeconds   int            `yaml:"buffer_seconds"`
	DefaultPriority int            `yaml:"default_priority"`
	ForcePriority   int            `yaml:"force_priority"`
	Lock            LockConfig     `yaml:"lock"`
	Intervals       map[string]int `yaml:"intervals"`
}

type LockConfig struct {
	Enabled    *bool `yaml:"enabled"`
	TTLSeconds int   `yaml:"ttl_seconds"`
}

type QueueConfig struct {
	Workers             int     `yaml:"workers"`
	MaxRetries          int     `yaml:"max_retries"`
	InitialDelaySeconds int     `yaml:"initial_delay_seconds"`
	MaxDelaySeconds     int     `yaml:"max_delay_seconds"`
	BackoffFactor       float64 `yaml:"backoff_factor"`
	RetryJitter         float64 `yaml:"retry_jitter"`
	PollIntervalMS      int     `yaml:"poll_interval_ms"`
	BatchSize           int     `yaml:"batch_size"`
}

type NotifyConfig struct {
	Enabled  bool    `yaml:"enabled"`
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
}

type SheetsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
}

// BackendConfig is the YAML shape of a backend profile. Pointer fields
// distinguish "unset" from an explicit false so defaults can apply.
type BackendConfig struct {
	Name              string `yaml:"name"`
	Version           string `yaml:"version"`
	Driver            string `yaml:"driver"`
	Server            string `yaml:"server"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	PoolSize          int    `yaml:"pool_size"`
	MaxOverflow       *int   `yaml:"max_overflow"`
	PoolTimeout       int    `yaml:"pool_timeout"`
	DateDataStart     string `yaml:"date_data_start"`
	ImportInverse     *bool  `yaml:"import_inverse"`
	SalePrefix        string `yaml:"sale_prefix"`
	RxPrefix          string `yaml:"rx_prefix"`
	DefaultTZ         string `yaml:"default_tz"`
	CompanyID         int64  `yaml:"company_id"`
	IsDefault         *bool  `yaml:"is_default"`
	Active            *bool  `yaml:"active"`
	CanExport         *bool  `yaml:"can_export"`
	FDBNDCControlCode string `yaml:"fdb_ndc_control_code"`
}

// ToBackend converts the profile into a model with connector defaults filled in.
func (bc BackendConfig) ToBackend() (*models.Backend, error) {
	b := models.NewBackend(bc.Name)
	b.Server = bc.Server
	b.Username = bc.Username
	b.Password = bc.Password
	b.CompanyID = bc.CompanyID
	b.FDBNDCControlCode = bc.FDBNDCControlCode

	if bc.Version != "" {
		b.Version = bc.Version
	}
	if bc.Driver != "" {
		b.Driver = bc.Driver
	}
	if bc.PoolSize > 0 {
		b.PoolSize = bc.PoolSize
	}
	if bc.MaxOverflow != nil {
		b.MaxOverflow = *bc.MaxOverflow
	}
	if bc.PoolTimeout > 0 {
		b.PoolTimeout = time.Duration(bc.PoolTimeout) * time.Second
	}
	if bc.DateDataStart != "" {
		start, err := parseStart(bc.DateDataStart)
		if err != nil {
			return nil, fmt.Errorf("backend %s: date_data_start: %w", bc.Name, err)
		}
		b.DateDataStart = start
	}
	if bc.SalePrefix != "" {
		b.SalePrefix = bc.SalePrefix
	}
	if bc.RxPrefix != "" {
		b.RxPrefix = bc.RxPrefix
	}
	if bc.DefaultTZ != "" {
		b.DefaultTZ = bc.DefaultTZ
	}
	if bc.ImportInverse != nil {
		b.ImportInverse = *bc.ImportInverse
	}
	if bc.IsDefault != nil {
		b.IsDefault = *bc.IsDefault
	}
	if bc.Active != nil {
		b.Active = *bc.Active
	}
	if bc.CanExport != nil {
		b.CanExport = *bc.CanExport
	}
	return b, nil
}

func parseStart(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", raw)
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
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

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Notify.Enabled && (c.Notify.BotToken == "" || len(c.Notify.ChatIDs) == 0) {
		return errors.New("notify requires bot_token and chat_ids")
	}
	if c.Sheets.Enabled && (c.Sheets.CredentialsFile == "" || c.Sheets.SpreadsheetID == "") {
		return errors.New("sheets requires credentials_file and spreadsheet_id")
	}
	for raw := range c.Scheduler.Intervals {
		if _, err := models.ParseEntityType(raw); err != nil {
			return fmt.Errorf("scheduler.intervals: %w", err)
		}
	}
	for raw := range c.RemoteTables {
		if _, err := models.ParseEntityType(raw); err != nil {
			return fmt.Errorf("remote_tables: %w", err)
		}
	}

	backends, err := c.BackendModels()
	if err != nil {
		return err
	}
	return ValidateBackends(backends)
}

// BackendModels converts every configured profile.
func (c *Config) BackendModels() ([]*models.Backend, error) {
	out := make([]*models.Backend, 0, len(c.Backends))
	for _, bc := range c.Backends {
		b, err := bc.ToBackend()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func ValidateBackends(backends []*models.Backend) error {
	names := make(map[string]bool)
	prefixes := make(map[string]string)
	for _, b := range backends {
		if err := b.Validate(); err != nil {
			return err
		}
		if names[b.Name] {
			return fmt.Errorf("duplicate backend name: %s", b.Name)
		}
		names[b.Name] = true

		for _, p := range []string{"sale:" + b.SalePrefix, "rx:" + b.RxPrefix} {
			if other, ok := prefixes[p]; ok {
				return fmt.Errorf("backends %s and %s share prefix %s", other, b.Name, strings.SplitN(p, ":", 2)[1])
			}
			prefixes[p] = b.Name
		}
	}
	return models.CheckDefaults(backends)
}

// LockEnabled reports whether passes take the per-(backend, entity) lock.
func (s SchedulerConfig) LockEnabled() bool {
	return s.Lock.Enabled == nil || *s.Lock.Enabled
}

func (s SchedulerConfig) Buffer() time.Duration {
	return time.Duration(s.BufferSeconds) * time.Second
}

func (s SchedulerConfig) LockTTL() time.Duration {
	return time.Duration(s.Lock.TTLSeconds) * time.Second
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "pharmsync"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 9091
	}
	if c.API.GRPC.CheckIntervalSeconds == 0 {
		c.API.GRPC.CheckIntervalSeconds = 10
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
	if c.Backup.Enabled && c.Backup.IntervalHours == 0 {
		c.Backup.IntervalHours = 24
	}

	// Scheduler defaults
	if c.Scheduler.BufferSeconds == 0 {
		c.Scheduler.BufferSeconds = int(models.ImportDeltaBuffer / time.Second)
	}
	if c.Scheduler.DefaultPriority == 0 {
		c.Scheduler.DefaultPriority = models.DefaultPriority
	}
	if c.Scheduler.ForcePriority == 0 {
		c.Scheduler.ForcePriority = models.ForcePriority
	}
	if c.Scheduler.Lock.TTLSeconds == 0 {
		c.Scheduler.Lock.TTLSeconds = int(models.DefaultLockTTL / time.Second)
	}

	// Queue defaults
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 1
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = 5
	}
	if c.Queue.InitialDelaySeconds == 0 {
		c.Queue.InitialDelaySeconds = 2
	}
	if c.Queue.MaxDelaySeconds == 0 {
		c.Queue.MaxDelaySeconds = 300
	}
	if c.Queue.BackoffFactor == 0 {
		c.Queue.BackoffFactor = 2
	}
	if c.Queue.RetryJitter == 0 {
		c.Queue.RetryJitter = 0.1
	}
	if c.Queue.PollIntervalMS == 0 {
		c.Queue.PollIntervalMS = 1000
	}
	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = 50
	}
}
