package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"pharmsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(v bool) *bool { return &v }

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("PHARMSYNC_TEST_PASSWORD", "s3cret")

	yamlContent := `
database:
  path: "state.db"
scheduler:
  intervals:
    sale: 300
    patient: 3600
backends:
  - name: main
    server: "DSN=carepoint"
    username: sa
    password: "${PHARMSYNC_TEST_PASSWORD}"
    company_id: 1
    date_data_start: "2019-06-01"
    import_inverse: false
remote_tables:
  item: item_view
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, "s3cret", cfg.Backends[0].Password)
	assert.Equal(t, 300, cfg.Scheduler.Intervals["sale"])
	assert.Equal(t, "item_view", cfg.RemoteTables["item"])

	backends, err := cfg.BackendModels()
	require.NoError(t, err)
	b := backends[0]
	assert.Equal(t, time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC), b.DateDataStart)
	assert.False(t, b.ImportInverse)
	assert.True(t, b.IsDefault)
	assert.Equal(t, models.DefaultPoolSize, b.PoolSize)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	backend := func(name string, company int64, isDefault bool, sale, rx string) BackendConfig {
		return BackendConfig{
			Name:       name,
			Driver:     models.DriverSQLite,
			Server:     name + ".db",
			CompanyID:  company,
			IsDefault:  boolPtr(isDefault),
			SalePrefix: sale,
			RxPrefix:   rx,
		}
	}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Backends: []BackendConfig{
					backend("a", 1, true, "A/", "AR/"),
					backend("b", 1, false, "B/", "BR/"),
				},
			},
		},
		{
			name:    "missing database path",
			cfg:     Config{},
			wantErr: true,
		},
		{
			name: "two defaults for one company",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Backends: []BackendConfig{
					backend("a", 1, true, "A/", "AR/"),
					backend("b", 1, true, "B/", "BR/"),
				},
			},
			wantErr: true,
		},
		{
			name: "duplicate sale prefix",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Backends: []BackendConfig{
					backend("a", 1, true, "A/", "AR/"),
					backend("b", 2, true, "A/", "BR/"),
				},
			},
			wantErr: true,
		},
		{
			name: "unknown interval entity",
			cfg: Config{
				Database:  DatabaseConfig{Path: "path"},
				Scheduler: SchedulerConfig{Intervals: map[string]int{"widgets": 10}},
			},
			wantErr: true,
		},
		{
			name: "notify without chats",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Notify:   NotifyConfig{Enabled: true, BotToken: "t"},
			},
			wantErr: true,
		},
		{
			name: "sheets without spreadsheet",
			cfg: Config{
				Database: DatabaseConfig{Path: "path"},
				Sheets:   SheetsConfig{Enabled: true, CredentialsFile: "creds.json"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateDuplicateDefaultIsTyped(t *testing.T) {
	cfg := Config{
		Database: DatabaseConfig{Path: "path"},
		Backends: []BackendConfig{
			{Name: "a", Driver: models.DriverSQLite, Server: "a.db", CompanyID: 3, SalePrefix: "A/", RxPrefix: "AR/"},
			{Name: "b", Driver: models.DriverSQLite, Server: "b.db", CompanyID: 3, SalePrefix: "B/", RxPrefix: "BR/"},
		},
	}
	assert.ErrorIs(t, cfg.Validate(), models.ErrDuplicateDefault)
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.Equal(t, 30, cfg.Scheduler.BufferSeconds)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Buffer())
	assert.Equal(t, models.DefaultPriority, cfg.Scheduler.DefaultPriority)
	assert.Equal(t, models.ForcePriority, cfg.Scheduler.ForcePriority)
	assert.Equal(t, time.Hour, cfg.Scheduler.LockTTL())
	assert.True(t, cfg.Scheduler.LockEnabled())
	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
	assert.Equal(t, 1, cfg.Queue.Workers)
	assert.Equal(t, 50, cfg.Queue.BatchSize)

	cfg.Scheduler.Lock.Enabled = boolPtr(false)
	assert.False(t, cfg.Scheduler.LockEnabled())
}

func TestBackendConfigBadStart(t *testing.T) {
	_, err := BackendConfig{Name: "x", DateDataStart: "yesterday"}.ToBackend()
	assert.Error(t, err)
}
