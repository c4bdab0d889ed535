package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable the loaders read so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		for _, prefix := range []string{"SERVER_", "AZURE_", "HIERARCHY_", "REFRESH_", "DATA_", "EVENTS_", "OBSERVABILITY_", "TOP_LEVEL_", "RUN_INITIAL"} {
			if strings.HasPrefix(key, prefix) {
				t.Setenv(key, "")
				os.Unsetenv(key)
			}
		}
	}
}

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("AZURE_TENANT_ID", "contoso")
	t.Setenv("AZURE_CLIENT_ID", "client")
	t.Setenv("AZURE_CLIENT_SECRET", "s3cret")
}

// TestLoad_Defaults tests that Load returns defaults with an empty environment.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg := Load()

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Refresh.DailyAt != "20:00" {
		t.Errorf("Refresh.DailyAt = %q, want 20:00", cfg.Refresh.DailyAt)
	}
	if !cfg.Refresh.RunInitial {
		t.Error("Refresh.RunInitial = false, want true")
	}
	if cfg.Data.File != "employee_data.json" {
		t.Errorf("Data.File = %q", cfg.Data.File)
	}
	assert.Equal(t, 3, cfg.Hierarchy.NewEmployeeMonths)
	assert.Equal(t, 999, cfg.Azure.PageSize)
	assert.False(t, cfg.Azure.HasCredentials())
}

// TestLoad_Env tests structured and legacy environment variables.
func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	setCredentials(t)
	t.Setenv("SERVER_HTTP_PORT", "8080")
	t.Setenv("TOP_LEVEL_USER_EMAIL", "ceo@contoso.com")
	t.Setenv("TOP_LEVEL_USER_ID", "abc-123")
	t.Setenv("RUN_INITIAL_UPDATE", "false")
	t.Setenv("DATA_FILE", "/var/lib/orgchart/data.json")
	t.Setenv("REFRESH_INTERVAL", "1h")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "ceo@contoso.com", cfg.Hierarchy.RootEmail)
	assert.Equal(t, "abc-123", cfg.Hierarchy.RootID)
	assert.False(t, cfg.Refresh.RunInitial)
	assert.Equal(t, "/var/lib/orgchart/data.json", cfg.Data.File)
	assert.Equal(t, time.Hour, cfg.Refresh.Interval)
	assert.Equal(t, "s3cret", cfg.Azure.ClientSecret.Value())
}

// TestLoad_StructuredEnvWins tests that new names take precedence over legacy names.
func TestLoad_StructuredEnvWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("HIERARCHY_ROOT_EMAIL", "new@contoso.com")
	t.Setenv("TOP_LEVEL_USER_EMAIL", "old@contoso.com")
	t.Setenv("REFRESH_RUN_INITIAL", "true")
	t.Setenv("RUN_INITIAL_UPDATE", "false")

	cfg := Load()
	assert.Equal(t, "new@contoso.com", cfg.Hierarchy.RootEmail)
	assert.True(t, cfg.Refresh.RunInitial)
}

// TestConfig_Validate tests configuration validation rules.
func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Azure.TenantID = "t"
		cfg.Azure.ClientID = "c"
		cfg.Azure.ClientSecret = "s"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"bad daily time", func(c *Config) { c.Refresh.DailyAt = "8pm" }, "daily_at"},
		{"negative interval", func(c *Config) { c.Refresh.Interval = -time.Second }, "interval"},
		{"negative months", func(c *Config) { c.Hierarchy.NewEmployeeMonths = -1 }, "new_employee_months"},
		{"search limit zero", func(c *Config) { c.Hierarchy.SearchLimit = 0 }, "search_limit"},
		{"search limit too high", func(c *Config) { c.Hierarchy.SearchLimit = 11 }, "search_limit"},
		{"search limit at cap", func(c *Config) { c.Hierarchy.SearchLimit = 10 }, ""},
		{"no data file", func(c *Config) { c.Data.File = "" }, "data.file"},
		{"missing credentials", func(c *Config) { c.Azure.ClientSecret = "" }, "AZURE_CLIENT_SECRET"},
		{"offline without credentials", func(c *Config) {
			c.Azure = AzureConfig{}
			c.Refresh.Offline = true
		}, ""},
		{"page size", func(c *Config) { c.Azure.PageSize = 5000 }, "page size"},
		{"telemetry without name", func(c *Config) {
			c.Observability.EnableTelemetry = true
			c.Observability.ServiceName = ""
		}, "service name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAzureConfig_TokenURL(t *testing.T) {
	a := AzureConfig{AuthorityURL: "https://login.microsoftonline.com/", TenantID: "contoso"}
	assert.Equal(t, "https://login.microsoftonline.com/contoso/oauth2/v2.0/token", a.TokenURL())
}

func TestServerConfig_Origins(t *testing.T) {
	s := ServerConfig{CORSOrigins: " https://a.example , ,https://b.example"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, s.Origins())
	assert.Empty(t, ServerConfig{}.Origins())
}

func TestSecret(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "hunter2")
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(struct{ S Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")

	assert.Equal(t, "", Secret("").String())
	assert.False(t, Secret("").IsSet())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestDailyTime(t *testing.T) {
	t.Run("clock", func(t *testing.T) {
		h, m, err := DailyTime("20:00").Clock()
		require.NoError(t, err)
		assert.Equal(t, 20, h)
		assert.Equal(t, 0, m)

		h, m, err = DailyTime("7:05").Clock()
		require.NoError(t, err)
		assert.Equal(t, 7, h)
		assert.Equal(t, 5, m)

		for _, bad := range []string{"", "24:00", "12:60", "noon", "12:5", "1200"} {
			_, _, err := DailyTime(bad).Clock()
			assert.Error(t, err, bad)
		}
	})

	t.Run("next", func(t *testing.T) {
		loc := time.FixedZone("test", 2*3600)
		before := time.Date(2025, 3, 10, 19, 59, 0, 0, loc)
		next, err := DailyTime("20:00").Next(before)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 10, 20, 0, 0, 0, loc), next)

		at := time.Date(2025, 3, 10, 20, 0, 0, 0, loc)
		next, err = DailyTime("20:00").Next(at)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 3, 11, 20, 0, 0, 0, loc), next)

		endOfMonth := time.Date(2025, 3, 31, 23, 0, 0, 0, loc)
		next, err = DailyTime("06:30").Next(endOfMonth)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 4, 1, 6, 30, 0, 0, loc), next)
	})
}

func TestLoadEnvFiles(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("AZURE_TENANT_ID=from-dotenv\nTOP_LEVEL_USER_EMAIL=boss@contoso.com\n"), 0o600))
	t.Setenv("TOP_LEVEL_USER_EMAIL", "already-set@contoso.com")
	t.Cleanup(func() { os.Unsetenv("AZURE_TENANT_ID") })

	n, err := LoadEnvFiles(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "from-dotenv", os.Getenv("AZURE_TENANT_ID"))
	assert.Equal(t, "already-set@contoso.com", os.Getenv("TOP_LEVEL_USER_EMAIL"))

	n, err = LoadEnvFiles(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Zero(t, n)
}
