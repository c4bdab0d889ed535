package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `server:
  http_port: 8088
  web_dir: /srv/orgchart/web
  debug: true

azure:
  tenant_id: contoso
  client_id: app-id
  client_secret: yaml-secret
  page_size: 500

hierarchy:
  root_email: ceo@contoso.com
  new_employee_months: 6

refresh:
  daily_at: "06:30"
  run_initial: false
  timeout: 2m

data:
  file: /var/lib/orgchart/employee_data.json

events:
  nats_url: nats://localhost:4222
`

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "orgchartd.yaml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

// TestLoadWithFile_ValidYAML tests loading configuration from a YAML file.
func TestLoadWithFile_ValidYAML(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadWithFile(writeConfig(t, sampleYAML, 0o600))
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Server.Port)
	assert.Equal(t, "/srv/orgchart/web", cfg.Server.WebDir)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, "contoso", cfg.Azure.TenantID)
	assert.Equal(t, "yaml-secret", cfg.Azure.ClientSecret.Value())
	assert.Equal(t, 500, cfg.Azure.PageSize)
	assert.Equal(t, "ceo@contoso.com", cfg.Hierarchy.RootEmail)
	assert.Equal(t, 6, cfg.Hierarchy.NewEmployeeMonths)
	assert.Equal(t, DailyTime("06:30"), cfg.Refresh.DailyAt)
	assert.False(t, cfg.Refresh.RunInitial)
	assert.Equal(t, 2*time.Minute, cfg.Refresh.Timeout)
	assert.Equal(t, "nats://localhost:4222", cfg.Events.NATSURL)

	// Unset keys keep their defaults.
	assert.Equal(t, "https://graph.microsoft.com/v1.0", cfg.Azure.GraphURL)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "settings.json", cfg.Data.SettingsFile)
}

// TestLoadWithFile_EnvOverride tests that environment variables win over the file.
func TestLoadWithFile_EnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVER_HTTP_PORT", "9999")
	t.Setenv("AZURE_CLIENT_SECRET", "env-secret")
	t.Setenv("REFRESH_DAILY_AT", "21:15")

	cfg, err := LoadWithFile(writeConfig(t, sampleYAML, 0o600))
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "env-secret", cfg.Azure.ClientSecret.Value())
	assert.Equal(t, DailyTime("21:15"), cfg.Refresh.DailyAt)
}

// TestLoadWithFile_LegacyEnv tests the variable names of older deployments.
func TestLoadWithFile_LegacyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("AZURE_TENANT_ID", "t")
	t.Setenv("AZURE_CLIENT_ID", "c")
	t.Setenv("AZURE_CLIENT_SECRET", "s")
	t.Setenv("TOP_LEVEL_USER_ID", "root-guid")
	t.Setenv("RUN_INITIAL_UPDATE", "false")

	cfg, err := LoadWithFile("")
	require.NoError(t, err)
	assert.Equal(t, "root-guid", cfg.Hierarchy.RootID)
	assert.False(t, cfg.Refresh.RunInitial)
}

// TestLoadWithFile_MissingFile tests that a missing file falls back to env and defaults.
func TestLoadWithFile_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("REFRESH_OFFLINE", "true")

	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.Refresh.Offline)
	assert.Equal(t, 5000, cfg.Server.Port)
}

// TestLoadWithFile_InsecurePermissions tests rejection of world-readable files.
func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	clearEnv(t)
	_, err := LoadWithFile(writeConfig(t, sampleYAML, 0o644))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

// TestLoadWithFile_TooLarge tests the file size limit.
func TestLoadWithFile_TooLarge(t *testing.T) {
	clearEnv(t)
	big := sampleYAML + "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
	_, err := LoadWithFile(writeConfig(t, big, 0o600))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}

// TestLoadWithFile_InvalidYAML tests parse failures.
func TestLoadWithFile_InvalidYAML(t *testing.T) {
	clearEnv(t)
	_, err := LoadWithFile(writeConfig(t, "server: [unclosed", 0o600))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config file")
}

// TestLoadWithFile_ValidationFailure tests that invalid values are reported.
func TestLoadWithFile_ValidationFailure(t *testing.T) {
	clearEnv(t)
	_, err := LoadWithFile(writeConfig(t, "refresh:\n  offline: true\n  daily_at: \"25:00\"\n", 0o600))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.http_port", envKey("SERVER_HTTP_PORT"))
	assert.Equal(t, "azure.client_secret", envKey("AZURE_CLIENT_SECRET"))
	assert.Equal(t, "data.file", envKey("DATA_FILE"))
	assert.Equal(t, "home", envKey("HOME"))
}
