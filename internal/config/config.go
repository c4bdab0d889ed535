// Package config provides configuration loading for orgchartd.
//
// Configuration comes from defaults, an optional YAML file and environment
// variables, in increasing order of precedence. A .env file in the working
// directory is read before the environment is consulted.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// maxSearchLimit matches the result cap the search endpoint enforces.
const maxSearchLimit = 10

// Config holds the complete orgchartd configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Azure         AzureConfig         `koanf:"azure"`
	Hierarchy     HierarchyConfig     `koanf:"hierarchy"`
	Refresh       RefreshConfig       `koanf:"refresh"`
	Data          DataConfig          `koanf:"data"`
	Events        EventsConfig        `koanf:"events"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"http_host"`
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// WebDir holds index.html and the static/ assets of the front-end.
	WebDir string `koanf:"web_dir"`
	// Debug enables /api/debug, which fetches the directory on every call.
	Debug       bool   `koanf:"debug"`
	CORSOrigins string `koanf:"cors_origins"`
}

// Origins splits the comma-separated CORS origin list.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// AzureConfig holds Microsoft Graph credentials and client tuning.
type AzureConfig struct {
	TenantID          string        `koanf:"tenant_id"`
	ClientID          string        `koanf:"client_id"`
	ClientSecret      Secret        `koanf:"client_secret"`
	AuthorityURL      string        `koanf:"authority_url"`
	GraphURL          string        `koanf:"graph_url"`
	PageSize          int           `koanf:"page_size"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	MaxRetries        int           `koanf:"max_retries"`
}

// TokenURL returns the OAuth2 token endpoint for the tenant.
func (a AzureConfig) TokenURL() string {
	return strings.TrimRight(a.AuthorityURL, "/") + "/" + url.PathEscape(a.TenantID) + "/oauth2/v2.0/token"
}

// HasCredentials reports whether all three credentials are set.
func (a AzureConfig) HasCredentials() bool {
	return a.TenantID != "" && a.ClientID != "" && a.ClientSecret.IsSet()
}

// HierarchyConfig holds root hints and display policy for the tree.
type HierarchyConfig struct {
	RootID            string `koanf:"root_id"`
	RootEmail         string `koanf:"root_email"`
	NewEmployeeMonths int    `koanf:"new_employee_months"`
	SearchLimit       int    `koanf:"search_limit"`
}

// RefreshConfig controls the refresh scheduler.
type RefreshConfig struct {
	DailyAt DailyTime `koanf:"daily_at"`
	// Interval, when set, replaces the daily schedule.
	Interval   time.Duration `koanf:"interval"`
	RunInitial bool          `koanf:"run_initial"`
	Offline    bool          `koanf:"offline"`
	Timeout    time.Duration `koanf:"timeout"`
}

// DataConfig holds file locations.
type DataConfig struct {
	File         string `koanf:"file"`
	SettingsFile string `koanf:"settings_file"`
}

// EventsConfig controls refresh lifecycle events. An empty NATSURL disables
// publishing.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ObservabilityConfig holds logging and OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
	OTLPProtocol    string `koanf:"otlp_protocol"`
	OTLPInsecure    bool   `koanf:"otlp_insecure"`
	LogLevel        string `koanf:"log_level"`
	LogFormat       string `koanf:"log_format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ShutdownTimeout: 10 * time.Second,
			WebDir:          "web",
		},
		Azure: AzureConfig{
			AuthorityURL:      "https://login.microsoftonline.com",
			GraphURL:          "https://graph.microsoft.com/v1.0",
			PageSize:          999,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
			MaxRetries:        3,
		},
		Hierarchy: HierarchyConfig{
			NewEmployeeMonths: 3,
			SearchLimit:       10,
		},
		Refresh: RefreshConfig{
			DailyAt:    "20:00",
			RunInitial: true,
			Timeout:    10 * time.Minute,
		},
		Data: DataConfig{
			File:         "employee_data.json",
			SettingsFile: "settings.json",
		},
		Events: EventsConfig{
			SubjectPrefix: "orgchart",
		},
		Observability: ObservabilityConfig{
			ServiceName:  "orgchartd",
			OTLPEndpoint: "localhost:4317",
			OTLPProtocol: "grpc",
			OTLPInsecure: true,
			LogLevel:     "info",
			LogFormat:    "json",
		},
	}
}

// Load builds configuration from defaults and environment variables only.
//
// Environment variables:
//   - SERVER_HTTP_PORT: HTTP port (default: 5000)
//   - AZURE_TENANT_ID, AZURE_CLIENT_ID, AZURE_CLIENT_SECRET: Graph credentials
//   - TOP_LEVEL_USER_ID, TOP_LEVEL_USER_EMAIL: root hints
//   - RUN_INITIAL_UPDATE: refresh once at startup (default: true)
//   - REFRESH_DAILY_AT: daily refresh time, HH:MM (default: 20:00)
//   - DATA_FILE: snapshot file (default: employee_data.json)
//
// Example:
//
//	cfg := config.Load()
//	fmt.Println("Listening on", cfg.Server.Port)
func Load() *Config {
	cfg := Default()

	cfg.Server.Host = getEnvString("SERVER_HTTP_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("SERVER_HTTP_PORT", cfg.Server.Port)
	cfg.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.WebDir = getEnvString("SERVER_WEB_DIR", cfg.Server.WebDir)
	cfg.Server.Debug = getEnvBool("SERVER_DEBUG", cfg.Server.Debug)
	cfg.Server.CORSOrigins = getEnvString("SERVER_CORS_ORIGINS", cfg.Server.CORSOrigins)

	cfg.Azure.TenantID = getEnvString("AZURE_TENANT_ID", "")
	cfg.Azure.ClientID = getEnvString("AZURE_CLIENT_ID", "")
	cfg.Azure.ClientSecret = Secret(getEnvString("AZURE_CLIENT_SECRET", ""))
	cfg.Azure.GraphURL = getEnvString("AZURE_GRAPH_URL", cfg.Azure.GraphURL)
	cfg.Azure.PageSize = getEnvInt("AZURE_PAGE_SIZE", cfg.Azure.PageSize)
	cfg.Azure.Timeout = getEnvDuration("AZURE_TIMEOUT", cfg.Azure.Timeout)

	cfg.Hierarchy.RootID = getEnvString("HIERARCHY_ROOT_ID", "")
	cfg.Hierarchy.RootEmail = getEnvString("HIERARCHY_ROOT_EMAIL", "")
	cfg.Hierarchy.NewEmployeeMonths = getEnvInt("HIERARCHY_NEW_EMPLOYEE_MONTHS", cfg.Hierarchy.NewEmployeeMonths)

	cfg.Refresh.DailyAt = DailyTime(getEnvString("REFRESH_DAILY_AT", string(cfg.Refresh.DailyAt)))
	cfg.Refresh.Interval = getEnvDuration("REFRESH_INTERVAL", 0)
	cfg.Refresh.RunInitial = getEnvBool("REFRESH_RUN_INITIAL", cfg.Refresh.RunInitial)
	cfg.Refresh.Offline = getEnvBool("REFRESH_OFFLINE", false)

	cfg.Data.File = getEnvString("DATA_FILE", cfg.Data.File)
	cfg.Data.SettingsFile = getEnvString("DATA_SETTINGS_FILE", cfg.Data.SettingsFile)

	cfg.Events.NATSURL = getEnvString("EVENTS_NATS_URL", "")

	cfg.Observability.EnableTelemetry = getEnvBool("OBSERVABILITY_ENABLE_TELEMETRY", false)
	cfg.Observability.OTLPEndpoint = getEnvString("OBSERVABILITY_OTLP_ENDPOINT", cfg.Observability.OTLPEndpoint)
	cfg.Observability.LogLevel = getEnvString("OBSERVABILITY_LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = getEnvString("OBSERVABILITY_LOG_FORMAT", cfg.Observability.LogFormat)

	applyLegacyEnv(cfg)
	return cfg
}

// applyLegacyEnv honors the variable names of earlier deployments when the
// structured names are not set.
func applyLegacyEnv(cfg *Config) {
	if cfg.Hierarchy.RootID == "" {
		cfg.Hierarchy.RootID = os.Getenv("TOP_LEVEL_USER_ID")
	}
	if cfg.Hierarchy.RootEmail == "" {
		cfg.Hierarchy.RootEmail = os.Getenv("TOP_LEVEL_USER_EMAIL")
	}
	if _, set := os.LookupEnv("REFRESH_RUN_INITIAL"); !set {
		cfg.Refresh.RunInitial = getEnvBool("RUN_INITIAL_UPDATE", cfg.Refresh.RunInitial)
	}
}

// Validate checks the configuration.
//
// Returns an error if:
//   - Server port is not between 1 and 65535
//   - Shutdown timeout is not positive
//   - The daily refresh time is not HH:MM
//   - Directory credentials are missing while not offline
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if _, _, err := c.Refresh.DailyAt.Clock(); err != nil {
		return fmt.Errorf("refresh.daily_at: %w", err)
	}
	if c.Refresh.Interval < 0 {
		return errors.New("refresh interval cannot be negative")
	}
	if c.Refresh.Timeout <= 0 {
		return errors.New("refresh timeout must be positive")
	}

	if c.Hierarchy.NewEmployeeMonths < 0 {
		return fmt.Errorf("invalid new_employee_months: %d", c.Hierarchy.NewEmployeeMonths)
	}
	if c.Hierarchy.SearchLimit < 1 || c.Hierarchy.SearchLimit > maxSearchLimit {
		return fmt.Errorf("invalid search_limit: %d (must be 1-%d)", c.Hierarchy.SearchLimit, maxSearchLimit)
	}

	if c.Data.File == "" {
		return errors.New("data.file is required")
	}

	if !c.Refresh.Offline {
		if !c.Azure.HasCredentials() {
			return errors.New("AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET are required unless running offline")
		}
		if c.Azure.PageSize < 1 || c.Azure.PageSize > 999 {
			return fmt.Errorf("invalid azure page size: %d (must be 1-999)", c.Azure.PageSize)
		}
		if _, err := url.ParseRequestURI(c.Azure.GraphURL); err != nil {
			return fmt.Errorf("invalid graph url: %w", err)
		}
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
