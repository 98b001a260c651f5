// Package config loads reportsync settings from a YAML file and REPORTSYNC_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config centralizes runtime settings for the CLI and the background daemon.
type Config struct {
	Backend    BackendConfig    `yaml:"backend"`
	Geocoding  GeocodingConfig  `yaml:"geocoding"`
	Probe      ProbeConfig      `yaml:"probe"`
	Verify     VerifyConfig     `yaml:"verify"`
	Background BackgroundConfig `yaml:"background"`

	DBPath     string `yaml:"db_path"`
	LogLevel   string `yaml:"log_level"`
	LogFile    string `yaml:"log_file"`
	ArchiveDir string `yaml:"archive_dir"`
}

// BackendConfig holds the issue backend base URL and the session handed to it.
type BackendConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	AuthToken string `yaml:"auth_token"`
	UserID    string `yaml:"user_id"`
}

type GeocodingConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

type ProbeConfig struct {
	Endpoints []string      `yaml:"endpoints"`
	Timeout   time.Duration `yaml:"timeout"`
}

type VerifyConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
}

type BackgroundConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// Default returns the configuration used when no file or environment value overrides it.
func Default() Config {
	return Config{
		Geocoding: GeocodingConfig{
			URL: "https://api.geoapify.com",
		},
		Probe: ProbeConfig{
			Endpoints: []string{
				"https://httpbin.org/status/200",
				"https://jsonplaceholder.typicode.com/posts/1",
			},
			Timeout: 5 * time.Second,
		},
		Verify: VerifyConfig{
			Timeout: 30 * time.Second,
			RPS:     1,
			Burst:   1,
		},
		Background: BackgroundConfig{
			ListenAddr:      "127.0.0.1:8765",
			RefreshInterval: 5 * time.Minute,
		},
		DBPath:   defaultDBPath(),
		LogLevel: "info",
	}
}

func defaultDBPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "reports.db"
	}
	return filepath.Join(homeDir, ".cache", "reportsync", "reports.db")
}

// DefaultPath returns ~/.config/reportsync/config.yaml.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(homeDir, ".config", "reportsync", "config.yaml")
}

// Load reads the YAML file at path (a missing file is not an error), then applies
// environment overrides on top of it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Backend.URL = getEnv("REPORTSYNC_BACKEND_URL", cfg.Backend.URL)
	cfg.Backend.APIKey = getEnv("REPORTSYNC_BACKEND_API_KEY", cfg.Backend.APIKey)
	cfg.Backend.AuthToken = getEnv("REPORTSYNC_AUTH_TOKEN", cfg.Backend.AuthToken)
	cfg.Backend.UserID = getEnv("REPORTSYNC_USER_ID", cfg.Backend.UserID)

	cfg.Geocoding.URL = getEnv("REPORTSYNC_GEOCODING_URL", cfg.Geocoding.URL)
	cfg.Geocoding.APIKey = getEnv("REPORTSYNC_GEOCODING_API_KEY", cfg.Geocoding.APIKey)

	if v := getEnv("REPORTSYNC_PROBE_ENDPOINTS", ""); v != "" {
		cfg.Probe.Endpoints = splitList(v)
	}
	cfg.Probe.Timeout = getEnvDuration("REPORTSYNC_PROBE_TIMEOUT", cfg.Probe.Timeout)

	cfg.Verify.Timeout = getEnvDuration("REPORTSYNC_VERIFY_TIMEOUT", cfg.Verify.Timeout)
	cfg.Verify.RPS = getEnvFloat("REPORTSYNC_VERIFY_RPS", cfg.Verify.RPS)
	cfg.Verify.Burst = getEnvInt("REPORTSYNC_VERIFY_BURST", cfg.Verify.Burst)

	cfg.Background.ListenAddr = getEnv("REPORTSYNC_LISTEN_ADDR", cfg.Background.ListenAddr)
	cfg.Background.RefreshInterval = getEnvDuration("REPORTSYNC_REFRESH_INTERVAL", cfg.Background.RefreshInterval)

	cfg.DBPath = getEnv("REPORTSYNC_DB_PATH", cfg.DBPath)
	cfg.LogLevel = getEnv("REPORTSYNC_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("REPORTSYNC_LOG_FILE", cfg.LogFile)
	cfg.ArchiveDir = getEnv("REPORTSYNC_ARCHIVE_DIR", cfg.ArchiveDir)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
