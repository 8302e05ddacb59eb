// Package config loads the dartbot YAML configuration and applies
// environment variable overrides.
package config

import (
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for dartbot.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Definedge Definedge `yaml:"definedge"`
	Logging   Logging   `yaml:"logging"`
	History   History   `yaml:"history"`
	Stream    Stream    `yaml:"stream"`
	Metrics   Metrics   `yaml:"metrics"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Definedge holds credentials and endpoints for the Definedge broker API.
// APIToken/APISecret/TOTPSecret may be left empty in the file and supplied
// via environment variables instead.
type Definedge struct {
	APIToken    string `yaml:"api_token"`
	APISecret   string `yaml:"api_secret"`
	TOTPSecret  string `yaml:"totp_secret"`
	LoginURL    string `yaml:"login_url"`
	TokenURL    string `yaml:"token_url"`
	APIURL      string `yaml:"api_url"`
	HistoryURL  string `yaml:"history_url"`
	WSURL       string `yaml:"ws_url"`
	SessionFile string `yaml:"session_file"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// History controls the historical data synchronizer.
type History struct {
	TimeoutSeconds    int `yaml:"timeout_seconds"`
	LookbackDays      int `yaml:"lookback_days"`       // previous-close fallback window
	RequestsPerMinute int `yaml:"requests_per_minute"` // 0 = unlimited
}

// Stream configures the live tick stream.
type Stream struct {
	Instruments []string `yaml:"instruments"` // "SEGMENT|TOKEN" entries
}

// Metrics controls the Prometheus listener. Port 0 disables it.
type Metrics struct {
	Port int `yaml:"port"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// envOverrides mirrors the configuration fields that may be supplied via
// environment variables. Env values win over the file.
type envOverrides struct {
	APIToken   string `envconfig:"DEFINEDGE_API_TOKEN"`
	APISecret  string `envconfig:"DEFINEDGE_API_SECRET"`
	TOTPSecret string `envconfig:"DEFINEDGE_TOTP_SECRET"`
	DataDir    string `envconfig:"DATA_DIR"`
	SQLitePath string `envconfig:"SQLITE_PATH"`
	LogLevel   string `envconfig:"LOG_LEVEL"`
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies defaults, and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.DataDir, "dartbot.db")
	}
	if cfg.Definedge.LoginURL == "" {
		cfg.Definedge.LoginURL = "https://signin.definedgesecurities.com/auth/realms/debroking/dsbpkc/login"
	}
	if cfg.Definedge.TokenURL == "" {
		cfg.Definedge.TokenURL = "https://signin.definedgesecurities.com/auth/realms/debroking/dsbpkc/token"
	}
	if cfg.Definedge.APIURL == "" {
		cfg.Definedge.APIURL = "https://integrate.definedgesecurities.com/dart/v1"
	}
	if cfg.Definedge.HistoryURL == "" {
		cfg.Definedge.HistoryURL = "https://data.definedgesecurities.com/sds/history"
	}
	if cfg.Definedge.WSURL == "" {
		cfg.Definedge.WSURL = "wss://trade.definedgesecurities.com/NorenWSTRTP/"
	}
	if cfg.Definedge.SessionFile == "" {
		cfg.Definedge.SessionFile = filepath.Join(cfg.Storage.DataDir, ".session.json")
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.History.TimeoutSeconds == 0 {
		cfg.History.TimeoutSeconds = 20
	}
	if cfg.History.LookbackDays == 0 {
		cfg.History.LookbackDays = 10
	}
}

func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return err
	}

	if env.APIToken != "" {
		cfg.Definedge.APIToken = env.APIToken
	}
	if env.APISecret != "" {
		cfg.Definedge.APISecret = env.APISecret
	}
	if env.TOTPSecret != "" {
		cfg.Definedge.TOTPSecret = env.TOTPSecret
	}
	if env.DataDir != "" {
		cfg.Storage.DataDir = env.DataDir
	}
	if env.SQLitePath != "" {
		cfg.Storage.SQLitePath = env.SQLitePath
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	return nil
}
