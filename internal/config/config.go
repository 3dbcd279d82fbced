// Package config loads daemon settings from an optional YAML file and
// MAPLUME_* environment overrides, merged over built-in defaults.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved daemon configuration.
type Config struct {
	BackendURL       string
	RequestTimeout   time.Duration
	BackendRateRPS   float64
	BackendRateBurst int
	DataDir          string

	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	RetryThreshold int

	RPCAddr   string
	RPCToken  string
	RateRPS   float64
	RateBurst int

	LogLevel string
}

// File is the YAML shape. Zero values mean "keep the default"; bools
// and counts that need an explicit off-switch use pointers.
type File struct {
	Backend struct {
		URL            string   `yaml:"url"`
		RequestTimeout string   `yaml:"requestTimeout"`
		RateRPS        *float64 `yaml:"rateRps"`
		RateBurst      *int     `yaml:"rateBurst"`
	} `yaml:"backend"`
	Storage struct {
		DataDir string `yaml:"dataDir"`
	} `yaml:"storage"`
	Sync struct {
		ProbeInterval  string `yaml:"probeInterval"`
		ProbeTimeout   string `yaml:"probeTimeout"`
		RetryThreshold int    `yaml:"retryThreshold"`
	} `yaml:"sync"`
	RPC struct {
		Addr      string   `yaml:"addr"`
		Token     string   `yaml:"token"`
		RateRPS   *float64 `yaml:"rateRps"`
		RateBurst *int     `yaml:"rateBurst"`
	} `yaml:"rpc"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func Default() Config {
	return Config{
		BackendURL:       "http://127.0.0.1:8787",
		RequestTimeout:   30 * time.Second,
		BackendRateRPS:   10,
		BackendRateBurst: 20,
		ProbeInterval:    30 * time.Second,
		ProbeTimeout:     5 * time.Second,
		RetryThreshold:   3,
		RPCAddr:          "127.0.0.1:9337",
		RateRPS:          25,
		RateBurst:        50,
		LogLevel:         "info",
	}
}

// LoadFromPath resolves the configuration: defaults, then the first
// readable candidate file, then environment overrides. A missing or
// unparseable file falls back to defaults rather than failing the
// daemon.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"configs/maplume.yaml",
			"maplume.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed File
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

// Merge overlays non-zero file values onto dst. Durations are strings
// in the file ("30s", "2m") and silently keep the default when
// unparseable.
func Merge(dst *Config, src File) {
	if src.Backend.URL != "" {
		dst.BackendURL = src.Backend.URL
	}
	if d, ok := parseDuration(src.Backend.RequestTimeout); ok {
		dst.RequestTimeout = d
	}
	if src.Backend.RateRPS != nil {
		dst.BackendRateRPS = *src.Backend.RateRPS
	}
	if src.Backend.RateBurst != nil {
		dst.BackendRateBurst = *src.Backend.RateBurst
	}
	if src.Storage.DataDir != "" {
		dst.DataDir = src.Storage.DataDir
	}
	if d, ok := parseDuration(src.Sync.ProbeInterval); ok {
		dst.ProbeInterval = d
	}
	if d, ok := parseDuration(src.Sync.ProbeTimeout); ok {
		dst.ProbeTimeout = d
	}
	if src.Sync.RetryThreshold > 0 {
		dst.RetryThreshold = src.Sync.RetryThreshold
	}
	if src.RPC.Addr != "" {
		dst.RPCAddr = src.RPC.Addr
	}
	if src.RPC.Token != "" {
		dst.RPCToken = src.RPC.Token
	}
	if src.RPC.RateRPS != nil {
		dst.RateRPS = *src.RPC.RateRPS
	}
	if src.RPC.RateBurst != nil {
		dst.RateBurst = *src.RPC.RateBurst
	}
	if src.Log.Level != "" {
		dst.LogLevel = src.Log.Level
	}
}

// ApplyEnvOverrides applies MAPLUME_* variables, which win over both
// defaults and the file.
func ApplyEnvOverrides(cfg *Config) {
	if v := envString("MAPLUME_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := envString("MAPLUME_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := envString("MAPLUME_RPC_ADDR"); v != "" {
		cfg.RPCAddr = v
	}
	if v := envString("MAPLUME_RPC_TOKEN"); v != "" {
		cfg.RPCToken = v
	}
	if v := envString("MAPLUME_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := envInt("MAPLUME_RETRY_THRESHOLD"); v > 0 {
		cfg.RetryThreshold = v
	}
	if d, ok := parseDuration(envString("MAPLUME_PROBE_INTERVAL")); ok {
		cfg.ProbeInterval = d
	}
	if d, ok := parseDuration(envString("MAPLUME_REQUEST_TIMEOUT")); ok {
		cfg.RequestTimeout = d
	}
}

func parseDuration(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func envString(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envInt(key string) int {
	raw := envString(key)
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}
