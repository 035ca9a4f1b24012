package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	TestingMode bool

	ServerPort string

	GeocodingURL      string
	ForecastURL       string
	WeatherLanguage   string
	WeatherAPITimeout time.Duration

	RequestTimeout time.Duration

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	CoalesceTimeout time.Duration

	WorkerVersion              string
	WorkerScriptURL            string
	WorkerDataHosts            []string
	WorkerManifest             []string
	WorkerSkipWaitingOnInstall bool
	WorkerInstallTimeout       time.Duration

	CacheBackend   string // "in_memory" or "redis"
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	NotifyPermission      string // "default", "granted" or "denied"
	NotifyStore           string // "in_memory", "file" or "memcached"
	NotifyFilePath        string
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	WebhookURL            string
	WebhookAPIKey         string
	WebhookTimeout        time.Duration
	ControllerWait        time.Duration
	DebounceDelay         time.Duration
	TrackedCities         []string
	Schedule              string

	OfflineWindow       time.Duration
	OfflineThresholdPct int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		GeocodingURL string `yaml:"geocoding_url"`
		ForecastURL  string `yaml:"forecast_url"`
		Language     string `yaml:"language"`
		Timeout      string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CoalesceTimeout  string `yaml:"coalesce_timeout"`
		CircuitBreaker   struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Worker struct {
		Version              string   `yaml:"version"`
		ScriptURL            string   `yaml:"script_url"`
		DataHosts            []string `yaml:"data_hosts"`
		Manifest             []string `yaml:"manifest"`
		SkipWaitingOnInstall *bool    `yaml:"skip_waiting_on_install"`
		InstallTimeout       string   `yaml:"install_timeout"`
	} `yaml:"worker"`

	Cache struct {
		Backend string `yaml:"backend"`
		Redis   struct {
			Addr      string `yaml:"addr"`
			Password  string `yaml:"password"`
			DB        int    `yaml:"db"`
			KeyPrefix string `yaml:"key_prefix"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Notifications struct {
		Permission string `yaml:"permission"`
		Store      string `yaml:"store"`
		FilePath   string `yaml:"file_path"`
		Memcached  struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Webhook struct {
			URL     string `yaml:"url"`
			Timeout string `yaml:"timeout"`
		} `yaml:"webhook"`
		ControllerWait string   `yaml:"controller_wait"`
		Debounce       string   `yaml:"debounce"`
		TrackedCities  []string `yaml:"tracked_cities"`
		Schedule       string   `yaml:"schedule"`
	} `yaml:"notifications"`

	Health struct {
		OfflineWindow       string `yaml:"offline_window"`
		OfflineThresholdPct int    `yaml:"offline_threshold_pct"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WebhookAPIKey string `yaml:"webhook_api_key"`
	RedisPassword string `yaml:"redis_password"`
}

// DefaultManifest lists the static assets precached on install, relative to the base path.
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/icons/icon-72.png",
	"/icons/icon-96.png",
	"/icons/icon-128.png",
	"/icons/icon-144.png",
	"/icons/icon-152.png",
	"/icons/icon-192.png",
	"/icons/icon-384.png",
	"/icons/icon-512.png",
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), an optional .env
// file and config/secrets.yaml. Env vars override file values. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.GeocodingURL = stringOr(fc.WeatherAPI.GeocodingURL, "https://geocoding-api.open-meteo.com/v1/search")
	cfg.ForecastURL = stringOr(fc.WeatherAPI.ForecastURL, "https://api.open-meteo.com/v1/forecast")
	cfg.WeatherLanguage = stringOr(fc.WeatherAPI.Language, "fr")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.CoalesceTimeout, 8*time.Second)
	cfg.CircuitBreakerEnabled = fc.Reliability.CircuitBreaker.Enabled
	cfg.CircuitBreakerFailureThreshold = fc.Reliability.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = fc.Reliability.CircuitBreaker.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second)

	cfg.WorkerVersion = stringOr(fc.Worker.Version, "meteo-pwa-v1")
	cfg.WorkerScriptURL = stringOr(fc.Worker.ScriptURL, "http://localhost:5173/service-worker.js")
	cfg.WorkerDataHosts = fc.Worker.DataHosts
	if len(cfg.WorkerDataHosts) == 0 {
		cfg.WorkerDataHosts = []string{"open-meteo.com"}
	}
	cfg.WorkerManifest = fc.Worker.Manifest
	if len(cfg.WorkerManifest) == 0 {
		cfg.WorkerManifest = append([]string(nil), DefaultManifest...)
	}
	cfg.WorkerSkipWaitingOnInstall = true
	if fc.Worker.SkipWaitingOnInstall != nil {
		cfg.WorkerSkipWaitingOnInstall = *fc.Worker.SkipWaitingOnInstall
	}
	cfg.WorkerInstallTimeout = parseDuration(fc.Worker.InstallTimeout, 30*time.Second)

	cfg.CacheBackend = envOr("CACHE_BACKEND", fc.Cache.Backend, "in_memory")
	cfg.RedisAddr = envOr("REDIS_ADDR", fc.Cache.Redis.Addr, "localhost:6379")
	cfg.RedisPassword = stringOr(os.Getenv("REDIS_PASSWORD"), stringOr(sec.RedisPassword, fc.Cache.Redis.Password))
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisKeyPrefix = stringOr(fc.Cache.Redis.KeyPrefix, "meteo:")

	cfg.NotifyPermission = strings.ToLower(stringOr(strings.TrimSpace(fc.Notifications.Permission), "granted"))
	cfg.NotifyStore = envOr("NOTIFY_STORE", fc.Notifications.Store, "in_memory")
	cfg.NotifyFilePath = stringOr(fc.Notifications.FilePath, filepath.Join(cwd, "data", "notifications.json"))
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = stringOr(strings.TrimSpace(fc.Notifications.Memcached.Addrs), "localhost:11211")
	}
	cfg.MemcachedTimeout = parseDuration(fc.Notifications.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Notifications.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.WebhookURL = stringOr(strings.TrimSpace(os.Getenv("WEBHOOK_URL")), fc.Notifications.Webhook.URL)
	cfg.WebhookAPIKey = stringOr(os.Getenv("WEBHOOK_API_KEY"), sec.WebhookAPIKey)
	cfg.WebhookTimeout = parseDuration(fc.Notifications.Webhook.Timeout, 5*time.Second)
	cfg.ControllerWait = parseDuration(fc.Notifications.ControllerWait, 2*time.Second)
	cfg.DebounceDelay = parseDurationOrZero(fc.Notifications.Debounce, 300*time.Millisecond)
	cfg.TrackedCities = fc.Notifications.TrackedCities
	cfg.Schedule = stringOr(strings.TrimSpace(fc.Notifications.Schedule), "*/15 * * * *")

	cfg.OfflineWindow = parseDuration(fc.Health.OfflineWindow, time.Minute)
	cfg.OfflineThresholdPct = fc.Health.OfflineThresholdPct
	if cfg.OfflineThresholdPct <= 0 {
		cfg.OfflineThresholdPct = 50
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// envOr returns the lower-cased env var if set, else the file value, else def.
func envOr(key, fileVal, def string) string {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		v = strings.TrimSpace(strings.ToLower(fileVal))
	}
	if v == "" {
		return def
	}
	return v
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// RequestTimeout is raised above WeatherAPITimeout when needed.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.DebounceDelay < 0 {
		return fmt.Errorf("notifications.debounce must not be negative")
	}
	switch cfg.CacheBackend {
	case "in_memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be in_memory or redis, got %q", cfg.CacheBackend)
	}
	switch cfg.NotifyStore {
	case "in_memory", "file", "memcached":
	default:
		return fmt.Errorf("notifications.store must be in_memory, file or memcached, got %q", cfg.NotifyStore)
	}
	switch cfg.NotifyPermission {
	case "default", "granted", "denied":
	default:
		return fmt.Errorf("notifications.permission must be default, granted or denied, got %q", cfg.NotifyPermission)
	}
	u, err := url.Parse(cfg.WorkerScriptURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("worker.script_url must be an absolute URL, got %q", cfg.WorkerScriptURL)
	}
	if strings.TrimSpace(cfg.WorkerVersion) == "" {
		return fmt.Errorf("worker.version is required")
	}
	return nil
}
