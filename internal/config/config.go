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

const (
	DefaultAPIURL     = "http://localhost:3001"
	DefaultListenAddr = "127.0.0.1:8080"
	DefaultLogLevel   = "error"
)

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	MaxStale       string
	NoStale        bool
	NoCache        bool
	APIURL         string
	LogLevel       string
}

type Settings struct {
	OutputMode     string
	SelectFields   []string
	ResultsOnly    bool
	EnableCommands []string
	Timeout        time.Duration
	Retries        int
	MaxStale       time.Duration
	NoStale        bool
	CacheEnabled   bool
	CachePath      string
	CacheLockPath  string
	StorePath      string
	StoreLockPath  string
	APIURL         string
	PollInterval   time.Duration
	MaxPollRetries int
	RetryBaseDelay time.Duration
	LogLevel       string
	ListenAddr     string
	// RPCURLs maps a network name or chain id to an RPC endpoint.
	RPCURLs map[string]string
}

type fileConfig struct {
	Output   string `yaml:"output"`
	Timeout  string `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	LogLevel string `yaml:"log_level"`
	API      struct {
		URL    string `yaml:"url"`
		URLEnv string `yaml:"url_env"`
	} `yaml:"api"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Store struct {
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"store"`
	Monitor struct {
		Interval       string `yaml:"interval"`
		MaxRetries     *int   `yaml:"max_retries"`
		RetryBaseDelay string `yaml:"retry_base_delay"`
	} `yaml:"monitor"`
	Serve struct {
		Listen string `yaml:"listen"`
	} `yaml:"serve"`
	RPC map[string]string `yaml:"rpc"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}
	if settings.PollInterval <= 0 {
		settings.PollInterval = 5 * time.Second
	}
	if settings.MaxPollRetries < 0 {
		settings.MaxPollRetries = 0
	}
	if settings.RetryBaseDelay <= 0 {
		settings.RetryBaseDelay = time.Second
	}
	settings.APIURL = strings.TrimRight(strings.TrimSpace(settings.APIURL), "/")
	if settings.APIURL == "" {
		settings.APIURL = DefaultAPIURL
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	cacheDir := filepath.Dir(cachePath)
	return Settings{
		OutputMode:     "json",
		Timeout:        10 * time.Second,
		Retries:        0,
		MaxStale:       5 * time.Minute,
		CacheEnabled:   true,
		CachePath:      cachePath,
		CacheLockPath:  lockPath,
		StorePath:      filepath.Join(cacheDir, "shifts.db"),
		StoreLockPath:  filepath.Join(cacheDir, "shifts.lock"),
		APIURL:         DefaultAPIURL,
		PollInterval:   5 * time.Second,
		MaxPollRetries: 3,
		RetryBaseDelay: time.Second,
		LogLevel:       DefaultLogLevel,
		ListenAddr:     DefaultListenAddr,
		RPCURLs:        map[string]string{},
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "bridge", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "bridge")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	if cfg.API.URL != "" {
		settings.APIURL = cfg.API.URL
	}
	if cfg.API.URLEnv != "" {
		if v := os.Getenv(cfg.API.URLEnv); v != "" {
			settings.APIURL = v
		}
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.MaxStale != "" {
		d, err := time.ParseDuration(cfg.Cache.MaxStale)
		if err != nil {
			return fmt.Errorf("config cache.max_stale: %w", err)
		}
		settings.MaxStale = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Store.Path != "" {
		settings.StorePath = cfg.Store.Path
	}
	if cfg.Store.LockPath != "" {
		settings.StoreLockPath = cfg.Store.LockPath
	}
	if cfg.Monitor.Interval != "" {
		d, err := time.ParseDuration(cfg.Monitor.Interval)
		if err != nil {
			return fmt.Errorf("config monitor.interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.Monitor.MaxRetries != nil {
		settings.MaxPollRetries = *cfg.Monitor.MaxRetries
	}
	if cfg.Monitor.RetryBaseDelay != "" {
		d, err := time.ParseDuration(cfg.Monitor.RetryBaseDelay)
		if err != nil {
			return fmt.Errorf("config monitor.retry_base_delay: %w", err)
		}
		settings.RetryBaseDelay = d
	}
	if cfg.Serve.Listen != "" {
		settings.ListenAddr = cfg.Serve.Listen
	}
	for network, url := range cfg.RPC {
		settings.RPCURLs[network] = url
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("BRIDGE_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("BRIDGE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("BRIDGE_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("BRIDGE_MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := os.Getenv("BRIDGE_NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := os.Getenv("BRIDGE_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("BRIDGE_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("BRIDGE_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("BRIDGE_STORE_PATH"); v != "" {
		settings.StorePath = v
	}
	if v := os.Getenv("BRIDGE_STORE_LOCK_PATH"); v != "" {
		settings.StoreLockPath = v
	}
	if v := os.Getenv("BRIDGE_API_URL"); v != "" {
		settings.APIURL = v
	}
	if v := os.Getenv("BRIDGE_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.PollInterval = d
		}
	}
	if v := os.Getenv("BRIDGE_MAX_POLL_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.MaxPollRetries = n
		}
	}
	if v := os.Getenv("BRIDGE_RETRY_BASE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.RetryBaseDelay = d
		}
	}
	if v := os.Getenv("BRIDGE_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("BRIDGE_LISTEN"); v != "" {
		settings.ListenAddr = v
	}
	// BRIDGE_RPC_<NETWORK>=url, e.g. BRIDGE_RPC_BASE.
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "BRIDGE_RPC_") || value == "" {
			continue
		}
		network := strings.ToLower(strings.TrimPrefix(key, "BRIDGE_RPC_"))
		if network != "" {
			settings.RPCURLs[network] = value
		}
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if fields := splitList(flags.Select); len(fields) > 0 {
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly
	if allowed := splitList(flags.EnableCommands); len(allowed) > 0 {
		settings.EnableCommands = allowed
	}

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if strings.TrimSpace(flags.APIURL) != "" {
		settings.APIURL = flags.APIURL
	}
	if strings.TrimSpace(flags.LogLevel) != "" {
		settings.LogLevel = strings.ToLower(strings.TrimSpace(flags.LogLevel))
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
