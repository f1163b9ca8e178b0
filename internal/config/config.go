package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultHTTPTimeoutSec    = 60
	defaultRefreshMinutes    = 30
	defaultAutoPushThreshold = 100
	defaultListenAddr        = "127.0.0.1:8089"
	defaultLogLevel          = "warn"
)

const (
	defaultUserAgent  = "feedsync/0.1"
	configFolderName  = "feedsync"
	configFileName    = "config.toml"
	configPathEnvName = "XDG_CONFIG_HOME"

	AccountTypeNewsBlur = "newsblur"
)

type Config struct {
	DBPath            string
	HTTPTimeout       time.Duration
	UserAgent         string
	RetentionDays     int
	LogLevel          string
	RefreshInterval   time.Duration
	ListenAddr        string
	AutoPushThreshold int
	Accounts          []Account
	// Path is the config file that was applied, empty when none was found.
	Path string
}

// Account is one configured remote account.
type Account struct {
	Name     string
	Type     string
	Username string
	Password string
	Server   string
}

func LoadConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	defaultDB := filepath.Join(home, ".local", "share", "feedsync", "feedsync.db")

	cfg := Config{
		DBPath:            defaultDB,
		HTTPTimeout:       defaultHTTPTimeoutSec * time.Second,
		UserAgent:         defaultUserAgent,
		LogLevel:          defaultLogLevel,
		RefreshInterval:   defaultRefreshMinutes * time.Minute,
		ListenAddr:        defaultListenAddr,
		AutoPushThreshold: defaultAutoPushThreshold,
	}

	configPath, hasConfig, err := findConfigPath(home)
	if err != nil {
		return Config{}, err
	}
	if hasConfig {
		fileCfg, err := loadFileConfig(configPath)
		if err != nil {
			return Config{}, err
		}
		applyFileConfig(&cfg, fileCfg)
		cfg.Path = configPath
	}

	applyEnvOverrides(&cfg)

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeoutSec * time.Second
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshMinutes * time.Minute
	}
	if cfg.AutoPushThreshold < 1 {
		cfg.AutoPushThreshold = defaultAutoPushThreshold
	}
	return cfg, nil
}

// FindAccount returns the configured account with name.
func (c Config) FindAccount(name string) (Account, bool) {
	for _, a := range c.Accounts {
		if a.Name == name {
			return a, true
		}
	}
	return Account{}, false
}

type fileConfig struct {
	DBPath            *string       `toml:"db_path"`
	HTTPTimeoutSec    *int          `toml:"http_timeout_seconds"`
	UserAgent         *string       `toml:"user_agent"`
	RetentionDays     *int          `toml:"retention_days"`
	LogLevel          *string       `toml:"log_level"`
	RefreshMinutes    *int          `toml:"refresh_interval_minutes"`
	ListenAddr        *string       `toml:"listen_addr"`
	AutoPushThreshold *int          `toml:"auto_push_threshold"`
	Accounts          []fileAccount `toml:"accounts"`
}

type fileAccount struct {
	Name        string `toml:"name"`
	Type        string `toml:"type"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	PasswordEnv string `toml:"password_env"`
	Server      string `toml:"server"`
}

func findConfigPath(home string) (string, bool, error) {
	candidates := make([]string, 0, 3)
	if explicit := strings.TrimSpace(os.Getenv("FEEDSYNC_CONFIG")); explicit != "" {
		candidates = append(candidates, explicit)
	}
	if xdgConfigHome := strings.TrimSpace(os.Getenv(configPathEnvName)); xdgConfigHome != "" {
		candidates = append(candidates, filepath.Join(xdgConfigHome, configFolderName, configFileName))
	}
	candidates = append(candidates, filepath.Join(home, ".config", configFolderName, configFileName))

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", false, fmt.Errorf("config path %q is a directory; expected a file", candidate)
			}
			return candidate, true, nil
		}
		if os.IsNotExist(err) {
			continue
		}
		return "", false, fmt.Errorf("failed to read config path %q: %w", candidate, err)
	}
	return "", false, nil
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return fileConfig{}, fmt.Errorf("invalid config file %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		unknown := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			unknown = append(unknown, key.String())
		}
		sort.Strings(unknown)
		return fileConfig{}, fmt.Errorf("invalid config file %q: unknown key(s): %s", path, strings.Join(unknown, ", "))
	}
	if err := validateFileConfig(path, cfg); err != nil {
		return fileConfig{}, err
	}
	return cfg, nil
}

func validateFileConfig(path string, cfg fileConfig) error {
	if cfg.DBPath != nil && strings.TrimSpace(*cfg.DBPath) == "" {
		return fmt.Errorf("invalid config file %q: db_path must be non-empty when provided", path)
	}
	if cfg.HTTPTimeoutSec != nil && *cfg.HTTPTimeoutSec <= 0 {
		return fmt.Errorf("invalid config file %q: http_timeout_seconds must be > 0", path)
	}
	if cfg.RetentionDays != nil && *cfg.RetentionDays < 0 {
		return fmt.Errorf("invalid config file %q: retention_days must be >= 0", path)
	}
	if cfg.LogLevel != nil {
		if _, err := ParseLogLevel(*cfg.LogLevel); err != nil {
			return fmt.Errorf("invalid config file %q: %w", path, err)
		}
	}
	if cfg.RefreshMinutes != nil && *cfg.RefreshMinutes <= 0 {
		return fmt.Errorf("invalid config file %q: refresh_interval_minutes must be > 0", path)
	}
	if cfg.ListenAddr != nil && strings.TrimSpace(*cfg.ListenAddr) == "" {
		return fmt.Errorf("invalid config file %q: listen_addr must be non-empty when provided", path)
	}
	if cfg.AutoPushThreshold != nil && *cfg.AutoPushThreshold < 1 {
		return fmt.Errorf("invalid config file %q: auto_push_threshold must be >= 1", path)
	}

	seen := make(map[string]struct{}, len(cfg.Accounts))
	for i, a := range cfg.Accounts {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return fmt.Errorf("invalid config file %q: accounts[%d].name is required", path, i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("invalid config file %q: duplicate account %q", path, name)
		}
		seen[name] = struct{}{}
		if t := strings.TrimSpace(a.Type); t != "" && t != AccountTypeNewsBlur {
			return fmt.Errorf("invalid config file %q: account %q has unsupported type %q", path, name, a.Type)
		}
		if strings.TrimSpace(a.Username) == "" {
			return fmt.Errorf("invalid config file %q: account %q needs a username", path, name)
		}
		if a.Password != "" && a.PasswordEnv != "" {
			return fmt.Errorf("invalid config file %q: account %q sets both password and password_env", path, name)
		}
	}
	return nil
}

func applyFileConfig(cfg *Config, fileCfg fileConfig) {
	if fileCfg.DBPath != nil {
		cfg.DBPath = *fileCfg.DBPath
	}
	if fileCfg.HTTPTimeoutSec != nil {
		cfg.HTTPTimeout = time.Duration(*fileCfg.HTTPTimeoutSec) * time.Second
	}
	if fileCfg.UserAgent != nil && strings.TrimSpace(*fileCfg.UserAgent) != "" {
		cfg.UserAgent = *fileCfg.UserAgent
	}
	if fileCfg.RetentionDays != nil {
		cfg.RetentionDays = *fileCfg.RetentionDays
	}
	if fileCfg.LogLevel != nil {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(*fileCfg.LogLevel))
	}
	if fileCfg.RefreshMinutes != nil {
		cfg.RefreshInterval = time.Duration(*fileCfg.RefreshMinutes) * time.Minute
	}
	if fileCfg.ListenAddr != nil {
		cfg.ListenAddr = *fileCfg.ListenAddr
	}
	if fileCfg.AutoPushThreshold != nil {
		cfg.AutoPushThreshold = *fileCfg.AutoPushThreshold
	}
	for _, a := range fileCfg.Accounts {
		kind := strings.TrimSpace(a.Type)
		if kind == "" {
			kind = AccountTypeNewsBlur
		}
		password := a.Password
		if a.PasswordEnv != "" {
			password = os.Getenv(a.PasswordEnv)
		}
		cfg.Accounts = append(cfg.Accounts, Account{
			Name:     strings.TrimSpace(a.Name),
			Type:     kind,
			Username: strings.TrimSpace(a.Username),
			Password: password,
			Server:   strings.TrimSpace(a.Server),
		})
	}
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("FEEDSYNC_DB_PATH"); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := os.LookupEnv("FEEDSYNC_HTTP_TIMEOUT_SECONDS"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPTimeout = time.Duration(n) * time.Second
		}
	}
	if v, ok := os.LookupEnv("FEEDSYNC_USER_AGENT"); ok && v != "" {
		cfg.UserAgent = v
	}
	if v, ok := os.LookupEnv("FEEDSYNC_RETENTION_DAYS"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.RetentionDays = n
		}
	}
	if v, ok := os.LookupEnv("FEEDSYNC_LOG_LEVEL"); ok && v != "" {
		if _, err := ParseLogLevel(v); err == nil {
			cfg.LogLevel = strings.ToLower(strings.TrimSpace(v))
		}
	}
	if v, ok := os.LookupEnv("FEEDSYNC_REFRESH_INTERVAL_MINUTES"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RefreshInterval = time.Duration(n) * time.Minute
		}
	}
	if v, ok := os.LookupEnv("FEEDSYNC_LISTEN_ADDR"); ok && v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("FEEDSYNC_AUTO_PUSH_THRESHOLD"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.AutoPushThreshold = n
		}
	}
	// A single account can be configured from the environment alone.
	if user := os.Getenv("FEEDSYNC_NEWSBLUR_USERNAME"); user != "" {
		acct := Account{
			Name:     "newsblur",
			Type:     AccountTypeNewsBlur,
			Username: user,
			Password: os.Getenv("FEEDSYNC_NEWSBLUR_PASSWORD"),
		}
		for i := range cfg.Accounts {
			if cfg.Accounts[i].Name == acct.Name {
				cfg.Accounts[i].Username = acct.Username
				if acct.Password != "" {
					cfg.Accounts[i].Password = acct.Password
				}
				return
			}
		}
		cfg.Accounts = append(cfg.Accounts, acct)
	}
}
