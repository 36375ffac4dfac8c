// Package config loads the core's configuration from file, environment
// variables, and defaults, and hot-reloads the provider credential section
// when the backing file changes.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	defaultPollInterval = 10 * time.Second
	defaultMaxPollTime  = 600 * time.Second
	defaultBackoffBase  = 1 * time.Second
	defaultBackoffMax   = 60 * time.Second
	defaultMaxRetries   = 3
)

// Config is the process's full configuration surface.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Models   ModelsConfig   `mapstructure:"models"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
}

type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type QueueConfig struct {
	RedisURL string `mapstructure:"redis_url"`
}

type StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	EmulatorHost    string `mapstructure:"emulator_host"`
	AssetsBucket    string `mapstructure:"assets_bucket"`
	ScriptsBucket   string `mapstructure:"scripts_bucket"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type LoggingConfig struct {
	Mode string `mapstructure:"mode"` // "prod" or "dev"
}

type RetryConfig struct {
	Base       time.Duration `mapstructure:"base"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	MaxRetries int           `mapstructure:"max_retries"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxPollTime  time.Duration `mapstructure:"max_poll_time"`
}

type ModelsConfig struct {
	Planning  string `mapstructure:"planning"`
	Scripting string `mapstructure:"scripting"`
	Metadata  string `mapstructure:"metadata"`
}

// ProvidersConfig holds the four provider credentials. Only TextLLM is
// strictly required; Speech/Avatar/Video may be empty, in which case the
// corresponding stages error with `validation` if invoked.
type ProvidersConfig struct {
	TextLLM ProviderCreds `mapstructure:"text_llm"`
	Speech  ProviderCreds `mapstructure:"speech"`
	Avatar  ProviderCreds `mapstructure:"avatar"`
	Video   ProviderCreds `mapstructure:"video"`
}

type ProviderCreds struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type SupervisorConfig struct {
	OrphanThreshold  time.Duration `mapstructure:"orphan_threshold"`
	ReaperCron       string        `mapstructure:"reaper_cron"`
	SyncCron         string        `mapstructure:"sync_cron"`
	ActiveTaskStates []string      `mapstructure:"active_task_states"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("queue.redis_url", "")

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.emulator_host", "")
	v.SetDefault("storage.credentials_file", "")
	v.SetDefault("storage.assets_bucket", "assets")
	v.SetDefault("storage.scripts_bucket", "scripts")

	v.SetDefault("logging.mode", "prod")

	v.SetDefault("retry.base", defaultBackoffBase)
	v.SetDefault("retry.max_delay", defaultBackoffMax)
	v.SetDefault("retry.max_retries", defaultMaxRetries)
	v.SetDefault("retry.poll_interval", defaultPollInterval)
	v.SetDefault("retry.max_poll_time", defaultMaxPollTime)

	v.SetDefault("models.planning", "gpt-4o-mini")
	v.SetDefault("models.scripting", "gpt-4o-mini")
	v.SetDefault("models.metadata", "gpt-4o-mini")

	for _, p := range []string{"text_llm", "speech", "avatar", "video"} {
		v.SetDefault("providers."+p+".base_url", "")
		v.SetDefault("providers."+p+".api_key", "")
	}

	v.SetDefault("supervisor.orphan_threshold", 15*time.Minute)
	v.SetDefault("supervisor.reaper_cron", "0 * * * * *")
	v.SetDefault("supervisor.sync_cron", "*/30 * * * * *")
	v.SetDefault("supervisor.active_task_states", []string{"pending", "started", "received", "retry"})
}

// Load reads configPath (or the default search path) plus CONTENTFORGE_*
// environment variables into a Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/contentforge")
	}

	v.SetEnvPrefix("CONTENTFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// Watcher hot-reloads the Providers section (credentials, base URLs) when
// the backing file changes, without requiring a process restart to rotate
// a provider API key. Everything else in Config is treated as fixed at
// process start.
type Watcher struct {
	mu   sync.RWMutex
	v    *viper.Viper
	path string
	cur  ProvidersConfig
}

func NewWatcher(configPath string) (*Watcher, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("CONTENTFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	w := &Watcher{v: v, path: configPath}
	if err := w.reload(); err != nil {
		return nil, err
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		_ = w.reload()
	})
	v.WatchConfig()
	return w, nil
}

func (w *Watcher) reload() error {
	var p ProvidersConfig
	if err := w.v.UnmarshalKey("providers", &p); err != nil {
		return err
	}
	w.mu.Lock()
	w.cur = p
	w.mu.Unlock()
	return nil
}

func (w *Watcher) Providers() ProvidersConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}
