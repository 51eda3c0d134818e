package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "LEXIGEN"

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// Watch loads the configuration and invokes onChange with a freshly validated
// Config every time the backing config file is written. Reloads that fail
// validation are logged and dropped so the previous configuration stays live.
// When no config file is in use there is nothing to watch and only the initial
// configuration is returned.
func Watch(logger *slog.Logger, onChange func(*Config)) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	if v.ConfigFileUsed() == "" {
		logger.Debug("no config file in use, hot reload disabled")
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(v)
		if err != nil {
			logger.Warn("ignoring invalid config reload",
				slog.String("file", e.Name),
				slog.String("error", err.Error()))
			return
		}
		logger.Info("configuration reloaded", slog.String("file", e.Name))
		onChange(next)
	})
	v.WatchConfig()

	return cfg, nil
}

// ErrNoVault is returned by LoadCredentials when no vault path is configured.
var ErrNoVault = errors.New("no credential vault configured")

// LoadCredentials reads only the credentials section so the vault can be
// maintained without a complete server configuration.
func LoadCredentials() (CredentialsConfig, error) {
	v, err := newViper()
	if err != nil {
		return CredentialsConfig{}, err
	}
	cfg := CredentialsConfig{
		VaultPath:  v.GetString("credentials.vault_path"),
		Passphrase: v.GetString("credentials.passphrase"),
	}
	if cfg.VaultPath == "" {
		return cfg, ErrNoVault
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func newViper() (*viper.Viper, error) {
	// A missing .env file is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if file := os.Getenv(EnvPrefix + "_CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without defaults must be bound explicitly for AutomaticEnv to see
	// them during Unmarshal.
	for _, key := range []string{
		"database.url",
		"auth.jwt_secret",
		"catalog",
		"cache.sqlite_path",
		"cache.redis_addr",
		"cache.redis_password",
		"credentials.vault_path",
		"credentials.passphrase",
		"server.log_file",
		"selector.candidates",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_file_max_size_mb", 50)

	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("auth.token_lifetime_minutes", 60)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl_minutes", 24*60)
	v.SetDefault("cache.max_entries", 1000)
	v.SetDefault("cache.sweep_interval_seconds", 300)
	v.SetDefault("cache.redis_db", 0)

	v.SetDefault("governor.warn_ratio", 0.8)
	v.SetDefault("governor.max_alerts", 50)

	v.SetDefault("queue.worker_count", 2)
	v.SetDefault("queue.wake_queue_size", 100)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.stale_job_minutes", 5)
	v.SetDefault("queue.failed_retention_minutes", 60)
	v.SetDefault("queue.drain_interval_seconds", 30)
	v.SetDefault("queue.stuck_check_interval_seconds", 60)

	v.SetDefault("deferred.max_retries", 5)
	v.SetDefault("deferred.replay_interval_seconds", 60)

	v.SetDefault("selector.timeout_seconds", 8)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Catalog != "" {
		catalog, err := LoadCatalog(cfg.Catalog)
		if err != nil {
			return nil, err
		}
		cfg.Providers = MergeCatalog(cfg.Providers, catalog)
	}
	resolveProviderKeys(cfg.Providers)

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// resolveProviderKeys fills empty provider API keys from
// LEXIGEN_PROVIDER_<NAME>_API_KEY so secrets can stay out of config files.
func resolveProviderKeys(providers []ProviderConfig) {
	for i := range providers {
		if providers[i].APIKey != "" {
			continue
		}
		providers[i].APIKey = os.Getenv(ProviderKeyEnv(providers[i].Name))
	}
}

// ProviderKeyEnv returns the environment variable consulted for a provider's API key.
func ProviderKeyEnv(name string) string {
	upper := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
	return EnvPrefix + "_PROVIDER_" + upper + "_API_KEY"
}
