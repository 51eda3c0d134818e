package config

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database" validate:"required"`
	Auth        AuthConfig        `mapstructure:"auth" validate:"required"`
	Cache       CacheConfig       `mapstructure:"cache" validate:"required"`
	Governor    GovernorConfig    `mapstructure:"governor" validate:"required"`
	Queue       QueueConfig       `mapstructure:"queue" validate:"required"`
	Deferred    DeferredConfig    `mapstructure:"deferred" validate:"required"`
	Selector    SelectorConfig    `mapstructure:"selector" validate:"required"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Providers   []ProviderConfig  `mapstructure:"providers" validate:"dive"`
	// Catalog optionally points at a YAML pricing catalog merged into Providers.
	Catalog string `mapstructure:"catalog"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// LogFile, when set, receives a rotated copy of the JSON log stream.
	LogFile          string `mapstructure:"log_file"`
	LogFileMaxSizeMB int    `mapstructure:"log_file_max_size_mb" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
}

// AuthConfig contains the settings used to validate API bearer tokens.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
	// TokenLifetimeMinutes bounds tokens minted by the "token" command.
	TokenLifetimeMinutes int `mapstructure:"token_lifetime_minutes" validate:"gt=0"`
}

// CacheConfig controls the provider response cache.
type CacheConfig struct {
	Backend              string `mapstructure:"backend" validate:"required,oneof=memory sqlite redis"`
	TTLMinutes           int    `mapstructure:"ttl_minutes" validate:"gt=0"`
	MaxEntries           int    `mapstructure:"max_entries" validate:"gt=0"`
	SweepIntervalSeconds int    `mapstructure:"sweep_interval_seconds" validate:"gt=0"`
	SQLitePath           string `mapstructure:"sqlite_path" validate:"required_if=Backend sqlite"`
	RedisAddr            string `mapstructure:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword        string `mapstructure:"redis_password"`
	RedisDB              int    `mapstructure:"redis_db" validate:"gte=0"`
}

// GovernorConfig contains the alert thresholds used by the cost governor.
type GovernorConfig struct {
	WarnRatio float64 `mapstructure:"warn_ratio" validate:"gt=0,lte=1"`
	MaxAlerts int     `mapstructure:"max_alerts" validate:"gt=0"`
}

// QueueConfig controls the durable generation job queue and its runner.
type QueueConfig struct {
	WorkerCount               int `mapstructure:"worker_count" validate:"gt=0"`
	WakeQueueSize             int `mapstructure:"wake_queue_size" validate:"gt=0"`
	MaxRetries                int `mapstructure:"max_retries" validate:"gte=0"`
	StaleJobMinutes           int `mapstructure:"stale_job_minutes" validate:"gt=0"`
	FailedRetentionMinutes    int `mapstructure:"failed_retention_minutes" validate:"gt=0"`
	DrainIntervalSeconds      int `mapstructure:"drain_interval_seconds" validate:"gt=0"`
	StuckCheckIntervalSeconds int `mapstructure:"stuck_check_interval_seconds" validate:"gt=0"`
}

// DeferredConfig controls the deferred request queue replayer.
type DeferredConfig struct {
	MaxRetries            int `mapstructure:"max_retries" validate:"gt=0"`
	ReplayIntervalSeconds int `mapstructure:"replay_interval_seconds" validate:"gt=0"`
}

// SelectorConfig controls the adaptive low-latency provider selector.
type SelectorConfig struct {
	// Candidates names exactly two providers that are interchangeable for lookups.
	Candidates     []string `mapstructure:"candidates" validate:"omitempty,len=2,dive,required"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds" validate:"gt=0"`
}

// CredentialsConfig locates the encrypted credential vault.
type CredentialsConfig struct {
	VaultPath  string `mapstructure:"vault_path"`
	Passphrase string `mapstructure:"passphrase" validate:"required_with=VaultPath"`
}

// ProviderConfig describes one upstream provider, its pricing and its caps.
type ProviderConfig struct {
	Name              string  `mapstructure:"name" yaml:"name" validate:"required"`
	Type              string  `mapstructure:"type" yaml:"type" validate:"required,oneof=gemini openai chartranslate"`
	Model             string  `mapstructure:"model" yaml:"model"`
	Endpoint          string  `mapstructure:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	APIKey            string  `mapstructure:"api_key" yaml:"-"`
	InputRate         float64 `mapstructure:"input_rate" yaml:"input_rate" validate:"gte=0"`
	OutputRate        float64 `mapstructure:"output_rate" yaml:"output_rate" validate:"gte=0"`
	CharRate          float64 `mapstructure:"char_rate" yaml:"char_rate" validate:"gte=0"`
	DailyCap          float64 `mapstructure:"daily_cap" yaml:"daily_cap" validate:"gte=0"`
	MonthlyCap        float64 `mapstructure:"monthly_cap" yaml:"monthly_cap" validate:"gte=0"`
	DailyRequestLimit int64   `mapstructure:"daily_request_limit" yaml:"daily_request_limit" validate:"gte=0"`
	DailyTokenLimit   int64   `mapstructure:"daily_token_limit" yaml:"daily_token_limit" validate:"gte=0"`
	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=0"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=0"`
}
