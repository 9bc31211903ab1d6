package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for QueryGate.
type Config struct {
	Server   ServerConfig          `mapstructure:"server"   toml:"server"`
	Budget   BudgetConfig          `mapstructure:"budget"   toml:"budget"`
	Tiers    map[string]TierConfig `mapstructure:"tiers"    toml:"tiers"`
	Cache    CacheConfig           `mapstructure:"cache"    toml:"cache"`
	Batch    BatchConfig           `mapstructure:"batch"    toml:"batch"`
	Switcher SwitcherConfig        `mapstructure:"switcher" toml:"switcher"`
	Limits   LimitsConfig          `mapstructure:"limits"   toml:"limits"`
	Ledger   LedgerConfig          `mapstructure:"ledger"   toml:"ledger"`
	Fallback FallbackConfig        `mapstructure:"fallback" toml:"fallback"`
	Tracing  TracingConfig         `mapstructure:"tracing"  toml:"tracing"`
}

// ServerConfig holds core process settings.
type ServerConfig struct {
	LogLevel string `mapstructure:"log_level" toml:"log_level"`
	DataDir  string `mapstructure:"data_dir"  toml:"data_dir"`
}

// BudgetConfig controls global and per-user spend limits.
// Limits are in USD; a zero limit disables that check.
type BudgetConfig struct {
	DailyLimit         float64 `mapstructure:"daily_limit"           toml:"daily_limit"`
	MonthlyLimit       float64 `mapstructure:"monthly_limit"         toml:"monthly_limit"`
	PerUserDailyLimit  float64 `mapstructure:"per_user_daily_limit"  toml:"per_user_daily_limit"`
	AlertThreshold     float64 `mapstructure:"alert_threshold"       toml:"alert_threshold"`
	EmergencyThreshold float64 `mapstructure:"emergency_threshold"   toml:"emergency_threshold"`
}

// TierConfig describes a single model tier: its quality score, per-1000-token
// rates, and its position in the downgrade order (rank 0 = most capable).
type TierConfig struct {
	Quality     float64 `mapstructure:"quality"       toml:"quality"`
	InputPer1K  float64 `mapstructure:"input_per_1k"  toml:"input_per_1k"`
	OutputPer1K float64 `mapstructure:"output_per_1k" toml:"output_per_1k"`
	Rank        int     `mapstructure:"rank"          toml:"rank"`
}

// CacheConfig controls the query cache.
type CacheConfig struct {
	MaxSize             int               `mapstructure:"max_size"             toml:"max_size"`
	MaxAgeDays          int               `mapstructure:"max_age_days"         toml:"max_age_days"`
	SimilarityThreshold float64           `mapstructure:"similarity_threshold" toml:"similarity_threshold"`
	HotEntries          int               `mapstructure:"hot_entries"          toml:"hot_entries"`
	StopPhrases         []string          `mapstructure:"stop_phrases"         toml:"stop_phrases"`
	Synonyms            map[string]string `mapstructure:"synonyms"             toml:"synonyms"`
}

// BatchConfig controls request batching and deduplication.
type BatchConfig struct {
	BatchSize          int `mapstructure:"batch_size"           toml:"batch_size"`
	BatchTimeoutMs     int `mapstructure:"batch_timeout_ms"     toml:"batch_timeout_ms"`
	DedupWindowSeconds int `mapstructure:"dedup_window_seconds" toml:"dedup_window_seconds"`
	DedupCapacity      int `mapstructure:"dedup_capacity"       toml:"dedup_capacity"`
}

// BatchTimeout returns the batch timeout as a time.Duration.
func (b BatchConfig) BatchTimeout() time.Duration {
	if b.BatchTimeoutMs <= 0 {
		return time.Duration(DefaultBatchTimeoutMs) * time.Millisecond
	}
	return time.Duration(b.BatchTimeoutMs) * time.Millisecond
}

// DedupWindow returns the dedup window as a time.Duration.
func (b BatchConfig) DedupWindow() time.Duration {
	if b.DedupWindowSeconds <= 0 {
		return time.Duration(DefaultDedupWindowSeconds) * time.Second
	}
	return time.Duration(b.DedupWindowSeconds) * time.Second
}

// SwitcherConfig controls complexity scoring and tier recommendation.
// The keyword lists are heuristics, deliberately tunable rather than baked in.
type SwitcherConfig struct {
	BaseLength      int                `mapstructure:"base_length"      toml:"base_length"`
	HighKeywords    []string           `mapstructure:"high_keywords"    toml:"high_keywords"`
	LowKeywords     []string           `mapstructure:"low_keywords"     toml:"low_keywords"`
	CategoryWeights map[string]float64 `mapstructure:"category_weights" toml:"category_weights"`
}

// LimitsConfig controls per-user quota management.
type LimitsConfig struct {
	Enabled   bool              `mapstructure:"enabled"    toml:"enabled"`
	UserTiers map[string]string `mapstructure:"user_tiers" toml:"user_tiers"`
}

// LedgerConfig controls the usage ledger.
type LedgerConfig struct {
	RetentionDays int `mapstructure:"retention_days" toml:"retention_days"`
	JournalBuffer int `mapstructure:"journal_buffer" toml:"journal_buffer"`
}

// FallbackConfig controls the degraded-service chain.
type FallbackConfig struct {
	DeferredQueueFile string `mapstructure:"deferred_queue_file" toml:"deferred_queue_file"`
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "querygate"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (QUERYGATE_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.querygate/querygate.toml
//  4. ./querygate.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: QUERYGATE_BUDGET_DAILY_LIMIT etc.
	v.SetEnvPrefix("QUERYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Determine which file(s) to read.
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".querygate"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("querygate")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Store the resolved config file path.
	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Expand ~ in data_dir.
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.querygate/querygate.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".querygate")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ImportConfig reads a TOML config file and merges it into the current config.
// The imported config is also persisted to the active config file so changes
// survive restarts.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	// Persist to the active config file so changes survive restart.
	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}

	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)

	// Budget
	v.SetDefault("budget.daily_limit", d.Budget.DailyLimit)
	v.SetDefault("budget.monthly_limit", d.Budget.MonthlyLimit)
	v.SetDefault("budget.per_user_daily_limit", d.Budget.PerUserDailyLimit)
	v.SetDefault("budget.alert_threshold", d.Budget.AlertThreshold)
	v.SetDefault("budget.emergency_threshold", d.Budget.EmergencyThreshold)

	// Cache
	v.SetDefault("cache.max_size", d.Cache.MaxSize)
	v.SetDefault("cache.max_age_days", d.Cache.MaxAgeDays)
	v.SetDefault("cache.similarity_threshold", d.Cache.SimilarityThreshold)
	v.SetDefault("cache.hot_entries", d.Cache.HotEntries)
	v.SetDefault("cache.stop_phrases", d.Cache.StopPhrases)

	// Batch
	v.SetDefault("batch.batch_size", d.Batch.BatchSize)
	v.SetDefault("batch.batch_timeout_ms", d.Batch.BatchTimeoutMs)
	v.SetDefault("batch.dedup_window_seconds", d.Batch.DedupWindowSeconds)
	v.SetDefault("batch.dedup_capacity", d.Batch.DedupCapacity)

	// Switcher
	v.SetDefault("switcher.base_length", d.Switcher.BaseLength)
	v.SetDefault("switcher.high_keywords", d.Switcher.HighKeywords)
	v.SetDefault("switcher.low_keywords", d.Switcher.LowKeywords)

	// Limits
	v.SetDefault("limits.enabled", d.Limits.Enabled)

	// Ledger
	v.SetDefault("ledger.retention_days", d.Ledger.RetentionDays)
	v.SetDefault("ledger.journal_buffer", d.Ledger.JournalBuffer)

	// Fallback
	v.SetDefault("fallback.deferred_queue_file", d.Fallback.DeferredQueueFile)

	// Tracing
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
