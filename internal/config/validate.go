package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}

	// Budget validation
	if cfg.Budget.DailyLimit < 0 {
		errs = append(errs, fmt.Sprintf("budget.daily_limit must be non-negative, got %.4f", cfg.Budget.DailyLimit))
	}
	if cfg.Budget.MonthlyLimit < 0 {
		errs = append(errs, fmt.Sprintf("budget.monthly_limit must be non-negative, got %.4f", cfg.Budget.MonthlyLimit))
	}
	if cfg.Budget.PerUserDailyLimit < 0 {
		errs = append(errs, fmt.Sprintf("budget.per_user_daily_limit must be non-negative, got %.4f", cfg.Budget.PerUserDailyLimit))
	}
	if cfg.Budget.AlertThreshold <= 0 || cfg.Budget.AlertThreshold > 1 {
		errs = append(errs, fmt.Sprintf("budget.alert_threshold must be in (0, 1], got %.2f", cfg.Budget.AlertThreshold))
	}
	if cfg.Budget.EmergencyThreshold <= 0 || cfg.Budget.EmergencyThreshold > 1 {
		errs = append(errs, fmt.Sprintf("budget.emergency_threshold must be in (0, 1], got %.2f", cfg.Budget.EmergencyThreshold))
	}
	if cfg.Budget.AlertThreshold >= cfg.Budget.EmergencyThreshold {
		errs = append(errs, fmt.Sprintf("budget.alert_threshold (%.2f) must be below budget.emergency_threshold (%.2f)", cfg.Budget.AlertThreshold, cfg.Budget.EmergencyThreshold))
	}

	// Tier validation
	if len(cfg.Tiers) == 0 {
		errs = append(errs, "tiers must define at least one tier")
	}
	ranks := make(map[int]string, len(cfg.Tiers))
	for name, t := range cfg.Tiers {
		if t.Quality < 0 || t.Quality > 1 {
			errs = append(errs, fmt.Sprintf("tiers.%s.quality must be between 0 and 1, got %.2f", name, t.Quality))
		}
		if t.InputPer1K < 0 || t.OutputPer1K < 0 {
			errs = append(errs, fmt.Sprintf("tiers.%s rates must be non-negative", name))
		}
		if t.Rank < 0 {
			errs = append(errs, fmt.Sprintf("tiers.%s.rank must be non-negative, got %d", name, t.Rank))
		}
		if other, dup := ranks[t.Rank]; dup {
			errs = append(errs, fmt.Sprintf("tiers.%s.rank %d collides with tiers.%s (downgrade order must be total)", name, t.Rank, other))
		}
		ranks[t.Rank] = name
	}

	// Cache validation
	if cfg.Cache.MaxSize < 1 {
		errs = append(errs, fmt.Sprintf("cache.max_size must be at least 1, got %d", cfg.Cache.MaxSize))
	}
	if cfg.Cache.MaxAgeDays < 1 {
		errs = append(errs, fmt.Sprintf("cache.max_age_days must be at least 1, got %d", cfg.Cache.MaxAgeDays))
	}
	if cfg.Cache.SimilarityThreshold <= 0 || cfg.Cache.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Sprintf("cache.similarity_threshold must be in (0, 1], got %.2f", cfg.Cache.SimilarityThreshold))
	}
	if cfg.Cache.HotEntries < 1 {
		errs = append(errs, fmt.Sprintf("cache.hot_entries must be at least 1, got %d", cfg.Cache.HotEntries))
	}

	// Batch validation
	if cfg.Batch.BatchSize < 1 {
		errs = append(errs, fmt.Sprintf("batch.batch_size must be at least 1, got %d", cfg.Batch.BatchSize))
	}
	if cfg.Batch.BatchTimeoutMs < 1 {
		errs = append(errs, fmt.Sprintf("batch.batch_timeout_ms must be at least 1, got %d", cfg.Batch.BatchTimeoutMs))
	}
	if cfg.Batch.DedupWindowSeconds < 0 {
		errs = append(errs, fmt.Sprintf("batch.dedup_window_seconds must be non-negative, got %d", cfg.Batch.DedupWindowSeconds))
	}
	if cfg.Batch.DedupCapacity < 1 {
		errs = append(errs, fmt.Sprintf("batch.dedup_capacity must be at least 1, got %d", cfg.Batch.DedupCapacity))
	}

	// Switcher validation
	if cfg.Switcher.BaseLength < 1 {
		errs = append(errs, fmt.Sprintf("switcher.base_length must be at least 1, got %d", cfg.Switcher.BaseLength))
	}
	for cat, w := range cfg.Switcher.CategoryWeights {
		if w < 0 || w > 1 {
			errs = append(errs, fmt.Sprintf("switcher.category_weights[%q] must be between 0 and 1, got %.2f", cat, w))
		}
	}

	// Limits validation
	for user, tier := range cfg.Limits.UserTiers {
		switch strings.ToLower(tier) {
		case "free", "beta", "vip", "admin", "unlimited":
		default:
			errs = append(errs, fmt.Sprintf("limits.user_tiers[%q] references unknown tier %q", user, tier))
		}
	}

	// Ledger validation
	if cfg.Ledger.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("ledger.retention_days must be at least 1, got %d", cfg.Ledger.RetentionDays))
	}
	if cfg.Ledger.JournalBuffer < 1 {
		errs = append(errs, fmt.Sprintf("ledger.journal_buffer must be at least 1, got %d", cfg.Ledger.JournalBuffer))
	}

	// Fallback validation
	if cfg.Fallback.DeferredQueueFile == "" {
		errs = append(errs, "fallback.deferred_queue_file must not be empty")
	}

	// Tracing validation
	if cfg.Tracing.Enabled {
		validExporters := []string{"stdout", "otlp-grpc", "otlp-http"}
		if !isValidEnum(cfg.Tracing.Exporter, validExporters) {
			errs = append(errs, fmt.Sprintf("tracing.exporter must be one of %v, got %q", validExporters, cfg.Tracing.Exporter))
		}
		if cfg.Tracing.ServiceName == "" {
			errs = append(errs, "tracing.service_name must not be empty when tracing is enabled")
		}
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Sprintf("tracing.sample_rate must be between 0 and 1, got %f", cfg.Tracing.SampleRate))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
