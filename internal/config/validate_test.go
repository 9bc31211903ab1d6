package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Server.DataDir = "/tmp/test"
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := validate(cfg); err != nil {
		t.Fatalf("validate valid config: %v", err)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Server.LogLevel = "verbose"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for invalid log level")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level: %v", err)
	}
}

func TestValidate_EmptyDataDir(t *testing.T) {
	cfg := validConfig()
	cfg.Server.DataDir = ""

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for empty data_dir")
	}
}

func TestValidate_NegativeDailyLimit(t *testing.T) {
	cfg := validConfig()
	cfg.Budget.DailyLimit = -1

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for negative daily_limit")
	}
	if !strings.Contains(err.Error(), "daily_limit") {
		t.Errorf("error should mention daily_limit: %v", err)
	}
}

func TestValidate_AlertAboveEmergency(t *testing.T) {
	cfg := validConfig()
	cfg.Budget.AlertThreshold = 0.96
	cfg.Budget.EmergencyThreshold = 0.95

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error when alert_threshold meets emergency_threshold")
	}
	if !strings.Contains(err.Error(), "alert_threshold") {
		t.Errorf("error should mention alert_threshold: %v", err)
	}
}

func TestValidate_ThresholdOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Budget.EmergencyThreshold = 1.5

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for threshold above 1")
	}
}

func TestValidate_NoTiers(t *testing.T) {
	cfg := validConfig()
	cfg.Tiers = map[string]TierConfig{}

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for empty tier table")
	}
	if !strings.Contains(err.Error(), "tiers") {
		t.Errorf("error should mention tiers: %v", err)
	}
}

func TestValidate_DuplicateTierRank(t *testing.T) {
	cfg := validConfig()
	cfg.Tiers = map[string]TierConfig{
		"a": {Quality: 1.0, InputPer1K: 0.03, OutputPer1K: 0.06, Rank: 0},
		"b": {Quality: 0.8, InputPer1K: 0.003, OutputPer1K: 0.006, Rank: 0},
	}

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for colliding tier ranks")
	}
	if !strings.Contains(err.Error(), "rank") {
		t.Errorf("error should mention rank: %v", err)
	}
}

func TestValidate_BadSimilarityThreshold(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.SimilarityThreshold = 0

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for zero similarity_threshold")
	}
}

func TestValidate_BadBatchSize(t *testing.T) {
	cfg := validConfig()
	cfg.Batch.BatchSize = 0

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for batch_size 0")
	}
}

func TestValidate_UnknownUserTier(t *testing.T) {
	cfg := validConfig()
	cfg.Limits.UserTiers = map[string]string{"u1": "platinum"}

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown user tier")
	}
	if !strings.Contains(err.Error(), "platinum") {
		t.Errorf("error should name the unknown tier: %v", err)
	}
}

func TestValidate_CategoryWeightOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Switcher.CategoryWeights = map[string]float64{"dharma": 1.2}

	if err := validate(cfg); err == nil {
		t.Fatal("expected error for category weight above 1")
	}
}

func TestValidate_TracingExporter(t *testing.T) {
	cfg := validConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "jaeger"

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown tracing exporter")
	}
	if !strings.Contains(err.Error(), "exporter") {
		t.Errorf("error should mention exporter: %v", err)
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.LogLevel = "verbose"
	cfg.Batch.BatchSize = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected combined validation error")
	}
	if !strings.Contains(err.Error(), "log_level") || !strings.Contains(err.Error(), "batch_size") {
		t.Errorf("error should list both failures: %v", err)
	}
}
