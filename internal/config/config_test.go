package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StaleAfter != 2*time.Minute {
		t.Fatalf("stale threshold default: %s", cfg.StaleAfter)
	}
	if cfg.AcceptWindow != 60*time.Second {
		t.Fatalf("accept window default: %s", cfg.AcceptWindow)
	}
	if cfg.MaxAttempts != 5 {
		t.Fatalf("max attempts default: %d", cfg.MaxAttempts)
	}
}

func TestOverridesAndValidation(t *testing.T) {
	t.Setenv("ASSIGNMENT_ACCEPT_WINDOW", "30s")
	t.Setenv("MATCH_MAX_ATTEMPTS", "2")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AcceptWindow != 30*time.Second || cfg.MaxAttempts != 2 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("broker list: %v", cfg.KafkaBrokers)
	}
}

func TestInvalidValuesJoinErrors(t *testing.T) {
	t.Setenv("ASSIGNMENT_ACCEPT_WINDOW", "soon")
	t.Setenv("MATCHER_TOP_N", "0")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected validation errors")
	}
}
