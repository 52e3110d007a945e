package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("SUMMARY_TTL_SECONDS", "")
	t.Setenv("LOCK_TTL_SECONDS", "-3")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("SALES_TOPIC", "")

	cfg := fromEnv()
	if cfg.Address() != ":8080" {
		t.Fatalf("expected default address, got %q", cfg.Address())
	}
	if cfg.SummaryTTL() != 30*time.Second {
		t.Fatalf("expected 30s summary ttl, got %s", cfg.SummaryTTL())
	}
	if cfg.LockTTL() != 10*time.Second {
		t.Fatalf("expected invalid lock ttl to fall back to 10s, got %s", cfg.LockTTL())
	}
	if cfg.SalesTopic != "consignment.sales" {
		t.Fatalf("unexpected default topic %q", cfg.SalesTopic)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("expected no brokers, got %v", cfg.KafkaBrokers)
	}
}

func TestKafkaBrokersAreSplit(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")

	cfg := fromEnv()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{Port: "80a"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected non-numeric port to fail")
	}

	cfg = Config{Port: "8080", KafkaBrokers: []string{"kafka:9092"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing topic to fail when brokers are set")
	}

	cfg.SalesTopic = "consignment.sales"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadFileAppliesEnvFile(t *testing.T) {
	t.Setenv("SALES_TOPIC", "")
	os.Unsetenv("SALES_TOPIC")

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("SALES_TOPIC=finance.sales\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.SalesTopic != "finance.sales" {
		t.Fatalf("expected topic from env file, got %q", cfg.SalesTopic)
	}
	os.Unsetenv("SALES_TOPIC")
}

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("expected missing env file to be ignored, got %v", err)
	}
}
