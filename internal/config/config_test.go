package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadInventoryDefaults(t *testing.T) {
	t.Setenv("ALLOW_NEGATIVE_STOCK", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("STOCK_CACHE_TTL_SECONDS", "")

	cfg := Load()
	if cfg.AllowNegativeStock {
		t.Fatalf("expected negative stock to be disallowed by default")
	}
	if cfg.KafkaEnabled() {
		t.Fatalf("expected kafka disabled without brokers")
	}
	if cfg.StockCacheTTLSeconds != 30 {
		t.Fatalf("expected default cache ttl 30, got %d", cfg.StockCacheTTLSeconds)
	}
	if cfg.KafkaInventoryTopic != "inventory.events" || cfg.KafkaOrdersTopic != "orders.events" {
		t.Fatalf("unexpected kafka topics: %q %q", cfg.KafkaInventoryTopic, cfg.KafkaOrdersTopic)
	}
}

func TestLoadParsesBrokerListAndFlags(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " kafka-1:9092, ,kafka-2:9092 ")
	t.Setenv("ALLOW_NEGATIVE_STOCK", "true")
	t.Setenv("REDIS_DB", "nope")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "kafka-1:9092" || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
	if !cfg.AllowNegativeStock {
		t.Fatalf("expected ALLOW_NEGATIVE_STOCK=true to be honored")
	}
	if cfg.RedisDB != 0 {
		t.Fatalf("expected invalid REDIS_DB to fall back to 0, got %d", cfg.RedisDB)
	}
}
