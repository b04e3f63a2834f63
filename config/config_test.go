package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t, "logging_level", "rabbit_host", "replica_id", "replicas_count", "input", "output")
	os.Setenv("logging_level", "DEBUG")
	os.Setenv("rabbit_host", "rabbitmq")
	os.Setenv("replica_id", "2")
	os.Setenv("replicas_count", "4")
	os.Setenv("input", "flights")

	v, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.LoggingLevel != "DEBUG" || v.RabbitHost != "rabbitmq" || v.ReplicaID != 2 || v.ReplicasCount != 4 || v.Input != "flights" {
		t.Fatalf("unexpected values: %+v", v)
	}
}

func TestLoadDefaultsLoggingLevel(t *testing.T) {
	clearEnv(t, "logging_level")
	v, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.LoggingLevel != "INFO" {
		t.Fatalf("expected default logging_level INFO, got %q", v.LoggingLevel)
	}
}

func TestLoadFillsFromYAMLFile(t *testing.T) {
	clearEnv(t, "logging_level", "rabbit_host", "replica_id")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "logging_level: WARN\nrabbit_host: rabbitmq.internal\nreplica_id: 3\nextra:\n  grouper_replicas_count: \"5\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.LoggingLevel != "WARN" || v.RabbitHost != "rabbitmq.internal" || v.ReplicaID != 3 {
		t.Fatalf("unexpected values: %+v", v)
	}
	n, err := v.ExtraInt("grouper_replicas_count", 0)
	if err != nil {
		t.Fatalf("ExtraInt: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected grouper_replicas_count 5, got %d", n)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	clearEnv(t, "logging_level")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("expected no error for a missing config file, got %v", err)
	}
}

func TestExtraIntDefault(t *testing.T) {
	v := Values{}
	n, err := v.ExtraInt("missing", 7)
	if err != nil {
		t.Fatalf("ExtraInt: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected default 7, got %d", n)
	}
}
