package config

import (
	"testing"
	"time"
)

func TestLoadRequiresRelays(t *testing.T) {
	configViper := NewViper()
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error when no relay is configured")
	}
}

func TestLoadParsesRelayList(t *testing.T) {
	configViper := NewViper()
	configViper.Set("relays", "wss://relay-a.example.com/, ws://relay-b.example.com")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.RelayURLs) != 2 {
		t.Fatalf("expected 2 relays, got %#v", cfg.RelayURLs)
	}
	if cfg.RelayURLs[0] != "wss://relay-a.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.RelayURLs[0])
	}
	if cfg.RelayURLs[1] != "ws://relay-b.example.com" {
		t.Fatalf("unexpected second relay: %q", cfg.RelayURLs[1])
	}
}

func TestLoadRejectsNonWebsocketScheme(t *testing.T) {
	configViper := NewViper()
	configViper.Set("relays", "https://relay.example.com")

	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for non-websocket relay url")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("relays", "wss://relay.example.com")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath)
	}
	if cfg.WorkerBackoff != 5*time.Second {
		t.Fatalf("unexpected worker backoff: %v", cfg.WorkerBackoff)
	}
	if cfg.BatchSize != defaultBatchSize {
		t.Fatalf("unexpected batch size: %d", cfg.BatchSize)
	}
	if cfg.ConnectionMaxIdle != 5*time.Minute {
		t.Fatalf("unexpected max idle: %v", cfg.ConnectionMaxIdle)
	}
}
