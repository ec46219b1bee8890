package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
chirpstack:
  url: chirpstack.example.com
  port: 8080
  api_token: secret
mqtt:
  url: tcp://broker.example.com
  port: 1883
  client_id: spatzd-1
daemon:
  bind_address: 0.0.0.0
  bind_port: 9000
  managed_phone_numbers:
    - "+491701234567"
  queue_sizes:
    relay: 128
    bundle: 32
    announcement: 8
  packet_cache:
    ttl_minutes: 45
    sweep_seconds: 60
    reset_timeout: true
  routing_algorithm:
    flooding:
      periodic_send_delay_s: 10
`

func writeTestConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spatzd.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadParsesClosedKeySet(t *testing.T) {
	path := writeTestConfig(t, sampleYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ChirpStack.URL != "chirpstack.example.com" || cfg.ChirpStack.Port != 8080 {
		t.Fatalf("chirpstack section mismatch: %+v", cfg.ChirpStack)
	}
	if cfg.MQTT.ClientID != "spatzd-1" {
		t.Fatalf("mqtt section mismatch: %+v", cfg.MQTT)
	}
	if len(cfg.Daemon.ManagedNumbers) != 1 || cfg.Daemon.ManagedNumbers[0] != "+491701234567" {
		t.Fatalf("managed numbers mismatch: %v", cfg.Daemon.ManagedNumbers)
	}
	if cfg.Daemon.QueueSizes.Relay != 128 {
		t.Fatalf("queue sizes mismatch: %+v", cfg.Daemon.QueueSizes)
	}
	if cfg.PacketCacheTTL().Minutes() != 45 {
		t.Fatalf("PacketCacheTTL() = %v, want 45m", cfg.PacketCacheTTL())
	}
	if cfg.RouterCadence().Seconds() != 10 {
		t.Fatalf("RouterCadence() = %v, want 10s", cfg.RouterCadence())
	}
}

func TestLoadRejectsMissingChirpStackURL(t *testing.T) {
	path := writeTestConfig(t, `
mqtt:
  url: tcp://broker.example.com
daemon:
  routing_algorithm:
    flooding:
      periodic_send_delay_s: 5
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for a missing chirpstack.url")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate(): %v", err)
	}
}
