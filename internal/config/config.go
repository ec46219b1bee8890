// Package config loads the daemon's YAML configuration file into the
// closed key set spec.md §6 defines: ChirpStack API access, the MQTT
// broker, and the daemon's own bind address, managed phone numbers, queue
// sizes, packet-cache policy, and routing algorithm selection.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ChirpStack holds the gRPC API connection settings.
type ChirpStack struct {
	URL      string `yaml:"url"`
	Port     int    `yaml:"port"`
	APIToken string `yaml:"api_token"`
	TenantID string `yaml:"tenant_id,omitempty"`
}

// MQTT holds the broker connection settings.
type MQTT struct {
	URL      string `yaml:"url"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// PacketCache holds the deduplication cache's TTL/sweep policy.
type PacketCache struct {
	TTLMinutes   int  `yaml:"ttl_minutes"`
	SweepSeconds int  `yaml:"sweep_seconds"`
	ResetTimeout bool `yaml:"reset_timeout"`
}

// QueueSizes holds the three bounded-queue capacities.
type QueueSizes struct {
	Relay        int `yaml:"relay"`
	Bundle       int `yaml:"bundle"`
	Announcement int `yaml:"announcement"`
}

// RoutingAlgorithm selects the routing strategy. Flooding is the only
// algorithm this daemon implements; the field exists so the config schema
// has a place for a future alternative without breaking the file format.
type RoutingAlgorithm struct {
	Flooding *FloodingConfig `yaml:"flooding,omitempty"`
}

// FloodingConfig holds the flooding router's fixed drain cadence.
type FloodingConfig struct {
	PeriodicSendDelaySeconds int `yaml:"periodic_send_delay_s"`
}

// Daemon holds this node's own bind address, managed addresses, and
// queue/cache/routing policy.
type Daemon struct {
	BindAddress      string           `yaml:"bind_address"`
	BindPort         int              `yaml:"bind_port"`
	DatabasePath     string           `yaml:"database_path"`
	ManagedNumbers   []string         `yaml:"managed_phone_numbers"`
	QueueSizes       QueueSizes       `yaml:"queue_sizes"`
	PacketCache      PacketCache      `yaml:"packet_cache"`
	RoutingAlgorithm RoutingAlgorithm `yaml:"routing_algorithm"`
}

// Config is the root of the YAML configuration file.
type Config struct {
	ChirpStack ChirpStack `yaml:"chirpstack"`
	MQTT       MQTT       `yaml:"mqtt"`
	Daemon     Daemon     `yaml:"daemon"`
}

// Default returns a Config with reasonable defaults for local development
// against a docker-compose ChirpStack/MQTT stack.
func Default() Config {
	return Config{
		ChirpStack: ChirpStack{URL: "localhost", Port: 8080},
		MQTT:       MQTT{URL: "tcp://localhost", Port: 1883, ClientID: "spatzd"},
		Daemon: Daemon{
			BindAddress:  "0.0.0.0",
			BindPort:     8088,
			DatabasePath: "/var/lib/spatz/spatzd.db",
			QueueSizes:   QueueSizes{Relay: 64, Bundle: 64, Announcement: 16},
			PacketCache: PacketCache{TTLMinutes: 60, SweepSeconds: 300, ResetTimeout: false},
			RoutingAlgorithm: RoutingAlgorithm{
				Flooding: &FloodingConfig{PeriodicSendDelaySeconds: 5},
			},
		},
	}
}

// Load reads and parses the YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the fields this daemon cannot safely run without.
func (c Config) Validate() error {
	if c.ChirpStack.URL == "" {
		return fmt.Errorf("chirpstack.url is required")
	}
	if c.MQTT.URL == "" {
		return fmt.Errorf("mqtt.url is required")
	}
	if c.Daemon.RoutingAlgorithm.Flooding == nil {
		return fmt.Errorf("daemon.routing_algorithm.flooding is required (the only implemented algorithm)")
	}
	return nil
}

// PacketCacheTTL returns the packet cache's TTL as a time.Duration.
func (c Config) PacketCacheTTL() time.Duration {
	return time.Duration(c.Daemon.PacketCache.TTLMinutes) * time.Minute
}

// PacketCacheSweepInterval returns the packet cache's sweep cadence as a
// time.Duration.
func (c Config) PacketCacheSweepInterval() time.Duration {
	return time.Duration(c.Daemon.PacketCache.SweepSeconds) * time.Second
}

// RouterCadence returns the flooding router's fixed drain cadence.
func (c Config) RouterCadence() time.Duration {
	if c.Daemon.RoutingAlgorithm.Flooding == nil {
		return 0
	}
	return time.Duration(c.Daemon.RoutingAlgorithm.Flooding.PeriodicSendDelaySeconds) * time.Second
}
