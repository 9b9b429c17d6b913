package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config contains runtime configuration required by the observer.
type Config struct {
	// NodeID is the observer's logical name in the mesh, carried in dock
	// approvals and audit records it emits about itself.
	NodeID string

	UDPAddr  string
	HTTPAddr string

	DBURL string

	// AMQPURL is optional; empty disables the broker-backed notifier and
	// notifications stay on the in-process bus.
	AMQPURL      string
	AMQPExchange string

	// BridgeRate/BridgeBurst bound the HTTP bridge (requests per second and
	// burst size).
	BridgeRate  float64
	BridgeBurst int

	LogLevel string
}

// Load reads configuration from environment variables. Only DB_URL is
// required; everything else has a local-dev default.
func Load() (Config, error) {
	cfg := Config{
		NodeID:       envOr("NODE_ID", "observer"),
		UDPAddr:      envOr("UDP_ADDR", ":9700"),
		HTTPAddr:     envOr("HTTP_ADDR", ":8080"),
		DBURL:        strings.TrimSpace(os.Getenv("DB_URL")),
		AMQPURL:      strings.TrimSpace(os.Getenv("AMQP_URL")),
		AMQPExchange: envOr("AMQP_EXCHANGE", "mesh.notifications"),
		BridgeRate:   50,
		BridgeBurst:  100,
		LogLevel:     envOr("LOG_LEVEL", "info"),
	}

	if cfg.DBURL == "" {
		return Config{}, errors.New("DB_URL required")
	}

	if v := strings.TrimSpace(os.Getenv("BRIDGE_RATE")); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil || rate <= 0 {
			return Config{}, fmt.Errorf("BRIDGE_RATE must be a positive number, got %q", v)
		}
		cfg.BridgeRate = rate
	}

	if v := strings.TrimSpace(os.Getenv("BRIDGE_BURST")); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil || burst <= 0 {
			return Config{}, fmt.Errorf("BRIDGE_BURST must be a positive integer, got %q", v)
		}
		cfg.BridgeBurst = burst
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
