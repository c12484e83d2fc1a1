// Package config loads wireengine's runtime configuration from flags,
// environment variables, and an optional config file via viper, the
// same layering the matchlock CLI uses for its own subcommands.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the engine's components read at startup.
type Config struct {
	// Hub is the worker pool size; 0 means the hub picks its own
	// default (runtime.NumCPU()*2-1).
	HubWorkers int `mapstructure:"hub-workers"`

	// SegmentSize sizes every segmented queue's fixed-size chunks.
	SegmentSize int `mapstructure:"segment-size"`

	// BufferPoolSize is the bounded LIFO buffer pool's capacity.
	BufferPoolSize int `mapstructure:"buffer-pool-size"`

	// AckMagic is the leading byte sequence every stack exchanges
	// before anything else crosses the wire.
	AckMagic string `mapstructure:"ack-magic"`

	// HalfCloseIdleTimeout bounds how long a NIO network layer may sit
	// read-closed but still send-open before it is force-closed.
	HalfCloseIdleTimeout time.Duration `mapstructure:"half-close-idle-timeout"`

	// TLSCertFile/TLSKeyFile/TLSClientCAFile locate the server's
	// certificate material; TLSClientCAFile also enables mandatory
	// client authentication in the server role, per the wire format's
	// "client authentication is mandatory in the server role" rule.
	TLSCertFile     string `mapstructure:"tls-cert-file"`
	TLSKeyFile      string `mapstructure:"tls-key-file"`
	TLSClientCAFile string `mapstructure:"tls-client-ca-file"`

	// HeaderDict is the local header-exchange dictionary sent once
	// per stack, read from the config file's header-dict map; no
	// command-line flag sets it.
	HeaderDict map[string]string `mapstructure:"header-dict"`

	// EventSink selects the structured event sink: "jsonl", "cbor", or
	// "sqlite". EventSinkPath is the output file.
	EventSink     string `mapstructure:"event-sink"`
	EventSinkPath string `mapstructure:"event-sink-path"`
}

// Defaults returns a Config populated with the engine's baked-in
// defaults, before flags or a config file override anything.
func Defaults() *Config {
	return &Config{
		HubWorkers:           0,
		SegmentSize:          4096,
		BufferPoolSize:       64,
		AckMagic:             "ACK",
		HalfCloseIdleTimeout: 30 * time.Second,
		EventSink:            "jsonl",
		EventSinkPath:        "wireengine-events.jsonl",
	}
}

// Load reads configuration from (in ascending precedence) the baked-in
// defaults, an optional config file discovered by viper, environment
// variables prefixed WIREENGINE_, and already-bound pflags on v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Defaults()

	v.SetEnvPrefix("wireengine")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetConfigName("wireengine")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/wireengine")

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling: %w", err)
	}
	return cfg, nil
}
