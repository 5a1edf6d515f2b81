// ABOUTME: Configuration loading and parsing for device-tracker
// ABOUTME: Supports YAML or TOML files, ${VAR} expansion, legacy env overrides and durations

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete device-tracker configuration
type Config struct {
	Node       NodeConfig       `yaml:"node" toml:"node"`
	MQTT       MQTTConfig       `yaml:"mqtt" toml:"mqtt"`
	ChirpStack ChirpStackConfig `yaml:"chirpstack" toml:"chirpstack"`
	Registry   RegistryConfig   `yaml:"registry" toml:"registry"`
	Dedupe     DedupeConfig     `yaml:"dedupe" toml:"dedupe"`
	Journal    JournalConfig    `yaml:"journal" toml:"journal"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// NodeConfig identifies the node and its manifest
type NodeConfig struct {
	VSN      string `yaml:"vsn" toml:"vsn"`
	Manifest string `yaml:"manifest" toml:"manifest"`
}

// MQTTConfig holds the broker the ChirpStack integration publishes to
type MQTTConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	Topic    string `yaml:"topic" toml:"topic"`
	QoS      int    `yaml:"qos" toml:"qos"`
	ClientID string `yaml:"client_id" toml:"client_id"` // defaults to <vsn>-<hostname>-<pid>
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// ChirpStackConfig holds the network server API settings
type ChirpStackConfig struct {
	APIInterface string `yaml:"api_interface" toml:"api_interface"` // host:port
	Email        string `yaml:"email" toml:"email"`
	Password     string `yaml:"password" toml:"password"`

	RetryDelay    time.Duration `yaml:"-" toml:"-"`
	RetryDelayRaw string        `yaml:"retry_delay" toml:"retry_delay"`
}

// RegistryConfig holds the node registry API settings
type RegistryConfig struct {
	APIInterface string `yaml:"api_interface" toml:"api_interface"` // base URL
	NodeToken    string `yaml:"node_token" toml:"node_token"`
}

// DedupeConfig holds the redelivery window
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-" toml:"-"`
	TTLRaw  string        `yaml:"ttl" toml:"ttl"`
	MaxSize int           `yaml:"max_size" toml:"max_size"`
}

// JournalConfig holds the reconciliation journal location. An empty path
// disables the journal.
type JournalConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used for unset values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Manifest: "/etc/waggle/node-manifest-v2.json",
		},
		MQTT: MQTTConfig{
			Port:  1883,
			Topic: "application/+/device/+/event/up",
		},
		ChirpStack: ChirpStackConfig{
			RetryDelayRaw: "2s",
		},
		Dedupe: DedupeConfig{
			TTLRaw:  "10m",
			MaxSize: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// legacyEnv maps the environment variables of earlier tracker releases to
// the fields they override.
var legacyEnv = []struct {
	name  string
	apply func(*Config, string) error
}{
	{"WAGGLE_NODE_VSN", func(c *Config, v string) error { c.Node.VSN = v; return nil }},
	{"MANIFEST_FILE", func(c *Config, v string) error { c.Node.Manifest = v; return nil }},
	{"MQTT_SERVER_HOST", func(c *Config, v string) error { c.MQTT.Host = v; return nil }},
	{"MQTT_SERVER_PORT", func(c *Config, v string) error {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MQTT_SERVER_PORT %q: %w", v, err)
		}
		c.MQTT.Port = port
		return nil
	}},
	{"MQTT_SUBSCRIBE_TOPIC", func(c *Config, v string) error { c.MQTT.Topic = v; return nil }},
	{"CHIRPSTACK_ACCOUNT_EMAIL", func(c *Config, v string) error { c.ChirpStack.Email = v; return nil }},
	{"CHIRPSTACK_ACCOUNT_PASSWORD", func(c *Config, v string) error { c.ChirpStack.Password = v; return nil }},
	{"CHIRPSTACK_API_INTERFACE", func(c *Config, v string) error { c.ChirpStack.APIInterface = v; return nil }},
	{"API_INTERFACE", func(c *Config, v string) error { c.Registry.APIInterface = v; return nil }},
	{"NODE_TOKEN", func(c *Config, v string) error { c.Registry.NodeToken = v; return nil }},
}

// Load reads the configuration file at path, if any, applies legacy
// environment overrides and parses durations. Files ending in .toml are
// decoded as TOML, everything else as YAML. Environment variables in the
// format ${VAR_NAME} are expanded. An empty path loads defaults and the
// environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		expanded := expandEnvVars(string(data))

		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(expanded, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv overrides fields from the legacy environment variables that are
// set and non-empty.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, env := range legacyEnv {
		v, ok := lookup(env.name)
		if !ok || v == "" {
			continue
		}
		if err := env.apply(cfg, v); err != nil {
			return err
		}
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.ChirpStack.RetryDelayRaw != "" {
		cfg.ChirpStack.RetryDelay, err = time.ParseDuration(cfg.ChirpStack.RetryDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing retry_delay %q: %w", cfg.ChirpStack.RetryDelayRaw, err)
		}
	}

	if cfg.Dedupe.TTLRaw != "" {
		cfg.Dedupe.TTL, err = time.ParseDuration(cfg.Dedupe.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing ttl %q: %w", cfg.Dedupe.TTLRaw, err)
		}
	}

	return nil
}

// Validate checks that configured values are well formed. Whether a section
// is present at all is checked per command by Require.
func (c *Config) Validate() error {
	if c.MQTT.Port < 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("mqtt.port %d is out of range", c.MQTT.Port)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if c.ChirpStack.RetryDelay < 0 {
		return fmt.Errorf("chirpstack.retry_delay must not be negative")
	}
	if c.Dedupe.TTL < 0 {
		return fmt.Errorf("dedupe.ttl must not be negative")
	}
	if c.Dedupe.TTL > 0 && c.Dedupe.MaxSize <= 0 {
		return fmt.Errorf("dedupe.max_size must be positive when dedupe.ttl is set")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// Section names a configuration section a command depends on.
type Section string

const (
	SectionNode       Section = "node"
	SectionMQTT       Section = "mqtt"
	SectionChirpStack Section = "chirpstack"
	SectionRegistry   Section = "registry"
	SectionJournal    Section = "journal"
)

// Require checks that the required fields of each named section are set.
// Returns an error describing the first missing field.
func (c *Config) Require(sections ...Section) error {
	for _, s := range sections {
		switch s {
		case SectionNode:
			if c.Node.VSN == "" {
				return fmt.Errorf("node.vsn is required (or set WAGGLE_NODE_VSN)")
			}
			if c.Node.Manifest == "" {
				return fmt.Errorf("node.manifest is required (or set MANIFEST_FILE)")
			}
		case SectionMQTT:
			if c.MQTT.Host == "" {
				return fmt.Errorf("mqtt.host is required (or set MQTT_SERVER_HOST)")
			}
			if c.MQTT.Port == 0 {
				return fmt.Errorf("mqtt.port is required (or set MQTT_SERVER_PORT)")
			}
			if c.MQTT.Topic == "" {
				return fmt.Errorf("mqtt.topic is required (or set MQTT_SUBSCRIBE_TOPIC)")
			}
		case SectionChirpStack:
			if c.ChirpStack.APIInterface == "" {
				return fmt.Errorf("chirpstack.api_interface is required (or set CHIRPSTACK_API_INTERFACE)")
			}
			if c.ChirpStack.Email == "" || c.ChirpStack.Password == "" {
				return fmt.Errorf("chirpstack.email and chirpstack.password are required")
			}
		case SectionRegistry:
			if c.Registry.APIInterface == "" {
				return fmt.Errorf("registry.api_interface is required (or set API_INTERFACE)")
			}
			if c.Registry.NodeToken == "" {
				return fmt.Errorf("registry.node_token is required (or set NODE_TOKEN)")
			}
		case SectionJournal:
			if c.Journal.Path == "" {
				return fmt.Errorf("journal.path is required")
			}
		default:
			return fmt.Errorf("unknown config section %q", s)
		}
	}
	return nil
}
