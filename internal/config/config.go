package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied during Load when the file leaves fields unset.
const (
	DefaultCameraPort      = 80
	DefaultMQTTPort        = 1883
	DefaultEventTimeout    = 5 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultPublishTimeout  = 10 * time.Second
	DefaultStabilityWindow = 30 * time.Second
	DefaultQueueCapacity   = 1024
	DefaultPersistInterval = 60 * time.Second
	DefaultDrainBudget     = 5 * time.Second
	DefaultCatalogPath     = "catalog.json"
	DefaultBaseTopic       = "hikvision"
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultClientID        = "ts-hikbridge"
)

// Duration accepts "5s"-style YAML values (and bare integers, read as
// seconds); yaml.v3 has no native time.Duration support.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if n, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(n) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	General General  `yaml:"general"`
	MQTT    MQTT     `yaml:"mqtt"`
	NATS    NATS     `yaml:"nats"`
	Cameras []Camera `yaml:"cameras"`
}

type General struct {
	CatalogPath string `yaml:"catalog_path"`
	LogLevel    string `yaml:"log_level"`
	HTTPListen  string `yaml:"http_listen"`
}

type MQTT struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	BaseTopic       string `yaml:"base_topic"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	ClientID        string `yaml:"client_id"`
}

// NATS is optional; the exporter is wired only when URL is set.
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type Camera struct {
	ID                string   `yaml:"id"`
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	Username          string   `yaml:"username"`
	Password          string   `yaml:"password"`
	Name              string   `yaml:"name"`
	IgnoredEventTypes []string `yaml:"ignored_event_types"`
	EventTimeout      Duration `yaml:"event_timeout"`
	AllowBasicAuth    bool     `yaml:"allow_basic_auth"`
}

// Ignores reports whether eventType is configured to be dropped for this camera.
func (c *Camera) Ignores(eventType string) bool {
	for _, t := range c.IgnoredEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

func (c *Camera) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// Load reads, parses and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.General.CatalogPath == "" {
		c.General.CatalogPath = DefaultCatalogPath
	}
	if c.General.LogLevel == "" {
		c.General.LogLevel = "info"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = DefaultMQTTPort
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = DefaultBaseTopic
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultClientID
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		c.NATS.Subject = "hikbridge.events"
	}
	for i := range c.Cameras {
		cam := &c.Cameras[i]
		if cam.Port == 0 {
			cam.Port = DefaultCameraPort
		}
		if cam.Name == "" {
			cam.Name = cam.ID
		}
		if cam.EventTimeout == 0 {
			cam.EventTimeout = Duration(DefaultEventTimeout)
		}
	}
}

func (c *Config) validate() error {
	if c.MQTT.Host == "" {
		return fmt.Errorf("config: mqtt.host is required")
	}
	if len(c.Cameras) == 0 {
		return fmt.Errorf("config: at least one camera is required")
	}
	seen := make(map[string]bool, len(c.Cameras))
	for i := range c.Cameras {
		cam := &c.Cameras[i]
		if cam.ID == "" {
			return fmt.Errorf("config: camera #%d is missing an id", i+1)
		}
		if seen[cam.ID] {
			return fmt.Errorf("config: duplicate camera id %q", cam.ID)
		}
		seen[cam.ID] = true
		if cam.Host == "" {
			return fmt.Errorf("config: camera %s is missing a host", cam.ID)
		}
		if cam.Username == "" || cam.Password == "" {
			return fmt.Errorf("config: camera %s is missing credentials", cam.ID)
		}
		if cam.EventTimeout < 0 {
			return fmt.Errorf("config: camera %s has a negative event_timeout", cam.ID)
		}
	}
	return nil
}

// DebugEnabled reports whether [DEBUG] logging should be emitted.
func (c *Config) DebugEnabled() bool {
	return c.General.LogLevel == "debug"
}
