package takeoff

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the unified file configuration for the CLI and server
type Config struct {
	Engine           EngineConfig `yaml:"engine"`
	Store            StoreConfig  `yaml:"store"`
	CalibrationCache string       `yaml:"calibrationCache,omitempty"`
	MQTT             MQTTConfig   `yaml:"mqtt,omitempty"`
	HTTP             HTTPConfig   `yaml:"http"`

	// Conditions is the condition selection replayed scripts and the server start with
	Conditions []Condition `yaml:"conditions,omitempty"`
	// Pages lists the intrinsic page sizes the server and renderers work with
	Pages []PageConfig `yaml:"pages,omitempty"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory or sqlite
	Path   string `yaml:"path,omitempty"`
}

// MQTTConfig holds the optional change-feed connection
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty"`
	Password      string `yaml:"password,omitempty"`
}

// HTTPConfig holds the server settings
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// PageConfig is the intrinsic size of one page, in points at scale 1
type PageConfig struct {
	Page   int     `yaml:"page"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"

	DefaultHTTPPort      = 8080
	DefaultPublishPrefix = "takeoff"
)

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Engine: DefaultEngineConfig(),
		Store:  StoreConfig{Driver: StoreMemory},
		HTTP:   HTTPConfig{Port: DefaultHTTPPort},
	}
}

// LoadConfig loads the configuration from a YAML file. Fields missing from the
// file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the fields that have no usable fallback
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", StoreMemory, StoreSQLite, c.Store.Driver)
	}

	if c.Engine.HistoryLimit < 0 {
		return fmt.Errorf("engine.historyLimit must not be negative")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}

	seen := make(map[string]bool, len(c.Conditions))
	for i, cond := range c.Conditions {
		if cond.ID == "" {
			return fmt.Errorf("conditions[%d].id is required", i)
		}
		if !cond.Type.Valid() {
			return fmt.Errorf("conditions[%d].type %q is not a measurement type", i, cond.Type)
		}
		if cond.Type == MeasureVolume && cond.Depth <= 0 {
			return fmt.Errorf("conditions[%d].depth must be positive for a volume condition", i)
		}
		if seen[cond.ID] {
			return fmt.Errorf("conditions[%d].id %q is duplicated", i, cond.ID)
		}
		seen[cond.ID] = true
	}

	for i, p := range c.Pages {
		if p.Page < 1 {
			return fmt.Errorf("pages[%d].page must be 1 or more", i)
		}
		if p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("pages[%d] needs a positive width and height", i)
		}
	}
	return nil
}

// EngineSettings returns the engine configuration with the calibration cache
// path filled in
func (c *Config) EngineSettings() EngineConfig {
	cfg := c.Engine
	cfg.CalibrationCache = c.CalibrationCache
	return cfg
}

// StaticPages builds a PageRenderer from the configured pages, each rendered
// at scale 1 with no rotation
func (c *Config) StaticPages() *StaticPages {
	pages := NewStaticPages()
	for _, p := range c.Pages {
		pages.SetPage(p.Page, p.Width, p.Height, 1, Rotate0)
	}
	return pages
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
