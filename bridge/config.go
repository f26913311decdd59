package bridge

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	widgetapi "github.com/matrix-org/go-widget-api"
	"github.com/matrix-org/go-widget-api/capability"
	"github.com/matrix-org/go-widget-api/schema"
)

// Config describes the bridge: where it listens, which widgets it serves
// and what the built-in driver hands out.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr" json:"addr"`

	// AllowedOrigin, when set, restricts websocket upgrades to pages
	// served from this origin.
	AllowedOrigin string `yaml:"allowedOrigin,omitempty" json:"allowedOrigin,omitempty"`

	// Widgets are the widget definitions the bridge serves sessions for,
	// keyed by their IDs.
	Widgets []widgetapi.Definition `yaml:"widgets" json:"widgets"`

	Driver DriverConfig `yaml:"driver" json:"driver"`
}

// DriverConfig configures the bridge's built-in static driver.
type DriverConfig struct {
	// AllowedCapabilities are granted when requested; everything else is
	// denied.
	AllowedCapabilities []capability.Capability `yaml:"allowedCapabilities,omitempty" json:"allowedCapabilities,omitempty"`

	// OpenID, when set, is handed to widgets that ask for identity
	// credentials. Without it identity requests are blocked.
	OpenID *schema.OpenIDCredentials `yaml:"openid,omitempty" json:"openid,omitempty"`

	// TurnServers are streamed to widgets that watch for TURN credentials.
	TurnServers []schema.TurnServer `yaml:"turnServers,omitempty" json:"turnServers,omitempty"`

	// RoomID is the room the driver pretends the user is viewing.
	RoomID string `yaml:"roomId,omitempty" json:"roomId,omitempty"`

	// UserID is reported as the sender of events the driver sends.
	UserID string `yaml:"userId,omitempty" json:"userId,omitempty"`
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		// Bind only to localhost unless configured otherwise.
		c.Addr = "127.0.0.1:8448"
	}
	if c.Driver.RoomID == "" {
		c.Driver.RoomID = "!bridge:localhost"
	}
	if c.Driver.UserID == "" {
		c.Driver.UserID = "@bridge:localhost"
	}
}

// Validate checks the config for widget definitions that would be rejected
// at session time.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Widgets))
	for i := range c.Widgets {
		definition := &c.Widgets[i]
		if _, err := widgetapi.NewWidget(*definition); err != nil {
			return fmt.Errorf("widget %q: %w", definition.ID, err)
		}
		if seen[definition.ID] {
			return fmt.Errorf("duplicate widget ID %q", definition.ID)
		}
		seen[definition.ID] = true
	}
	return nil
}

// Widget returns the definition for the given widget ID.
func (c *Config) Widget(widgetID string) (*widgetapi.Definition, bool) {
	for i := range c.Widgets {
		if c.Widgets[i].ID == widgetID {
			return &c.Widgets[i], true
		}
	}
	return nil, false
}
