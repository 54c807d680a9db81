package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dougsko/mm3d/pkg/qsolog"
	"gopkg.in/yaml.v2"
)

// DefaultSocketPath is where the control socket listens unless configured
const DefaultSocketPath = "/tmp/mm3d.sock"

// Config represents the mm3d configuration and saved settings
type Config struct {
	Station qsolog.StationProfile `yaml:"station"`
	Contest qsolog.ContestConfig  `yaml:"contest"`

	Keyer struct {
		Device         string `yaml:"device"`
		BaudRate       int    `yaml:"baud_rate"`
		SettleMS       int    `yaml:"settle_ms"`
		Speed          int    `yaml:"speed"`
		Sidetone       bool   `yaml:"sidetone"`
		KnobMode       bool   `yaml:"knob_mode"`
		RepeatEnabled  bool   `yaml:"repeat_enabled"`
		RepeatInterval string `yaml:"repeat_interval"`
		Use5NN         bool   `yaml:"use_5nn"`
		ShortenZeros   bool   `yaml:"shorten_zeros"`
	} `yaml:"keyer"`

	// Macros and Labels map F1..F12 to template text and button label
	Macros map[string]string `yaml:"macros"`
	Labels map[string]string `yaml:"labels"`

	Rig struct {
		Enabled      bool   `yaml:"enabled"`
		FrequencyHz  int64  `yaml:"frequency_hz"`
		Model        string `yaml:"model"` // hamlib model number, empty for a fixed frequency
		Device       string `yaml:"device"`
		BaudRate     int    `yaml:"baud_rate"`
		PollInterval int    `yaml:"poll_interval"` // milliseconds
	} `yaml:"rig"`

	Web struct {
		Port        int    `yaml:"port"`
		BindAddress string `yaml:"bind_address"`
	} `yaml:"web"`

	API struct {
		UnixSocket string `yaml:"unix_socket"`
	} `yaml:"api"`

	Storage struct {
		DatabasePath string `yaml:"database_path"`
	} `yaml:"storage"`

	Logging struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		Console    bool   `yaml:"console"`
		Structured bool   `yaml:"structured"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`

	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// DefaultConfig returns the configuration used when no file exists
func DefaultConfig() *Config {
	var config Config
	config.Station = qsolog.DefaultStation()
	config.Contest = qsolog.DefaultContest()
	config.Keyer.Sidetone = true
	config.Logging.Console = true
	config.Metrics.Enabled = true
	config.setDefaults()
	return &config
}

// LoadConfig loads configuration from a YAML file. Keys missing from the
// file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()
	return config, nil
}

func (c *Config) setDefaults() {
	if c.Keyer.BaudRate == 0 {
		c.Keyer.BaudRate = 1200
	}
	if c.Keyer.SettleMS == 0 {
		c.Keyer.SettleMS = 100
	}
	if c.Keyer.Speed == 0 {
		c.Keyer.Speed = 25
	}
	if c.Keyer.RepeatInterval == "" {
		c.Keyer.RepeatInterval = "2.5"
	}
	if c.Rig.PollInterval == 0 {
		c.Rig.PollInterval = 1000
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "127.0.0.1"
	}
	if c.API.UnixSocket == "" {
		c.API.UnixSocket = DefaultSocketPath
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./mm3d.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 28
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "mm3d"
	}
}

// Validate checks if the configuration is valid. A keyer speed outside
// 1-99 is reset to 25 rather than rejected.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Station.Callsign) == "" {
		return fmt.Errorf("station callsign is required")
	}
	if c.Keyer.Speed < 1 || c.Keyer.Speed > 99 {
		c.Keyer.Speed = 25
	}
	if c.Keyer.BaudRate < 0 {
		return fmt.Errorf("invalid keyer baud rate %d", c.Keyer.BaudRate)
	}
	if c.Keyer.SettleMS < 0 {
		return fmt.Errorf("invalid settle delay %dms", c.Keyer.SettleMS)
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid web port %d", c.Web.Port)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker is required when mqtt is enabled")
	}
	return nil
}

// Save writes the configuration back to path
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}
