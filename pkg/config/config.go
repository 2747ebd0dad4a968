package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Priority levels used by topic mappings.
const (
	PriorityHigh     = "HIGH"
	PriorityStandard = "STANDARD"
	PriorityLow      = "LOW"
)

// Encodings supported for outbound topics.
const (
	EncodingJSON        = "JSON"
	EncodingFlatBuffers = "FLATBUFFERS"
)

// Config represents the operational robot configuration (robodog_config.yaml)
type Config struct {
	Version       string         `yaml:"version" json:"version"`
	ConfigID      string         `yaml:"config_id" json:"config_id"`
	LastUpdated   string         `yaml:"lastUpdated" json:"lastUpdated"`
	RobotID       string         `yaml:"robot_id" json:"robot_id"`
	Alerts        AlertConfig    `yaml:"alerts" json:"alerts"`
	TopicMappings []TopicMapping `yaml:"topic_mappings" json:"topic_mappings"`
	Defaults      DefaultsConfig `yaml:"defaults" json:"defaults"`
}

// AlertConfig holds the telemetry thresholds that raise operator alerts.
type AlertConfig struct {
	TemperatureHigh float64 `yaml:"temperature_high" json:"temperature_high"`
	BatteryLow      float64 `yaml:"battery_low" json:"battery_low"`
	HistorySize     int     `yaml:"history_size" json:"history_size"`
}

// TopicMapping describes how one outbound event stream is routed.
type TopicMapping struct {
	TopicID     string `yaml:"topic_id" json:"topic_id"`
	Topic       string `yaml:"topic" json:"topic"`
	Priority    string `yaml:"priority" json:"priority"`
	Direction   string `yaml:"direction" json:"direction"`
	Encoding    string `yaml:"encoding" json:"encoding"`
	MQTTTopic   string `yaml:"mqtt_topic,omitempty" json:"mqtt_topic,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// DefaultsConfig holds default values for topic mappings
type DefaultsConfig struct {
	Priority  string `yaml:"priority" json:"priority"`
	Direction string `yaml:"direction" json:"direction"`
	Encoding  string `yaml:"encoding" json:"encoding"`
}

// LoadConfig loads configuration from the specified file path
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates operational configuration YAML.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	config.applyAlertDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate performs the semantic checks an operational config must pass.
func (c *Config) Validate() error {
	if c.ConfigID == "" || c.Version == "" || c.RobotID == "" {
		return fmt.Errorf("validation failed: missing required fields (config_id, version, robot_id)")
	}
	seen := make(map[string]bool, len(c.TopicMappings))
	for i, m := range c.TopicMappings {
		if m.Topic == "" {
			return fmt.Errorf("validation failed: topic_mappings[%d] has no topic", i)
		}
		if seen[m.Topic] {
			return fmt.Errorf("validation failed: duplicate topic %q", m.Topic)
		}
		seen[m.Topic] = true
		m = applyDefaults(m, c.Defaults)
		switch m.Priority {
		case PriorityHigh, PriorityStandard, PriorityLow, "":
		default:
			return fmt.Errorf("validation failed: topic %q has unknown priority %q", m.Topic, m.Priority)
		}
		switch m.Encoding {
		case EncodingJSON, EncodingFlatBuffers, "":
		default:
			return fmt.Errorf("validation failed: topic %q has unknown encoding %q", m.Topic, m.Encoding)
		}
	}
	if c.Alerts.HistorySize < 0 {
		return fmt.Errorf("validation failed: alerts.history_size must not be negative")
	}
	return nil
}

func (c *Config) applyAlertDefaults() {
	if c.Alerts.TemperatureHigh == 0 {
		c.Alerts.TemperatureHigh = 35
	}
	if c.Alerts.BatteryLow == 0 {
		c.Alerts.BatteryLow = 20
	}
	if c.Alerts.HistorySize == 0 {
		c.Alerts.HistorySize = 50
	}
}

// GetTopicMappingsByDirection returns topic mappings filtered by direction
func (c *Config) GetTopicMappingsByDirection(direction string) []TopicMapping {
	var result []TopicMapping

	for _, mapping := range c.TopicMappings {
		mappingWithDefaults := applyDefaults(mapping, c.Defaults)
		if mappingWithDefaults.Direction == direction {
			result = append(result, mappingWithDefaults)
		}
	}

	return result
}

// GetTopicMapping returns the mapping for a topic with defaults applied
func (c *Config) GetTopicMapping(topic string) (TopicMapping, bool) {
	for _, mapping := range c.TopicMappings {
		if mapping.Topic == topic {
			return applyDefaults(mapping, c.Defaults), true
		}
	}

	return TopicMapping{}, false
}

// applyDefaults merges default values into a topic mapping where fields are empty
func applyDefaults(mapping TopicMapping, defaults DefaultsConfig) TopicMapping {
	result := mapping

	if result.Priority == "" {
		result.Priority = defaults.Priority
	}
	if result.Direction == "" {
		result.Direction = defaults.Direction
	}
	if result.Encoding == "" {
		result.Encoding = defaults.Encoding
	}

	return result
}
