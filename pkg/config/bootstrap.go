package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BootstrapConfig holds the initial configuration loaded from controller_config.yaml
type BootstrapConfig struct {
	Logging    LoggingConfig         `yaml:"logging"`
	Server     BootstrapServerConfig `yaml:"server"`
	ZeroMQ     ZeroMQBootstrap       `yaml:"zeromq"`
	MQTT       MQTTBootstrap         `yaml:"mqtt"`
	Redis      RedisBootstrap        `yaml:"redis"`
	Data       DataConfig            `yaml:"data"`
	Processing ProcessingConfig      `yaml:"processing"`
	Engine     EngineConfig          `yaml:"engine"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogPath    string `yaml:"log_path,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
}

// BootstrapServerConfig holds bootstrap server settings
type BootstrapServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

// ZeroMQBootstrap holds ZeroMQ settings from bootstrap
type ZeroMQBootstrap struct {
	RequestBindAddress  string `yaml:"request_bind_address"`
	PublishBindAddress  string `yaml:"publish_bind_address"`
	MessageBufferSize   int    `yaml:"message_buffer_size"`
	ReconnectIntervalMs int    `yaml:"reconnect_interval_ms"`
}

// MQTTBootstrap configures the optional MQTT bridge. An empty broker disables it.
type MQTTBootstrap struct {
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"client_id"`
	Username       string `yaml:"username,omitempty"`
	Password       string `yaml:"password,omitempty"`
	QoS            byte   `yaml:"qos"`
	TopicPrefix    string `yaml:"topic_prefix"`
	ConnectTimeout int    `yaml:"connect_timeout_ms"`
}

// RedisBootstrap configures the optional latest-state cache. An empty address disables it.
type RedisBootstrap struct {
	Address    string `yaml:"address"`
	Password   string `yaml:"password,omitempty"`
	DB         int    `yaml:"db"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// ProcessingConfig holds message processing worker configuration from bootstrap
type ProcessingConfig struct {
	HighPriorityWorkers     int `yaml:"high_priority_workers"`
	StandardPriorityWorkers int `yaml:"standard_priority_workers"`
	LowPriorityWorkers      int `yaml:"low_priority_workers"`
	QueueSize               int `yaml:"queue_size"`
}

// DataConfig holds data directory settings from bootstrap
type DataConfig struct {
	Directory           string `yaml:"directory"`
	RobotConfigFilename string `yaml:"robot_config_file"`
}

// EngineConfig holds the simulation engine timing and motion parameters.
type EngineConfig struct {
	TickPeriodMs     int     `yaml:"tick_period_ms"`
	HandshakeDelayMs int     `yaml:"handshake_delay_ms"`
	AckDelayMs       int     `yaml:"ack_delay_ms"`
	BaseSpeed        float64 `yaml:"base_speed"`
	JitterAmplitude  float64 `yaml:"jitter_amplitude"`
	Seed             int64   `yaml:"seed"`
	AutoConnect      bool    `yaml:"auto_connect"`
}

// RobotConfigPath returns the absolute path of the operational config file.
func (b *BootstrapConfig) RobotConfigPath() string {
	return filepath.Join(b.Data.Directory, b.Data.RobotConfigFilename)
}

// LoadBootstrapConfig loads the bootstrap configuration from controller_config.yaml
// and applies environment overrides.
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, "controller_config.yaml")

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	var bootstrapCfg BootstrapConfig
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	if err := ApplyEnvOverrides(&bootstrapCfg); err != nil {
		return nil, err
	}
	bootstrapCfg.applyDefaults()

	if err := bootstrapCfg.Validate(); err != nil {
		return nil, err
	}
	return &bootstrapCfg, nil
}

// Validate checks the fields the controller cannot start without.
func (b *BootstrapConfig) Validate() error {
	if b.ZeroMQ.RequestBindAddress == "" {
		return fmt.Errorf("missing required field in bootstrap config: zeromq.request_bind_address")
	}
	if b.ZeroMQ.PublishBindAddress == "" {
		return fmt.Errorf("missing required field in bootstrap config: zeromq.publish_bind_address")
	}
	if b.Data.Directory == "" {
		return fmt.Errorf("missing required field in bootstrap config: data.directory")
	}
	if b.Data.RobotConfigFilename == "" {
		return fmt.Errorf("missing required field in bootstrap config: data.robot_config_file")
	}
	if b.Server.HTTPPort < 0 || b.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid server.http_port %d", b.Server.HTTPPort)
	}
	return nil
}

func (b *BootstrapConfig) applyDefaults() {
	if b.Logging.Level == "" {
		b.Logging.Level = "info"
	}
	if b.Server.HTTPPort == 0 {
		b.Server.HTTPPort = 8080
	}
	if b.Processing.HighPriorityWorkers <= 0 {
		b.Processing.HighPriorityWorkers = 2
	}
	if b.Processing.StandardPriorityWorkers <= 0 {
		b.Processing.StandardPriorityWorkers = 2
	}
	if b.Processing.LowPriorityWorkers <= 0 {
		b.Processing.LowPriorityWorkers = 1
	}
	if b.Processing.QueueSize <= 0 {
		b.Processing.QueueSize = 256
	}
	if b.MQTT.ClientID == "" {
		b.MQTT.ClientID = "robodog-simcontroller"
	}
	if b.MQTT.TopicPrefix == "" {
		b.MQTT.TopicPrefix = "robodog"
	}
	if b.MQTT.ConnectTimeout <= 0 {
		b.MQTT.ConnectTimeout = 5000
	}
	if b.Redis.TTLSeconds <= 0 {
		b.Redis.TTLSeconds = 30
	}
}
