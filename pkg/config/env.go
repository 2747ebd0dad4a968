package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override bootstrap settings.
const (
	EnvPort              = "PORT"
	EnvLogLevel          = "LOG_LEVEL"
	EnvZMQRequestAddress = "ZMQ_REQUEST_ADDRESS"
	EnvZMQPublishAddress = "ZMQ_PUBLISH_ADDRESS"
	EnvMQTTBroker        = "MQTT_BROKER"
	EnvRedisAddr         = "REDIS_ADDR"
	EnvRobotID           = "ROBOT_ID"
)

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("error loading env file '%s': %w", f, err)
		}
	}
	return nil
}

// ApplyEnvOverrides copies recognised environment variables onto cfg.
func ApplyEnvOverrides(cfg *BootstrapConfig) error {
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvPort, v, err)
		}
		cfg.Server.HTTPPort = port
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvZMQRequestAddress); v != "" {
		cfg.ZeroMQ.RequestBindAddress = v
	}
	if v := os.Getenv(EnvZMQPublishAddress); v != "" {
		cfg.ZeroMQ.PublishBindAddress = v
	}
	if v := os.Getenv(EnvMQTTBroker); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Redis.Address = v
	}
	return nil
}

// RobotIDOverride returns ROBOT_ID when set.
func RobotIDOverride() (string, bool) {
	v := os.Getenv(EnvRobotID)
	return v, v != ""
}
