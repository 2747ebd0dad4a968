package zeromq

import (
	"fmt"

	customlog "github.com/robodog/simcontroller/pkg/log"
)

// Topics used for configuration broadcasts.
const (
	TopicConfigUpdate       = "configuration.update"
	TopicConfigNotification = "configuration.notification"
)

// JSONPublisher publishes an enveloped JSON message on a topic.
type JSONPublisher interface {
	PublishJSON(topic string, messageType string, data interface{}) error
}

// ConfigPublisher publishes configuration updates to subscribers
type ConfigPublisher struct {
	publisher JSONPublisher
	source    ConfigSource
	logger    customlog.Logger
}

// NewConfigPublisher creates a new publisher for configuration updates
func NewConfigPublisher(publisher JSONPublisher, source ConfigSource, logger customlog.Logger) *ConfigPublisher {
	return &ConfigPublisher{
		publisher: publisher,
		source:    source,
		logger:    logger,
	}
}

// PublishConfigUpdate publishes the full current configuration
func (p *ConfigPublisher) PublishConfigUpdate() error {
	cfg := p.source.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("no operational configuration loaded")
	}
	p.logger.Infof("Publishing configuration update (ID: %s)", cfg.ConfigID)
	return p.publisher.PublishJSON(TopicConfigUpdate, MsgTypeConfigResponse, cfg)
}

// PublishConfigUpdatedNotification publishes a notification that the config has been updated
func (p *ConfigPublisher) PublishConfigUpdatedNotification() error {
	cfg := p.source.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("no operational configuration loaded")
	}
	p.logger.Infof("Publishing configuration update notification (ID: %s)", cfg.ConfigID)

	notification := map[string]interface{}{
		"config_id":    cfg.ConfigID,
		"version":      cfg.Version,
		"last_updated": cfg.LastUpdated,
		"robot_id":     cfg.RobotID,
	}
	return p.publisher.PublishJSON(TopicConfigNotification, MsgTypeConfigUpdated, notification)
}

// RegisterConfigHandlers registers the CONFIG_REQUEST handler and returns the config publisher
func RegisterConfigHandlers(service *ZeroMQService, source ConfigSource, logger customlog.Logger) *ConfigPublisher {
	service.RegisterHandler(MsgTypeConfigRequest, NewConfigHandler(source, logger))
	publisher := NewConfigPublisher(service, source, logger)
	logger.Infof("Registered configuration handlers and publisher")
	return publisher
}

// RegisterCommandHandler registers the COMMAND handler
func RegisterCommandHandler(service *ZeroMQService, submit CommandFunc, logger customlog.Logger) {
	service.RegisterHandler(MsgTypeCommand, NewCommandHandler(submit, logger))
}

// RegisterStatusHandler registers the STATUS_REQUEST handler
func RegisterStatusHandler(service *ZeroMQService, status StatusFunc, logger customlog.Logger) {
	service.RegisterHandlerFunc(MsgTypeStatusRequest, NewStatusHandler(status, logger))
}
