// Package mqttbridge mirrors outbound topics onto an MQTT broker and accepts
// operator commands from it.
package mqttbridge

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/robodog/simcontroller/pkg/config"
	customlog "github.com/robodog/simcontroller/pkg/log"
	"github.com/robodog/simcontroller/pkg/wire"
)

// ErrNotConnected is returned when publishing while the broker link is down.
var ErrNotConnected = errors.New("mqtt client is not connected")

// CommandSuffix is the topic suffix operators publish commands to.
const CommandSuffix = "command"

// Client is the part of mqtt.Client the bridge uses.
type Client interface {
	Connect() mqtt.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

// CommandFunc submits one raw command payload.
type CommandFunc func(raw []byte) (id string, accepted bool, err error)

// Options configures a Bridge.
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	TopicPrefix    string
	RobotID        string
	ConnectTimeout time.Duration
}

// OptionsFromConfig builds bridge options from the bootstrap MQTT section.
func OptionsFromConfig(cfg config.MQTTBootstrap, robotID string) Options {
	return Options{
		Broker:         cfg.Broker,
		ClientID:       cfg.ClientID,
		Username:       cfg.Username,
		Password:       cfg.Password,
		QoS:            cfg.QoS,
		TopicPrefix:    cfg.TopicPrefix,
		RobotID:        robotID,
		ConnectTimeout: time.Duration(cfg.ConnectTimeout) * time.Millisecond,
	}
}

// Bridge publishes bus messages to <prefix>/<robot_id>/<suffix> and forwards
// payloads received on <prefix>/<robot_id>/command.
type Bridge struct {
	client Client
	opts   Options
	logger customlog.Logger

	mu       sync.RWMutex
	suffixes map[string]string
	submit   CommandFunc
}

// New creates a bridge backed by a paho client. It does not connect.
func New(opts Options, logger customlog.Logger) *Bridge {
	b := newBridge(nil, opts, logger)

	clientOpts := mqtt.NewClientOptions().
		AddBroker(b.opts.Broker).
		SetClientID(b.opts.ClientID).
		SetUsername(b.opts.Username).
		SetPassword(b.opts.Password).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(1 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(10 * time.Second).
		SetConnectTimeout(b.opts.ConnectTimeout).
		SetCleanSession(true)
	clientOpts.SetOnConnectHandler(b.onConnect)
	clientOpts.SetConnectionLostHandler(b.onConnectionLost)

	b.client = mqtt.NewClient(clientOpts)
	return b
}

func newBridge(client Client, opts Options, logger customlog.Logger) *Bridge {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "robodog"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.QoS > 2 {
		opts.QoS = 2
	}
	return &Bridge{
		client:   client,
		opts:     opts,
		logger:   logger.WithField("component", "mqtt"),
		suffixes: make(map[string]string),
	}
}

// Start connects to the broker. Subscriptions are made by the connect
// handler so they survive reconnects.
func (b *Bridge) Start() error {
	token := b.client.Connect()
	if !token.WaitTimeout(b.opts.ConnectTimeout) {
		return fmt.Errorf("timed out connecting to MQTT broker %s", b.opts.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	b.logger.Infof("Connected to MQTT broker %s as %s", b.opts.Broker, b.opts.ClientID)
	return nil
}

// Stop disconnects from the broker.
func (b *Bridge) Stop() {
	if b.client.IsConnected() {
		b.client.Disconnect(250)
		b.logger.Infof("MQTT client disconnected")
	}
}

// SetCommandHandler sets the function receiving command payloads.
func (b *Bridge) SetCommandHandler(submit CommandFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submit = submit
}

// LoadTopics reads the mqtt_topic suffix of every topic mapping.
func (b *Bridge) LoadTopics(cfg *config.Config) {
	suffixes := make(map[string]string, len(cfg.TopicMappings))
	for _, m := range cfg.TopicMappings {
		if m.MQTTTopic != "" {
			suffixes[m.Topic] = m.MQTTTopic
		}
	}
	b.mu.Lock()
	b.suffixes = suffixes
	b.mu.Unlock()
}

// TopicFor returns the MQTT topic a bus topic is mirrored to. Without an
// explicit mapping the last dotted segment is used.
func (b *Bridge) TopicFor(busTopic string) string {
	b.mu.RLock()
	suffix, ok := b.suffixes[busTopic]
	b.mu.RUnlock()
	if !ok {
		suffix = busTopic[strings.LastIndex(busTopic, ".")+1:]
	}
	return b.topic(suffix)
}

// CommandTopic is the topic the bridge subscribes to for commands.
func (b *Bridge) CommandTopic() string {
	return b.topic(CommandSuffix)
}

func (b *Bridge) topic(suffix string) string {
	return b.opts.TopicPrefix + "/" + b.opts.RobotID + "/" + suffix
}

// PublishMessage mirrors one bus message to the broker.
func (b *Bridge) PublishMessage(topic string, data []byte) error {
	if !b.client.IsConnected() {
		return ErrNotConnected
	}
	mqttTopic := b.TopicFor(topic)
	token := b.client.Publish(mqttTopic, b.opts.QoS, false, data)
	if !token.WaitTimeout(b.opts.ConnectTimeout) {
		return fmt.Errorf("MQTT publish to %s timed out after %v", mqttTopic, b.opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT publish to %s failed: %w", mqttTopic, err)
	}
	return nil
}

func (b *Bridge) onConnect(client mqtt.Client) {
	topic := b.CommandTopic()
	token := b.client.Subscribe(topic, b.opts.QoS, b.handleCommand)
	if token.WaitTimeout(b.opts.ConnectTimeout) && token.Error() == nil {
		b.logger.Infof("Subscribed to %s", topic)
		return
	}
	b.logger.Errorf("Failed to subscribe to %s: %v", topic, token.Error())
}

func (b *Bridge) onConnectionLost(client mqtt.Client, err error) {
	b.logger.Warnf("MQTT connection lost, reconnecting: %v", err)
}

func (b *Bridge) handleCommand(client mqtt.Client, msg mqtt.Message) {
	b.mu.RLock()
	submit := b.submit
	b.mu.RUnlock()

	if submit == nil {
		b.logger.Warnf("Dropping command on %s: no handler", msg.Topic())
		return
	}

	id, accepted, err := submit(msg.Payload())
	if err != nil {
		b.logger.Warnf("Rejected command on %s: %v", msg.Topic(), err)
		b.publishError(err)
		return
	}
	b.logger.Debugf("Command %s received over MQTT (accepted=%t)", id, accepted)
}

// publishError reports a rejected command on <command topic>/error.
func (b *Bridge) publishError(cause error) {
	payload, err := wire.ErrorFrame(cause.Error()).Marshal()
	if err != nil {
		return
	}
	b.client.Publish(b.CommandTopic()+"/error", b.opts.QoS, false, payload)
}
