package zeromq

import (
	"encoding/json"
	"fmt"

	"github.com/robodog/simcontroller/pkg/config"
	customlog "github.com/robodog/simcontroller/pkg/log"
)

// ConfigSource provides the active operational configuration.
type ConfigSource interface {
	GetCurrentConfig() *config.Config
}

// ConfigHandler handles CONFIG_REQUEST messages
type ConfigHandler struct {
	source ConfigSource
	logger customlog.Logger
}

// NewConfigHandler creates a new handler for configuration requests
func NewConfigHandler(source ConfigSource, logger customlog.Logger) *ConfigHandler {
	return &ConfigHandler{
		source: source,
		logger: logger,
	}
}

// HandleMessage processes a CONFIG_REQUEST message and returns a CONFIG_RESPONSE
func (h *ConfigHandler) HandleMessage(data []byte) ([]byte, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type != MsgTypeConfigRequest {
		return nil, fmt.Errorf("%w: unexpected message type %s", ErrInvalidMessage, msg.Type)
	}

	cfg := h.source.GetCurrentConfig()
	if cfg == nil {
		return nil, fmt.Errorf("no operational configuration loaded")
	}

	h.logger.Debugf("Processing configuration request")

	responseData, err := json.Marshal(newMessage(MsgTypeConfigResponse, cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}

	h.logger.Debugf("Sending configuration response (%d bytes)", len(responseData))
	return responseData, nil
}

// CommandFunc submits one raw command payload and reports its correlation id
// and whether the engine accepted it.
type CommandFunc func(raw []byte) (id string, accepted bool, err error)

// CommandResult is the data member of a COMMAND_RESULT reply.
type CommandResult struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
}

// CommandHandler handles COMMAND messages whose data member is a command payload
type CommandHandler struct {
	submit CommandFunc
	logger customlog.Logger
}

// NewCommandHandler creates a new handler for operator commands
func NewCommandHandler(submit CommandFunc, logger customlog.Logger) *CommandHandler {
	return &CommandHandler{
		submit: submit,
		logger: logger,
	}
}

// HandleMessage submits the command and returns a COMMAND_RESULT
func (h *CommandHandler) HandleMessage(data []byte) ([]byte, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.Type != MsgTypeCommand {
		return nil, fmt.Errorf("%w: unexpected message type %s", ErrInvalidMessage, msg.Type)
	}
	if len(msg.Data) == 0 {
		return nil, fmt.Errorf("%w: COMMAND without data", ErrInvalidMessage)
	}

	id, accepted, err := h.submit(msg.Data)
	if err != nil {
		return nil, err
	}
	h.logger.Debugf("Command %s submitted over ZeroMQ (accepted=%t)", id, accepted)

	responseData, err := json.Marshal(newMessage(MsgTypeCommandResult, CommandResult{
		ID:       id,
		Accepted: accepted,
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}
	return responseData, nil
}

// StatusFunc returns the controller status reported to STATUS_REQUEST.
type StatusFunc func() interface{}

// NewStatusHandler returns a handler answering STATUS_REQUEST with a
// STATUS_RESPONSE carrying the value of status.
func NewStatusHandler(status StatusFunc, logger customlog.Logger) func([]byte) ([]byte, error) {
	return func(data []byte) ([]byte, error) {
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
		}
		if msg.Type != MsgTypeStatusRequest {
			return nil, fmt.Errorf("%w: unexpected message type %s", ErrInvalidMessage, msg.Type)
		}

		responseData, err := json.Marshal(newMessage(MsgTypeStatusResponse, status()))
		if err != nil {
			return nil, fmt.Errorf("failed to serialize response: %w", err)
		}
		logger.Debugf("Sending status response (%d bytes)", len(responseData))
		return responseData, nil
	}
}
