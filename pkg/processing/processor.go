package processing

import (
	"fmt"

	"github.com/robodog/simcontroller/pkg/config"
	customlog "github.com/robodog/simcontroller/pkg/log"
	"github.com/robodog/simcontroller/pkg/wire"
)

// EventEncoder turns events into bus payloads using the topic's encoding
type EventEncoder struct {
	logger        customlog.Logger
	topicRegistry *TopicRegistry
}

// NewEventEncoder creates a new event encoder
func NewEventEncoder(logger customlog.Logger, topicRegistry *TopicRegistry) *EventEncoder {
	return &EventEncoder{
		logger:        logger,
		topicRegistry: topicRegistry,
	}
}

// ProcessEvent encodes an event. Telemetry on a FLATBUFFERS topic becomes a
// TelemetryFrame; everything else is the JSON frame.
func (p *EventEncoder) ProcessEvent(ev *Event) (*ProcessResult, error) {
	if ev == nil {
		return nil, fmt.Errorf("nil event")
	}

	encoding := p.topicRegistry.GetTopicEncoding(ev.Topic)
	result := &ProcessResult{
		Topic:     ev.Topic,
		Encoding:  encoding,
		Timestamp: ev.Timestamp,
	}

	if encoding == config.EncodingFlatBuffers {
		if ev.Telemetry == nil {
			return result, fmt.Errorf("topic '%s' is FLATBUFFERS encoded but event carries no telemetry", ev.Topic)
		}
		result.Payload = wire.EncodeTelemetry(ev.RobotID, *ev.Telemetry)
		p.logger.Debugf("Encoded telemetry frame for topic '%s' (%d bytes)", ev.Topic, len(result.Payload))
		return result, nil
	}

	payload, err := ev.Frame.Marshal()
	if err != nil {
		return result, fmt.Errorf("failed to encode event for topic '%s': %w", ev.Topic, err)
	}
	result.Encoding = config.EncodingJSON
	result.Payload = payload
	return result, nil
}

// CreateProcessorFunc creates a MessageProcessor function that can be used with the MessageDirector
func (p *EventEncoder) CreateProcessorFunc() MessageProcessor {
	return p.ProcessEvent
}
