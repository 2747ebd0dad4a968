package processing

import (
	"time"

	"github.com/robodog/simcontroller/domain/simulation"
	"github.com/robodog/simcontroller/pkg/wire"
)

// Outbound topics produced by the controller.
const (
	TopicTelemetry  = "robodog.telemetry"
	TopicAck        = "robodog.ack"
	TopicAlert      = "robodog.alert"
	TopicConnection = "robodog.connection"
)

// Event is one outbound message waiting to be encoded and published.
type Event struct {
	Topic     string
	RobotID   string
	Timestamp int64 // unix nanoseconds

	// Telemetry is set for telemetry events so binary encoders can use it
	// directly instead of the JSON frame.
	Telemetry *simulation.TelemetrySnapshot
	Frame     wire.Frame
}

// NewTelemetryEvent wraps a snapshot for the telemetry topic.
func NewTelemetryEvent(robotID string, snap simulation.TelemetrySnapshot) *Event {
	frame := wire.TelemetryFrame(snap)
	frame.RobotID = robotID
	return &Event{
		Topic:     TopicTelemetry,
		RobotID:   robotID,
		Timestamp: time.Now().UnixNano(),
		Telemetry: &snap,
		Frame:     frame,
	}
}

// NewAckEvent wraps a command acknowledgement.
func NewAckEvent(robotID string, ack simulation.AckEvent) *Event {
	return newFrameEvent(TopicAck, robotID, wire.AckFrame(ack))
}

// NewAlertEvent wraps an alert record.
func NewAlertEvent(robotID string, alert interface{}) *Event {
	return newFrameEvent(TopicAlert, robotID, wire.AlertFrame(alert))
}

// NewConnectionEvent announces a session opening or closing.
func NewConnectionEvent(robotID string, open bool) *Event {
	frame := wire.ClosedFrame()
	if open {
		frame = wire.OpenFrame()
	}
	return newFrameEvent(TopicConnection, robotID, frame)
}

func newFrameEvent(topic, robotID string, frame wire.Frame) *Event {
	frame.RobotID = robotID
	return &Event{
		Topic:     topic,
		RobotID:   robotID,
		Timestamp: time.Now().UnixNano(),
		Frame:     frame,
	}
}
