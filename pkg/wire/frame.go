package wire

import (
	"encoding/json"

	"github.com/robodog/simcontroller/domain/simulation"
)

// FrameType is the "type" member of a JSON frame sent to operators.
type FrameType string

const (
	FrameOpen   FrameType = "OPEN"
	FrameClosed FrameType = "CLOSED"
	FrameTelem  FrameType = "TELEM"
	FrameAck    FrameType = "ACK"
	FrameAlert  FrameType = "ALERT"
	FrameError  FrameType = "ERROR"
)

// Frame is the JSON envelope shared by the dashboard socket, MQTT and
// JSON-encoded bus topics.
type Frame struct {
	Type    FrameType       `json:"type"`
	RobotID string          `json:"robot_id,omitempty"`
	Data    interface{}     `json:"data,omitempty"`
	Cmd     json.RawMessage `json:"cmd,omitempty"`
	Message string          `json:"message,omitempty"`
}

// OpenFrame announces an established session.
func OpenFrame() Frame { return Frame{Type: FrameOpen} }

// ClosedFrame announces a torn down session.
func ClosedFrame() Frame { return Frame{Type: FrameClosed} }

// TelemetryFrame wraps one snapshot.
func TelemetryFrame(snap simulation.TelemetrySnapshot) Frame {
	return Frame{Type: FrameTelem, Data: snap}
}

// AckFrame echoes the acknowledged command verbatim.
func AckFrame(ack simulation.AckEvent) Frame {
	return Frame{Type: FrameAck, Cmd: ack.Command.Payload()}
}

// AlertFrame wraps an alert record.
func AlertFrame(alert interface{}) Frame {
	return Frame{Type: FrameAlert, Data: alert}
}

// ErrorFrame reports a rejected inbound message.
func ErrorFrame(message string) Frame {
	return Frame{Type: FrameError, Message: message}
}

// Marshal encodes the frame as JSON.
func (f Frame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// InboundFrame is the decoding counterpart of Frame with payloads left raw.
type InboundFrame struct {
	Type    FrameType       `json:"type"`
	RobotID string          `json:"robot_id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Cmd     json.RawMessage `json:"cmd,omitempty"`
	Message string          `json:"message,omitempty"`
}

// DecodeFrame parses a JSON frame.
func DecodeFrame(data []byte) (InboundFrame, error) {
	var f InboundFrame
	err := json.Unmarshal(data, &f)
	return f, err
}
