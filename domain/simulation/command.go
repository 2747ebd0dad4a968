package simulation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCommand marks a command whose payload failed validation.
var ErrInvalidCommand = errors.New("invalid command")

// CommandType is the wire value of a command's "type" field.
type CommandType string

const (
	CmdMove       CommandType = "MOVE"
	CmdStop       CommandType = "STOP"
	CmdSetSpeed   CommandType = "SET_SPEED"
	CmdExecPath   CommandType = "EXEC_PATH"
	CmdPausePath  CommandType = "PAUSE_PATH"
	CmdResumePath CommandType = "RESUME_PATH"
	CmdStopPath   CommandType = "STOP_PATH"
	CmdResetMap   CommandType = "RESET_MAP"
	CmdAction     CommandType = "ACTION"
	CmdKeyboard   CommandType = "KEYBOARD"
)

// Direction is a WASD key or the STOP pseudo-direction.
type Direction string

const (
	DirForward  Direction = "W"
	DirBackward Direction = "S"
	DirLeft     Direction = "A"
	DirRight    Direction = "D"
	DirStop     Direction = "STOP"
)

func (d Direction) isKey() bool {
	switch d {
	case DirForward, DirBackward, DirLeft, DirRight:
		return true
	}
	return false
}

// CommandRequest is an operator command. Only the fields relevant to Type are set.
type CommandRequest struct {
	ID        string      `json:"id,omitempty"`
	Type      CommandType `json:"type"`
	Direction Direction   `json:"direction,omitempty"` // MOVE
	Key       Direction   `json:"key,omitempty"`       // KEYBOARD
	Pressed   *bool       `json:"pressed,omitempty"`   // KEYBOARD
	Value     *float64    `json:"value,omitempty"`     // SET_SPEED, percent
	Points    []Vec2      `json:"points,omitempty"`    // EXEC_PATH
	Action    string      `json:"action,omitempty"`    // ACTION

	// fields keeps every top-level member of the decoded payload so the
	// acknowledgement can echo parameters this package does not model.
	fields map[string]json.RawMessage
}

// MarshalJSON encodes a waypoint as [x, y].
func (v Vec2) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{v.X, v.Y})
}

// UnmarshalJSON decodes a waypoint from [x, y].
func (v *Vec2) UnmarshalJSON(data []byte) error {
	var xy []float64
	if err := json.Unmarshal(data, &xy); err != nil {
		return fmt.Errorf("waypoint must be a pair of numbers: %w", err)
	}
	if len(xy) != 2 {
		return fmt.Errorf("waypoint must have 2 coordinates, got %d", len(xy))
	}
	v.X, v.Y = xy[0], xy[1]
	return nil
}

// DecodeCommand parses and validates a JSON command payload.
func DecodeCommand(data []byte) (CommandRequest, error) {
	var cmd CommandRequest
	if err := json.Unmarshal(data, &cmd); err != nil {
		return CommandRequest{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return CommandRequest{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	cmd.fields = fields
	if err := cmd.Validate(); err != nil {
		return CommandRequest{}, err
	}
	return cmd, nil
}

// Validate checks the payload shape required by the command type.
func (c CommandRequest) Validate() error {
	switch c.Type {
	case CmdMove:
		if c.Direction != DirStop && !c.Direction.isKey() {
			return fmt.Errorf("%w: MOVE direction %q", ErrInvalidCommand, c.Direction)
		}
	case CmdKeyboard:
		if !c.Key.isKey() {
			return fmt.Errorf("%w: KEYBOARD key %q", ErrInvalidCommand, c.Key)
		}
		if c.Pressed == nil {
			return fmt.Errorf("%w: KEYBOARD requires pressed", ErrInvalidCommand)
		}
	case CmdSetSpeed:
		if c.Value == nil {
			return fmt.Errorf("%w: SET_SPEED requires value", ErrInvalidCommand)
		}
		if math.IsNaN(*c.Value) || math.IsInf(*c.Value, 0) {
			return fmt.Errorf("%w: SET_SPEED value must be finite", ErrInvalidCommand)
		}
	case CmdExecPath:
		if c.Points == nil {
			return fmt.Errorf("%w: EXEC_PATH requires points", ErrInvalidCommand)
		}
		for i, p := range c.Points {
			if !p.IsFinite() {
				return fmt.Errorf("%w: EXEC_PATH point %d is not finite", ErrInvalidCommand, i)
			}
		}
	case CmdStop, CmdPausePath, CmdResumePath, CmdStopPath, CmdResetMap, CmdAction:
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalidCommand)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, c.Type)
	}
	return nil
}

// Payload returns the command as it should be echoed back: the original
// members of a decoded payload with the correlation id filled in.
func (c CommandRequest) Payload() json.RawMessage {
	if c.fields == nil {
		b, _ := json.Marshal(c)
		return b
	}
	out := make(map[string]json.RawMessage, len(c.fields)+1)
	for k, v := range c.fields {
		out[k] = v
	}
	if c.ID != "" {
		id, _ := json.Marshal(c.ID)
		out["id"] = id
	}
	b, _ := json.Marshal(out)
	return b
}

// clone deep-copies the reference fields of c.
func (c CommandRequest) clone() CommandRequest {
	out := c
	if c.Points != nil {
		out.Points = append([]Vec2(nil), c.Points...)
	}
	if c.Value != nil {
		v := *c.Value
		out.Value = &v
	}
	if c.Pressed != nil {
		p := *c.Pressed
		out.Pressed = &p
	}
	if c.fields != nil {
		out.fields = make(map[string]json.RawMessage, len(c.fields))
		for k, v := range c.fields {
			out.fields[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// Move builds a MOVE command.
func Move(id string, dir Direction) CommandRequest {
	return CommandRequest{ID: id, Type: CmdMove, Direction: dir}
}

// Keyboard builds a KEYBOARD command.
func Keyboard(id string, key Direction, pressed bool) CommandRequest {
	return CommandRequest{ID: id, Type: CmdKeyboard, Key: key, Pressed: &pressed}
}

// SetSpeed builds a SET_SPEED command; percent 50 is the baseline speed.
func SetSpeed(id string, percent float64) CommandRequest {
	return CommandRequest{ID: id, Type: CmdSetSpeed, Value: &percent}
}

// ExecPath builds an EXEC_PATH command.
func ExecPath(id string, points ...Vec2) CommandRequest {
	if points == nil {
		points = []Vec2{}
	}
	return CommandRequest{ID: id, Type: CmdExecPath, Points: points}
}

// Simple builds a command that carries no parameters (STOP, PAUSE_PATH, ...).
func Simple(id string, t CommandType) CommandRequest {
	return CommandRequest{ID: id, Type: t}
}
