package simulation

import "math"

// Mode is the discrete locomotion mode reported in telemetry.
type Mode string

// Run and Climb are valid values for other producers; the engine never emits them.
const (
	ModeStand Mode = "Stand"
	ModeWalk  Mode = "Walk"
	ModeRun   Mode = "Run"
	ModeClimb Mode = "Climb"
	ModeAuto  Mode = "Auto"
)

// Vec2 is a point or displacement in the world frame, in meters.
type Vec2 struct {
	X float64
	Y float64
}

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }

// Len returns the Euclidean length of v.
func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

// IsFinite reports whether both components are finite.
func (v Vec2) IsFinite() bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) && !math.IsNaN(v.Y) && !math.IsInf(v.Y, 0)
}

// ControlState is the mutable state driven by commands and the motion model.
type ControlState struct {
	Position Vec2

	Forward  bool // W
	Backward bool // S
	Left     bool // A
	Right    bool // D

	AutopilotActive bool
	PathQueue       []Vec2

	Paused          bool
	SpeedMultiplier float64
}

// newControlState returns the startup state: origin, idle, baseline speed.
func newControlState() ControlState {
	return ControlState{SpeedMultiplier: 1.0}
}

// IsMoving reports whether the robot is under autopilot or any direction is held.
func (s *ControlState) IsMoving() bool {
	return s.AutopilotActive || s.Forward || s.Backward || s.Left || s.Right
}

// Mode is the locomotion mode telemetry reports for s: Auto under
// autopilot, Walk while a direction is held, Stand otherwise.
func (s *ControlState) Mode() Mode {
	switch {
	case s.AutopilotActive:
		return ModeAuto
	case s.IsMoving():
		return ModeWalk
	default:
		return ModeStand
	}
}

func (s *ControlState) clearDirections() {
	s.Forward, s.Backward, s.Left, s.Right = false, false, false, false
}

func (s *ControlState) cancelAutopilot() {
	s.AutopilotActive = false
	s.PathQueue = nil
}

// clone returns a copy that shares no memory with s.
func (s *ControlState) clone() ControlState {
	c := *s
	if s.PathQueue != nil {
		c.PathQueue = append([]Vec2(nil), s.PathQueue...)
	}
	return c
}

// Pose is the body orientation in degrees.
type Pose struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`
}

// IMU carries 3-axis accelerometer, gyroscope and magnetometer readings.
type IMU struct {
	Accel [3]float64 `json:"accel"`
	Gyro  [3]float64 `json:"gyro"`
	Mag   [3]float64 `json:"mag"`
}

// Environment carries the ambient sensor channels.
type Environment struct {
	Temp     float64 `json:"temp"`
	Humidity float64 `json:"humidity"`
	Distance float64 `json:"distance"`
	Pressure float64 `json:"pressure"`
}

// TelemetrySnapshot is one synthetic sensor frame. It is a plain value with
// no reference fields, so every receiver owns its own copy.
type TelemetrySnapshot struct {
	Timestamp int64       `json:"timestamp"` // unix milliseconds
	Battery   float64     `json:"battery"`
	Mode      Mode        `json:"mode"`
	Pose      Pose        `json:"pose"`
	IMU       IMU         `json:"imu"`
	Env       Environment `json:"env"`
	Position  [2]float64  `json:"position"`
}

// AckEvent confirms delivery of an accepted command.
type AckEvent struct {
	ID      string
	Command CommandRequest
}

// ConnectionState is the engine's link state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "Disconnected"
	StateConnecting   ConnectionState = "Connecting"
	StateConnected    ConnectionState = "Connected"
)
