package wire

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/robodog/simcontroller/domain/simulation"
)

// FileIdentifier marks buffers produced by EncodeTelemetry.
const FileIdentifier = "RDTF"

// ErrInvalidFrame is returned when a buffer is not a telemetry frame.
var ErrInvalidFrame = errors.New("invalid telemetry frame")

// TelemetryFrame table layout.
//
//	table TelemetryFrame {
//	  robot_id:string;
//	  timestamp_ms:long;
//	  battery:double;
//	  mode:string;
//	  pose:[double];      // pitch, roll, yaw
//	  accel:[double];
//	  gyro:[double];
//	  mag:[double];
//	  env:[double];       // temperature, humidity, distance, pressure
//	  position:[double];  // x, y
//	}
const (
	slotRobotID = iota
	slotTimestamp
	slotBattery
	slotMode
	slotPose
	slotAccel
	slotGyro
	slotMag
	slotEnv
	slotPosition
	numSlots
)

func vtableOffset(slot int) flatbuffers.VOffsetT {
	return flatbuffers.VOffsetT(4 + 2*slot)
}

// EncodeTelemetry serializes a snapshot into a TelemetryFrame flatbuffer.
func EncodeTelemetry(robotID string, snap simulation.TelemetrySnapshot) []byte {
	builder := flatbuffers.NewBuilder(256)

	// Strings and vectors must be created before the table is started.
	robotOffset := builder.CreateString(robotID)
	modeOffset := builder.CreateString(string(snap.Mode))
	poseOffset := createFloats(builder, snap.Pose.Pitch, snap.Pose.Roll, snap.Pose.Yaw)
	accelOffset := createFloats(builder, snap.IMU.Accel[:]...)
	gyroOffset := createFloats(builder, snap.IMU.Gyro[:]...)
	magOffset := createFloats(builder, snap.IMU.Mag[:]...)
	envOffset := createFloats(builder,
		snap.Env.Temp, snap.Env.Humidity, snap.Env.Distance, snap.Env.Pressure)
	positionOffset := createFloats(builder, snap.Position[:]...)

	builder.StartObject(numSlots)
	builder.PrependUOffsetTSlot(slotRobotID, robotOffset, 0)
	builder.PrependInt64Slot(slotTimestamp, snap.Timestamp, 0)
	builder.PrependFloat64Slot(slotBattery, snap.Battery, 0)
	builder.PrependUOffsetTSlot(slotMode, modeOffset, 0)
	builder.PrependUOffsetTSlot(slotPose, poseOffset, 0)
	builder.PrependUOffsetTSlot(slotAccel, accelOffset, 0)
	builder.PrependUOffsetTSlot(slotGyro, gyroOffset, 0)
	builder.PrependUOffsetTSlot(slotMag, magOffset, 0)
	builder.PrependUOffsetTSlot(slotEnv, envOffset, 0)
	builder.PrependUOffsetTSlot(slotPosition, positionOffset, 0)
	frame := builder.EndObject()

	builder.FinishWithFileIdentifier(frame, []byte(FileIdentifier))
	return builder.FinishedBytes()
}

func createFloats(builder *flatbuffers.Builder, values ...float64) flatbuffers.UOffsetT {
	builder.StartVector(flatbuffers.SizeFloat64, len(values), flatbuffers.SizeFloat64)
	for i := len(values) - 1; i >= 0; i-- {
		builder.PrependFloat64(values[i])
	}
	return builder.EndVector(len(values))
}

// DecodeTelemetry parses a TelemetryFrame produced by EncodeTelemetry.
func DecodeTelemetry(buf []byte) (robotID string, snap simulation.TelemetrySnapshot, err error) {
	if len(buf) < flatbuffers.SizeUOffsetT+len(FileIdentifier) {
		return "", snap, fmt.Errorf("%w: %d bytes", ErrInvalidFrame, len(buf))
	}
	if !flatbuffers.BufferHasIdentifier(buf, FileIdentifier) {
		return "", snap, fmt.Errorf("%w: identifier %q", ErrInvalidFrame, flatbuffers.GetBufferIdentifier(buf))
	}

	// Offsets inside a corrupt buffer can point anywhere.
	defer func() {
		if r := recover(); r != nil {
			robotID = ""
			snap = simulation.TelemetrySnapshot{}
			err = fmt.Errorf("%w: %v", ErrInvalidFrame, r)
		}
	}()

	t := &flatbuffers.Table{Bytes: buf, Pos: flatbuffers.GetUOffsetT(buf)}

	robotID = readString(t, slotRobotID)
	snap.Timestamp = t.GetInt64Slot(vtableOffset(slotTimestamp), 0)
	snap.Battery = t.GetFloat64Slot(vtableOffset(slotBattery), 0)
	snap.Mode = simulation.Mode(readString(t, slotMode))

	var pose [3]float64
	if err := readFloats(t, slotPose, pose[:]); err != nil {
		return "", simulation.TelemetrySnapshot{}, err
	}
	snap.Pose = simulation.Pose{Pitch: pose[0], Roll: pose[1], Yaw: pose[2]}

	if err := readFloats(t, slotAccel, snap.IMU.Accel[:]); err != nil {
		return "", simulation.TelemetrySnapshot{}, err
	}
	if err := readFloats(t, slotGyro, snap.IMU.Gyro[:]); err != nil {
		return "", simulation.TelemetrySnapshot{}, err
	}
	if err := readFloats(t, slotMag, snap.IMU.Mag[:]); err != nil {
		return "", simulation.TelemetrySnapshot{}, err
	}

	var env [4]float64
	if err := readFloats(t, slotEnv, env[:]); err != nil {
		return "", simulation.TelemetrySnapshot{}, err
	}
	snap.Env = simulation.Environment{
		Temp:     env[0],
		Humidity: env[1],
		Distance: env[2],
		Pressure: env[3],
	}

	if err := readFloats(t, slotPosition, snap.Position[:]); err != nil {
		return "", simulation.TelemetrySnapshot{}, err
	}
	return robotID, snap, nil
}

func readString(t *flatbuffers.Table, slot int) string {
	o := flatbuffers.UOffsetT(t.Offset(vtableOffset(slot)))
	if o == 0 {
		return ""
	}
	return t.String(o + t.Pos)
}

// readFloats copies a double vector into dst, which must match its length.
func readFloats(t *flatbuffers.Table, slot int, dst []float64) error {
	o := flatbuffers.UOffsetT(t.Offset(vtableOffset(slot)))
	if o == 0 {
		return fmt.Errorf("%w: field %d missing", ErrInvalidFrame, slot)
	}
	n := t.VectorLen(o)
	if n != len(dst) {
		return fmt.Errorf("%w: field %d has %d elements, want %d", ErrInvalidFrame, slot, n, len(dst))
	}
	start := t.Vector(o)
	for i := range dst {
		dst[i] = t.GetFloat64(start + flatbuffers.UOffsetT(i*flatbuffers.SizeFloat64))
	}
	return nil
}
