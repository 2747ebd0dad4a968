package simulation

import (
	"math"
	"time"
)

const (
	gravity     = 9.8
	accelGain   = 15.0
	batteryMin  = 10.0
	batteryFull = 100.0
	// batteryCycleMs is the length of one synthetic drain cycle.
	batteryCycleMs = 100000
)

// batteryLevel drains one percent per second over a 100s cycle, floored at 10%.
func batteryLevel(ms int64) float64 {
	return math.Max(batteryMin, batteryFull-float64(ms%batteryCycleMs)/1000)
}

// roundMillimeter rounds v to 3 decimals. Values too large for v*1000 to
// stay finite are already coarser than a millimeter and pass through.
func roundMillimeter(v float64) float64 {
	return finiteOr(math.Round(v*1000)/1000, v)
}

func emittedPosition(p Vec2) [2]float64 {
	return [2]float64{roundMillimeter(p.X), roundMillimeter(p.Y)}
}

// generateTelemetry builds the snapshot for an active tick from the
// post-motion state and this tick's manual displacement.
func generateTelemetry(now time.Time, s *ControlState, dx, dy float64, rng Rand) TelemetrySnapshot {
	ms := now.UnixMilli()
	t := float64(ms)

	snap := TelemetrySnapshot{
		Timestamp: ms,
		Battery:   batteryLevel(ms),
		Mode:      s.Mode(),
		Pose: Pose{
			Pitch: math.Sin(t/1000) * 8,
			Roll:  math.Cos(t/1000) * 4,
		},
	}
	snap.IMU.Accel = [3]float64{finiteOr(dx*accelGain, 0), finiteOr(dy*accelGain, 0), gravity + rng.Float64()*0.3}
	snap.IMU.Gyro = [3]float64{rng.Float64() * 0.5, rng.Float64() * 0.5, rng.Float64() * 0.5}
	snap.IMU.Mag = [3]float64{
		30 + rng.Float64()*10,
		10 + rng.Float64()*10,
		50 + rng.Float64()*10,
	}
	snap.Env = Environment{
		Temp:     24 + rng.Float64()*4,
		Humidity: 55 + rng.Float64()*20,
		Distance: 120 + math.Sin(t/1200)*100,
		Pressure: 1013 + math.Sin(t/5000)*10,
	}
	snap.Position = emittedPosition(s.Position)
	return snap
}

// quiescentTelemetry is the resting frame emitted while paused.
func quiescentTelemetry(now time.Time, s *ControlState) TelemetrySnapshot {
	ms := now.UnixMilli()
	return TelemetrySnapshot{
		Timestamp: ms,
		Battery:   batteryLevel(ms),
		Mode:      ModeStand,
		IMU:       IMU{Accel: [3]float64{0, 0, gravity}},
		Env: Environment{
			Temp:     24,
			Humidity: 55,
			Distance: 120,
			Pressure: 1013,
		},
		Position: emittedPosition(s.Position),
	}
}
