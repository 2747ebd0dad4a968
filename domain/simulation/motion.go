package simulation

import "math"

// Rand is the pseudo-random source behind jitter and sensor noise.
// *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// symmetric returns a uniform sample in [-amplitude, amplitude).
func symmetric(rng Rand, amplitude float64) float64 {
	return (rng.Float64()*2 - 1) * amplitude
}

// advance runs the motion model for one tick. It returns the manual
// displacement intent (dx, dy), which is zero outside manual mode.
func advance(s *ControlState, baseSpeed, jitter float64, rng Rand) (dx, dy float64) {
	if s.Paused {
		return 0, 0
	}
	step := baseSpeed * s.SpeedMultiplier

	if s.AutopilotActive && len(s.PathQueue) > 0 {
		target := s.PathQueue[0]
		delta := target.Sub(s.Position)
		distance := delta.Len()
		if distance < step || distance == 0 {
			s.Position = target
			s.PathQueue = s.PathQueue[1:]
			if len(s.PathQueue) == 0 {
				s.cancelAutopilot()
			}
		} else {
			ratio := step / distance
			s.Position.X = finiteOr(s.Position.X+delta.X*ratio, s.Position.X)
			s.Position.Y = finiteOr(s.Position.Y+delta.Y*ratio, s.Position.Y)
		}
		return 0, 0
	}

	if s.Forward {
		dy += step
	}
	if s.Backward {
		dy -= step
	}
	if s.Right {
		dx += step
	}
	if s.Left {
		dx -= step
	}
	s.Position.X = finiteOr(s.Position.X+dx+symmetric(rng, jitter), s.Position.X)
	s.Position.Y = finiteOr(s.Position.Y+dy+symmetric(rng, jitter), s.Position.Y)
	return dx, dy
}

// finiteOr returns v, or fallback when v overflowed or is NaN. A coordinate
// that would leave the float64 range stays where it was.
func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}
