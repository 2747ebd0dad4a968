package simulation

import (
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu    sync.Mutex
	opens int
	telem []TelemetrySnapshot
	acks  []AckEvent
}

func (r *recorder) OnOpen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opens++
}

func (r *recorder) OnTelemetry(s TelemetrySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.telem = append(r.telem, s)
}

func (r *recorder) OnAck(a AckEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, a)
}

func (r *recorder) telemetry() []TelemetrySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TelemetrySnapshot(nil), r.telem...)
}

func (r *recorder) ackIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.acks))
	for i, a := range r.acks {
		ids[i] = a.ID
	}
	return ids
}

func (r *recorder) openCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens
}

type harness struct {
	engine *Engine
	clock  *ManualClock
	rec    *recorder
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	clock := NewManualClock(testEpoch)
	opts := DefaultOptions()
	opts.Clock = clock
	opts.Rand = rand.New(rand.NewSource(42))
	for _, m := range mutate {
		m(&opts)
	}
	h := &harness{engine: NewEngine(opts), clock: clock, rec: &recorder{}}
	h.engine.Subscribe(h.rec)
	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.engine.Connect()
	h.clock.Advance(h.engine.Options().HandshakeDelay)
	require.Equal(t, StateConnected, h.engine.State())
}

func (h *harness) ticks(n int) {
	for i := 0; i < n; i++ {
		h.clock.Advance(h.engine.Options().TickPeriod)
	}
}

func (h *harness) apply(t *testing.T, cmd CommandRequest) {
	t.Helper()
	accepted, err := h.engine.Apply(cmd)
	require.NoError(t, err)
	require.True(t, accepted)
}

func noJitter(o *Options) { o.JitterAmplitude = 0 }

func TestEngineConnectLifecycle(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, StateDisconnected, h.engine.State())

	h.engine.Connect()
	assert.Equal(t, StateConnecting, h.engine.State())

	h.clock.Advance(999 * time.Millisecond)
	assert.Equal(t, StateConnecting, h.engine.State())
	assert.Equal(t, 0, h.rec.openCount())

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, StateConnected, h.engine.State())
	assert.Equal(t, 1, h.rec.openCount())
	assert.Empty(t, h.rec.telemetry())

	h.ticks(3)
	assert.Len(t, h.rec.telemetry(), 3)

	h.engine.Teardown()
	assert.Equal(t, StateDisconnected, h.engine.State())
	assert.Equal(t, 0, h.engine.SubscriberCount())
	h.ticks(5)
	assert.Len(t, h.rec.telemetry(), 3)
	assert.Equal(t, 0, h.clock.Pending())
}

func TestEngineReconnectReplacesTimers(t *testing.T) {
	h := newHarness(t)

	h.engine.Connect()
	h.clock.Advance(500 * time.Millisecond)
	h.engine.Connect()
	h.clock.Advance(600 * time.Millisecond)
	assert.Equal(t, StateConnecting, h.engine.State(), "first handshake must be cancelled")
	h.clock.Advance(400 * time.Millisecond)
	assert.Equal(t, StateConnected, h.engine.State())
	assert.Equal(t, 1, h.rec.openCount())

	h.ticks(1)
	assert.Len(t, h.rec.telemetry(), 1)

	// Reconnect while running restarts the handshake and keeps a single ticker.
	h.engine.Connect()
	assert.Equal(t, StateConnecting, h.engine.State())
	h.clock.Advance(time.Second)
	assert.Equal(t, 2, h.rec.openCount())
	h.ticks(4)
	assert.Len(t, h.rec.telemetry(), 5)
	assert.Equal(t, 1, h.clock.Pending())
}

func TestEngineDropsCommandsWhenNotConnected(t *testing.T) {
	h := newHarness(t)

	accepted, err := h.engine.Apply(Move("m1", DirForward))
	require.NoError(t, err)
	assert.False(t, accepted)

	h.engine.Connect()
	accepted, err = h.engine.Apply(Move("m2", DirForward))
	require.NoError(t, err)
	assert.False(t, accepted)

	h.clock.Advance(time.Second)
	assert.Empty(t, h.rec.ackIDs())
	assert.False(t, h.engine.ControlState().Forward)
	assert.EqualValues(t, 2, h.engine.Metrics().CommandsRejected)
}

func TestEngineAcknowledgesEachCommandOnce(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	h.apply(t, Move("c1", DirForward))
	h.apply(t, Simple("c2", CmdStopPath))
	h.apply(t, Simple("c3", CmdAction))

	h.clock.Advance(99 * time.Millisecond)
	assert.Empty(t, h.rec.ackIDs())

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, []string{"c1", "c2", "c3"}, h.rec.ackIDs())

	h.ticks(10)
	assert.Equal(t, []string{"c1", "c2", "c3"}, h.rec.ackIDs())
	assert.EqualValues(t, 3, h.engine.Metrics().AcksDelivered)
}

func TestEngineAckEchoesOriginalPayload(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	cmd, err := DecodeCommand([]byte(`{"id":"a1","type":"ACTION","action":"sit","extra":{"n":1}}`))
	require.NoError(t, err)
	h.apply(t, cmd)
	h.clock.Advance(100 * time.Millisecond)

	require.Len(t, h.rec.acks, 1)
	assert.JSONEq(t, `{"id":"a1","type":"ACTION","action":"sit","extra":{"n":1}}`, string(h.rec.acks[0].Command.Payload()))
}

func TestEngineTeardownKeepsPendingAcks(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.apply(t, Simple("late", CmdStop))

	h.engine.Teardown()
	late := &recorder{}
	h.engine.Subscribe(late)

	h.clock.Advance(100 * time.Millisecond)
	assert.Empty(t, h.rec.ackIDs())
	assert.Equal(t, []string{"late"}, late.ackIDs())
}

func TestEngineRejectsMalformedCommands(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.apply(t, ExecPath("p0", Vec2{X: 1, Y: 1}))
	before := h.engine.ControlState()

	cases := []CommandRequest{
		ExecPath("p1", Vec2{X: math.NaN(), Y: 1}),
		{ID: "p2", Type: CmdExecPath},
		{ID: "m1", Type: CmdMove, Direction: "UP"},
		{ID: "s1", Type: CmdSetSpeed},
		SetSpeed("s2", math.Inf(1)),
		{ID: "x1", Type: "JUMP"},
	}
	for _, cmd := range cases {
		accepted, err := h.engine.Apply(cmd)
		assert.ErrorIs(t, err, ErrInvalidCommand, cmd.ID)
		assert.False(t, accepted)
	}

	assert.Equal(t, before, h.engine.ControlState())
	h.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, []string{"p0"}, h.rec.ackIDs())
	assert.EqualValues(t, len(cases), h.engine.Metrics().CommandsInvalid)
}

func TestEngineExecPathReachesWaypointExactly(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.apply(t, ExecPath("p", Vec2{X: 3, Y: 4}))

	limit := int(math.Ceil(5 / 0.15))
	h.ticks(limit)

	frames := h.rec.telemetry()
	require.Len(t, frames, limit)
	reached := -1
	for i, f := range frames {
		if f.Position == [2]float64{3, 4} {
			reached = i
			break
		}
		assert.Equal(t, ModeAuto, f.Mode, "tick %d", i+1)
	}
	require.NotEqual(t, -1, reached, "waypoint not reached within %d ticks", limit)
	assert.Equal(t, ModeStand, frames[reached].Mode)

	state := h.engine.ControlState()
	assert.False(t, state.AutopilotActive)
	assert.Empty(t, state.PathQueue)
	assert.Equal(t, Vec2{X: 3, Y: 4}, state.Position)

	// Path completion is terminal; only manual jitter remains.
	h.ticks(5)
	state = h.engine.ControlState()
	assert.False(t, state.AutopilotActive)
	assert.InDelta(t, 3, state.Position.X, 5*0.005)
	assert.InDelta(t, 4, state.Position.Y, 5*0.005)
}

func TestEngineConsumesOneWaypointPerTick(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.apply(t, ExecPath("p", Vec2{X: 0, Y: 0.05}, Vec2{X: 0, Y: 0.1}, Vec2{X: 0, Y: 0.12}))

	h.ticks(1)
	state := h.engine.ControlState()
	assert.Equal(t, Vec2{X: 0, Y: 0.05}, state.Position)
	assert.Len(t, state.PathQueue, 2)
	assert.True(t, state.AutopilotActive)

	h.ticks(2)
	state = h.engine.ControlState()
	assert.Equal(t, Vec2{X: 0, Y: 0.12}, state.Position)
	assert.False(t, state.AutopilotActive)
}

func TestEngineManualMoveStaysOnAxisWithBoundedJitter(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.apply(t, Move("w", DirForward))

	prev := h.engine.ControlState().Position
	for i := 0; i < 25; i++ {
		h.ticks(1)
		state := h.engine.ControlState()
		assert.False(t, state.AutopilotActive)
		assert.InDelta(t, 0, state.Position.X-prev.X, 0.005)
		assert.InDelta(t, 0.15, state.Position.Y-prev.Y, 0.005)
		prev = state.Position
	}
	for _, f := range h.rec.telemetry() {
		assert.Equal(t, ModeWalk, f.Mode)
		assert.InDelta(t, 0.15*accelGain, f.IMU.Accel[1], 1e-9)
	}
}

func TestEngineHugeSpeedKeepsTelemetryEncodable(t *testing.T) {
	h := newHarness(t, noJitter)
	h.connect(t)
	h.apply(t, SetSpeed("s", math.MaxFloat64))
	h.apply(t, Move("w", DirForward))
	h.ticks(400)

	state := h.engine.ControlState()
	require.True(t, state.Position.IsFinite())

	frames := h.rec.telemetry()
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	for _, v := range append(last.Position[:], last.IMU.Accel[:]...) {
		assert.False(t, math.IsInf(v, 0) || math.IsNaN(v))
	}
	_, err := json.Marshal(last)
	assert.NoError(t, err)
}

func TestEngineOpposingKeysCancel(t *testing.T) {
	h := newHarness(t, noJitter)
	h.connect(t)
	h.apply(t, Keyboard("k1", DirForward, true))
	h.apply(t, Keyboard("k2", DirBackward, true))
	h.apply(t, Keyboard("k3", DirRight, true))

	h.ticks(4)
	pos := h.engine.ControlState().Position
	assert.InDelta(t, 0.6, pos.X, 1e-9)
	assert.InDelta(t, 0, pos.Y, 1e-9)

	h.apply(t, Keyboard("k4", DirRight, false))
	h.ticks(1)
	assert.InDelta(t, 0.6, h.engine.ControlState().Position.X, 1e-9)
}

func TestEngineMoveOverridesAutopilot(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.apply(t, ExecPath("p", Vec2{X: 10, Y: 0}))
	h.ticks(2)
	require.True(t, h.engine.ControlState().AutopilotActive)

	h.apply(t, Move("a", DirLeft))
	state := h.engine.ControlState()
	assert.False(t, state.AutopilotActive)
	assert.Nil(t, state.PathQueue)
	assert.True(t, state.Left)

	// MOVE STOP clears keys but would not touch a running path.
	h.apply(t, ExecPath("p2", Vec2{X: 10, Y: 0}))
	h.apply(t, Move("s", DirStop))
	state = h.engine.ControlState()
	assert.False(t, state.Left)
	assert.True(t, state.AutopilotActive)

	// STOP cancels both.
	h.apply(t, Keyboard("k", DirForward, true))
	h.apply(t, Simple("stop", CmdStop))
	state = h.engine.ControlState()
	assert.False(t, state.IsMoving())
	assert.False(t, state.AutopilotActive)
}

func TestEngineStopPathIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.apply(t, Keyboard("k", DirRight, true))
	h.ticks(2)

	before := h.engine.ControlState()
	h.apply(t, Simple("sp1", CmdStopPath))
	assert.Equal(t, before, h.engine.ControlState())
	h.apply(t, Simple("sp2", CmdStopPath))
	assert.Equal(t, before, h.engine.ControlState())

	h.clock.Advance(100 * time.Millisecond)
	assert.Equal(t, []string{"k", "sp1", "sp2"}, h.rec.ackIDs())
}

func TestEnginePauseFreezesPosition(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.apply(t, ExecPath("p", Vec2{X: 5, Y: 5}))
	h.apply(t, Keyboard("k", DirForward, true))
	h.ticks(3)

	h.apply(t, Simple("pause", CmdPausePath))
	frozen := h.engine.ControlState()
	start := len(h.rec.telemetry())
	h.ticks(10)

	assert.Equal(t, frozen, h.engine.ControlState())
	paused := h.rec.telemetry()[start:]
	require.Len(t, paused, 10)
	for i, f := range paused {
		assert.Equal(t, emittedPosition(frozen.Position), f.Position)
		assert.Equal(t, ModeStand, f.Mode)
		assert.Equal(t, Pose{}, f.Pose)
		assert.Equal(t, [3]float64{0, 0, gravity}, f.IMU.Accel)
		if i > 0 {
			assert.Greater(t, f.Timestamp, paused[i-1].Timestamp)
		}
	}

	h.apply(t, Simple("resume", CmdResumePath))
	h.ticks(1)
	state := h.engine.ControlState()
	assert.NotEqual(t, frozen.Position, state.Position)
	assert.Len(t, state.PathQueue, 1)
}

func TestEngineResetMap(t *testing.T) {
	h := newHarness(t)
	h.connect(t)
	h.apply(t, Keyboard("k", DirRight, true))
	h.ticks(3)
	h.apply(t, ExecPath("p", Vec2{X: 9, Y: 9}))
	h.ticks(2)

	h.apply(t, Simple("reset", CmdResetMap))
	assert.Equal(t, Vec2{}, h.engine.ControlState().Position)
	start := len(h.rec.telemetry())
	h.ticks(1)

	frame := h.rec.telemetry()[start]
	state := h.engine.ControlState()
	assert.False(t, state.AutopilotActive)
	assert.False(t, state.IsMoving())
	assert.Equal(t, ModeStand, frame.Mode)
	// Stationary manual mode still applies jitter.
	assert.InDelta(t, 0, frame.Position[0], 0.005)
	assert.InDelta(t, 0, frame.Position[1], 0.005)
}

func TestEngineSpeedScalesStep(t *testing.T) {
	distance := func(percent float64) float64 {
		h := newHarness(t, noJitter)
		h.connect(t)
		h.apply(t, SetSpeed("s", percent))
		h.apply(t, Move("w", DirForward))
		h.ticks(6)
		return h.engine.ControlState().Position.Y
	}

	h := newHarness(t)
	h.connect(t)
	h.apply(t, SetSpeed("s", 50))
	assert.Equal(t, 1.0, h.engine.ControlState().SpeedMultiplier)

	base := distance(50)
	assert.InDelta(t, 0.9, base, 1e-9)
	assert.InDelta(t, 2*base, distance(100), 1e-9)
	assert.InDelta(t, -base, distance(-50), 1e-9)
	assert.InDelta(t, 0, distance(0), 1e-9)
}

func TestEngineDeterministicWithSeed(t *testing.T) {
	run := func() []TelemetrySnapshot {
		h := newHarness(t)
		h.connect(t)
		h.apply(t, Move("w", DirForward))
		h.apply(t, Keyboard("d", DirRight, true))
		h.ticks(8)
		return h.rec.telemetry()
	}
	assert.Equal(t, run(), run())
}

func TestEngineUnsubscribe(t *testing.T) {
	h := newHarness(t)
	other := &recorder{}
	unsubscribe := h.engine.Subscribe(other)
	h.connect(t)
	h.ticks(1)

	unsubscribe()
	h.ticks(2)
	assert.Len(t, other.telemetry(), 1)
	assert.Len(t, h.rec.telemetry(), 3)
	assert.Equal(t, 1, h.engine.SubscriberCount())
}

func TestEngineConcurrentApplyWithSystemClock(t *testing.T) {
	e := NewEngine(Options{
		TickPeriod:     5 * time.Millisecond,
		HandshakeDelay: time.Millisecond,
		AckDelay:       time.Millisecond,
		Rand:           rand.New(rand.NewSource(1)),
	})
	rec := &recorder{}
	e.Subscribe(rec)
	e.Connect()
	require.Eventually(t, func() bool { return e.State() == StateConnected }, time.Second, time.Millisecond)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dirs := []Direction{DirForward, DirBackward, DirLeft, DirRight, DirStop}
			_, err := e.Apply(Move("", dirs[i%len(dirs)]))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(rec.ackIDs()) == n }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(rec.telemetry()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	e.Teardown()

	for _, f := range rec.telemetry() {
		assert.False(t, math.IsNaN(f.Position[0]) || math.IsNaN(f.Position[1]))
	}
}
