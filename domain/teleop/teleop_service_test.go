package teleop

import (
	"encoding/json"
	"io"
	"math/rand"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robodog/simcontroller/domain/simulation"
	customlog "github.com/robodog/simcontroller/pkg/log"
	"github.com/robodog/simcontroller/pkg/processing"
	"github.com/robodog/simcontroller/pkg/wire"
)

type captured struct {
	mu          sync.Mutex
	connections []simulation.ConnectionState
	telemetry   []simulation.TelemetrySnapshot
	acks        []string
	events      []*processing.Event
}

func (c *captured) listener() Listener {
	return ListenerFuncs{
		Connection: func(s simulation.ConnectionState) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.connections = append(c.connections, s)
		},
		Telemetry: func(s simulation.TelemetrySnapshot) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.telemetry = append(c.telemetry, s)
		},
		Ack: func(a simulation.AckEvent) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.acks = append(c.acks, a.ID)
		},
	}
}

func (c *captured) RouteEvent(ev *processing.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captured) topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Topic
	}
	return out
}

type fixture struct {
	svc   *TeleopService
	clock *simulation.ManualClock
	opts  simulation.Options
	cap   *captured
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := simulation.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	opts := simulation.DefaultOptions()
	opts.Clock = clock
	opts.Rand = rand.New(rand.NewSource(7))
	engine := simulation.NewEngine(opts)

	svc := NewTeleopService(engine, "dog-1", customlog.NewNopLogger())
	c := &captured{}
	svc.AddListener(c.listener())
	svc.SetRouter(c)
	return &fixture{svc: svc, clock: clock, opts: engine.Options(), cap: c}
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	f.svc.Connect()
	f.clock.Advance(f.opts.HandshakeDelay)
	require.Equal(t, simulation.StateConnected, f.svc.State().Connection)
}

func TestSubmitRejectsMalformedCommand(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	_, err := f.svc.Submit([]byte(`{"type":"MOVE","direction":"UP"}`))
	assert.ErrorIs(t, err, simulation.ErrInvalidCommand)

	_, err = f.svc.Submit([]byte(`not json`))
	assert.ErrorIs(t, err, simulation.ErrInvalidCommand)
}

func TestSubmitWhileDisconnected(t *testing.T) {
	f := newFixture(t)

	receipt, err := f.svc.Submit([]byte(`{"type":"STOP"}`))
	require.NoError(t, err)
	assert.False(t, receipt.Accepted)
	_, err = uuid.Parse(receipt.ID)
	assert.NoError(t, err, "generated id must be a uuid")
}

func TestSessionLifecycleFansOut(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	assert.Equal(t, []simulation.ConnectionState{simulation.StateConnecting, simulation.StateConnected}, f.cap.connections)

	f.clock.Advance(f.opts.TickPeriod)
	require.Len(t, f.cap.telemetry, 1)

	id, accepted, err := f.svc.SubmitCommand([]byte(`{"id":"c-1","type":"MOVE","direction":"W"}`))
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, "c-1", id)

	f.clock.Advance(f.opts.AckDelay)
	assert.Equal(t, []string{"c-1"}, f.cap.acks)
	assert.Equal(t, simulation.ModeWalk, f.svc.State().Mode)

	f.svc.Disconnect()
	f.svc.Disconnect()
	assert.Equal(t, simulation.StateDisconnected, f.cap.connections[len(f.cap.connections)-1])
	assert.Len(t, f.cap.connections, 3)

	assert.Equal(t, []string{
		processing.TopicConnection,
		processing.TopicTelemetry,
		processing.TopicAck,
		processing.TopicConnection,
	}, f.cap.topics())
	assert.Equal(t, wire.FrameOpen, f.cap.events[0].Frame.Type)
	assert.Equal(t, wire.FrameClosed, f.cap.events[3].Frame.Type)
	assert.Equal(t, "dog-1", f.cap.events[1].RobotID)
}

func TestReconnectResubscribes(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.svc.Disconnect()
	assert.Equal(t, 0, f.svc.Engine().SubscriberCount())

	f.connect(t)
	assert.Equal(t, 1, f.svc.Engine().SubscriberCount())
	f.clock.Advance(f.opts.TickPeriod)
	assert.Len(t, f.cap.telemetry, 1)

	// Connecting twice keeps a single fan-out subscription.
	f.connect(t)
	assert.Equal(t, 1, f.svc.Engine().SubscriberCount())
}

func TestStateHandler(t *testing.T) {
	f := newFixture(t)
	app := fiber.New()
	f.svc.RegisterRoutes(app)

	resp, err := app.Test(httptest.NewRequest("POST", "/api/teleop/connect", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	f.clock.Advance(f.opts.HandshakeDelay)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/teleop/state", nil))
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)

	var st State
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "dog-1", st.RobotID)
	assert.Equal(t, simulation.StateConnected, st.Connection)
	assert.Equal(t, simulation.ModeStand, st.Mode)
	assert.Equal(t, 1.0, st.SpeedMultiplier)
}
