package simulation

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/looplab/fsm"

	customlog "github.com/robodog/simcontroller/pkg/log"
)

// Connection state machine events.
const (
	eventConnect  = "connect"
	eventOpen     = "open"
	eventTeardown = "teardown"
)

// Options configures an Engine. Zero fields take the defaults below.
type Options struct {
	TickPeriod      time.Duration
	HandshakeDelay  time.Duration
	AckDelay        time.Duration
	BaseSpeed       float64
	JitterAmplitude float64
	Clock           Clock
	Rand            Rand
	Logger          customlog.Logger
}

// DefaultOptions returns the standard simulation timing and motion settings.
func DefaultOptions() Options {
	return Options{
		TickPeriod:      200 * time.Millisecond,
		HandshakeDelay:  time.Second,
		AckDelay:        100 * time.Millisecond,
		BaseSpeed:       0.15,
		JitterAmplitude: 0.005,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TickPeriod <= 0 {
		o.TickPeriod = d.TickPeriod
	}
	if o.HandshakeDelay < 0 {
		o.HandshakeDelay = d.HandshakeDelay
	}
	if o.AckDelay < 0 {
		o.AckDelay = d.AckDelay
	}
	if o.BaseSpeed == 0 {
		o.BaseSpeed = d.BaseSpeed
	}
	if o.JitterAmplitude < 0 {
		o.JitterAmplitude = 0
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.Logger == nil {
		o.Logger = customlog.NewNopLogger()
	}
	return o
}

// Engine simulates one robot link. It owns the control state, drives the
// tick loop once connected and publishes telemetry and acknowledgements
// to its subscribers.
type Engine struct {
	opts   Options
	clock  Clock
	rng    Rand
	logger customlog.Logger

	mu          sync.Mutex
	machine     *fsm.FSM
	state       ControlState
	generation  uint64
	handshake   Timer
	ticker      Timer
	subscribers []subscription
	nextSubID   uint64

	// deliverMu serialises every delivery so each subscriber sees events in order.
	deliverMu sync.Mutex

	metrics EngineMetrics
}

// NewEngine creates a disconnected engine.
func NewEngine(opts Options) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		opts:   opts,
		clock:  opts.Clock,
		rng:    opts.Rand,
		logger: opts.Logger,
		state:  newControlState(),
	}
	e.machine = fsm.NewFSM(
		string(StateDisconnected),
		fsm.Events{
			{Name: eventConnect, Src: []string{string(StateDisconnected), string(StateConnected)}, Dst: string(StateConnecting)},
			{Name: eventOpen, Src: []string{string(StateConnecting)}, Dst: string(StateConnected)},
			{Name: eventTeardown, Src: []string{string(StateConnecting), string(StateConnected)}, Dst: string(StateDisconnected)},
		},
		fsm.Callbacks{},
	)
	return e
}

// Options returns the effective engine options.
func (e *Engine) Options() Options {
	return e.opts
}

// State returns the current connection state.
func (e *Engine) State() ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ConnectionState(e.machine.Current())
}

// ControlState returns a copy of the current control state.
func (e *Engine) ControlState() ControlState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// Metrics returns the engine counters.
func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// SubscriberCount reports how many subscribers are registered.
func (e *Engine) SubscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscribers)
}

// Subscribe registers s for engine events and returns a function that removes it.
func (e *Engine) Subscribe(s Subscriber) (unsubscribe func()) {
	e.mu.Lock()
	e.nextSubID++
	id := e.nextSubID
	e.subscribers = append(e.subscribers, subscription{id: id, sub: s})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, existing := range e.subscribers {
			if existing.id == id {
				e.subscribers = append(e.subscribers[:i:i], e.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Connect starts the simulated handshake. Calling it again while connecting
// or connected restarts the handshake and replaces any running timers.
func (e *Engine) Connect() {
	e.mu.Lock()
	e.stopTimersLocked()
	if !e.machine.Is(string(StateConnecting)) {
		if err := e.machine.Event(context.Background(), eventConnect); err != nil && !isNoTransition(err) {
			e.logger.Warnf("Simulation engine connect transition failed: %v", err)
		}
	}
	e.generation++
	gen := e.generation
	e.handshake = e.clock.AfterFunc(e.opts.HandshakeDelay, func() { e.open(gen) })
	e.mu.Unlock()

	e.metrics.connects.Add(1)
	e.logger.Infof("Simulation engine connecting (handshake %v)", e.opts.HandshakeDelay)
}

func (e *Engine) open(gen uint64) {
	e.mu.Lock()
	if gen != e.generation || !e.machine.Is(string(StateConnecting)) {
		e.mu.Unlock()
		return
	}
	if err := e.machine.Event(context.Background(), eventOpen); err != nil {
		e.mu.Unlock()
		e.logger.Errorf("Simulation engine open transition failed: %v", err)
		return
	}
	e.handshake = nil
	subs := e.subscribersLocked()
	e.mu.Unlock()

	e.logger.Infof("Simulation engine connected, ticking every %v", e.opts.TickPeriod)
	e.deliver(subs, func(s Subscriber) { s.OnOpen() })

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation || e.ticker != nil || !e.machine.Is(string(StateConnected)) {
		return
	}
	e.ticker = e.clock.Every(e.opts.TickPeriod, func() { e.tick(gen) })
}

// Apply validates cmd and applies it to the control state. Commands sent
// while not connected are dropped and report accepted == false. Every
// accepted command is acknowledged once after the configured ack delay.
func (e *Engine) Apply(cmd CommandRequest) (accepted bool, err error) {
	if err := cmd.Validate(); err != nil {
		e.metrics.commandsInvalid.Add(1)
		return false, err
	}

	e.mu.Lock()
	if !e.machine.Is(string(StateConnected)) {
		e.mu.Unlock()
		e.metrics.commandsRejected.Add(1)
		e.logger.Debugf("Dropping %s command %q: engine not connected", cmd.Type, cmd.ID)
		return false, nil
	}
	applyCommand(&e.state, cmd)
	e.mu.Unlock()

	e.metrics.commandsAccepted.Add(1)
	e.logger.Debugf("Applied %s command %q", cmd.Type, cmd.ID)

	ack := AckEvent{ID: cmd.ID, Command: cmd.clone()}
	e.clock.AfterFunc(e.opts.AckDelay, func() { e.deliverAck(ack) })
	return true, nil
}

// Teardown stops the tick loop, drops all subscribers and returns the
// engine to Disconnected. Acknowledgements already scheduled still fire.
func (e *Engine) Teardown() {
	e.mu.Lock()
	e.stopTimersLocked()
	e.generation++
	if e.machine.Can(eventTeardown) {
		if err := e.machine.Event(context.Background(), eventTeardown); err != nil {
			e.logger.Warnf("Simulation engine teardown transition failed: %v", err)
		}
	}
	e.subscribers = nil
	e.mu.Unlock()

	e.logger.Infof("Simulation engine torn down")
}

func (e *Engine) tick(gen uint64) {
	start := time.Now()

	e.mu.Lock()
	if gen != e.generation || !e.machine.Is(string(StateConnected)) {
		e.mu.Unlock()
		return
	}
	snap := e.stepLocked()
	subs := e.subscribersLocked()
	e.mu.Unlock()

	e.metrics.addTick(time.Since(start).Nanoseconds())
	e.deliver(subs, func(s Subscriber) { s.OnTelemetry(snap) })
}

// stepLocked runs motion and telemetry generation for one tick.
func (e *Engine) stepLocked() TelemetrySnapshot {
	now := e.clock.Now()
	if e.state.Paused {
		return quiescentTelemetry(now, &e.state)
	}
	wasAuto := e.state.AutopilotActive
	dx, dy := advance(&e.state, e.opts.BaseSpeed, e.opts.JitterAmplitude, e.rng)
	if wasAuto && !e.state.AutopilotActive {
		e.logger.Infof("Path complete at (%.3f, %.3f)", e.state.Position.X, e.state.Position.Y)
	}
	return generateTelemetry(now, &e.state, dx, dy, e.rng)
}

func (e *Engine) deliverAck(ack AckEvent) {
	e.mu.Lock()
	subs := e.subscribersLocked()
	e.mu.Unlock()

	e.metrics.acksDelivered.Add(1)
	e.deliver(subs, func(s Subscriber) { s.OnAck(ack) })
}

func (e *Engine) deliver(subs []Subscriber, fn func(Subscriber)) {
	if len(subs) == 0 {
		return
	}
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()
	for _, s := range subs {
		fn(s)
	}
}

func (e *Engine) subscribersLocked() []Subscriber {
	subs := make([]Subscriber, len(e.subscribers))
	for i, s := range e.subscribers {
		subs[i] = s.sub
	}
	return subs
}

func (e *Engine) stopTimersLocked() {
	if e.handshake != nil {
		e.handshake.Stop()
		e.handshake = nil
	}
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
	}
}

func isNoTransition(err error) bool {
	var nt fsm.NoTransitionError
	return errors.As(err, &nt)
}
