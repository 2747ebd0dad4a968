package teleop

import (
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/robodog/simcontroller/domain/simulation"
	customlog "github.com/robodog/simcontroller/pkg/log"
	"github.com/robodog/simcontroller/pkg/processing"
)

// ErrNotConnected is reported by the HTTP command endpoint when the session
// is not connected and the command was dropped.
var ErrNotConnected = errors.New("robot session is not connected")

// EventRouter accepts outbound events for the processing pipeline.
type EventRouter interface {
	RouteEvent(ev *processing.Event) error
}

// Listener observes the robot session. Callbacks run on the engine's
// delivery path and must not block.
type Listener interface {
	OnConnection(state simulation.ConnectionState)
	OnTelemetry(snap simulation.TelemetrySnapshot)
	OnAck(ack simulation.AckEvent)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Connection func(simulation.ConnectionState)
	Telemetry  func(simulation.TelemetrySnapshot)
	Ack        func(simulation.AckEvent)
}

func (f ListenerFuncs) OnConnection(state simulation.ConnectionState) {
	if f.Connection != nil {
		f.Connection(state)
	}
}

func (f ListenerFuncs) OnTelemetry(snap simulation.TelemetrySnapshot) {
	if f.Telemetry != nil {
		f.Telemetry(snap)
	}
}

func (f ListenerFuncs) OnAck(ack simulation.AckEvent) {
	if f.Ack != nil {
		f.Ack(ack)
	}
}

// Receipt is the synchronous answer to a submitted command.
type Receipt struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
}

// State is the session summary served by GET /api/teleop/state.
type State struct {
	RobotID         string                     `json:"robot_id"`
	Connection      simulation.ConnectionState `json:"connection"`
	Mode            simulation.Mode            `json:"mode"`
	Position        [2]float64                 `json:"position"`
	SpeedMultiplier float64                    `json:"speed_multiplier"`
	Paused          bool                       `json:"paused"`
	Autopilot       bool                       `json:"autopilot"`
	Waypoints       int                        `json:"waypoints"`
	Subscribers     int                        `json:"subscribers"`
}

// TeleopService owns the simulated robot session and fans its events out
// to listeners and the outbound pipeline.
type TeleopService struct {
	engine  *simulation.Engine
	robotID string
	logger  customlog.Logger

	mu          sync.RWMutex
	router      EventRouter
	listeners   []Listener
	unsubscribe func()
}

// NewTeleopService creates a service for robotID around engine.
func NewTeleopService(engine *simulation.Engine, robotID string, logger customlog.Logger) *TeleopService {
	return &TeleopService{
		engine:  engine,
		robotID: robotID,
		logger:  logger.WithField("component", "teleop"),
	}
}

// RobotID returns the id stamped on outbound events.
func (s *TeleopService) RobotID() string {
	return s.robotID
}

// Engine returns the underlying simulation engine.
func (s *TeleopService) Engine() *simulation.Engine {
	return s.engine
}

// SetRouter sets the outbound event router.
func (s *TeleopService) SetRouter(r EventRouter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.router = r
}

// AddListener registers l for session events.
func (s *TeleopService) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Connect (re)starts the session handshake. Teardown drops engine
// subscribers, so the fan-out subscriber is registered on every connect.
func (s *TeleopService) Connect() {
	s.mu.Lock()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.unsubscribe = s.engine.Subscribe(simulation.SubscriberFuncs{
		Open:      s.onOpen,
		Telemetry: s.onTelemetry,
		Ack:       s.onAck,
	})
	s.mu.Unlock()

	s.engine.Connect()
	s.logger.Infof("Connecting robot %s", s.robotID)
	s.notifyConnection(simulation.StateConnecting)
}

// Disconnect tears the session down.
func (s *TeleopService) Disconnect() {
	wasActive := s.engine.State() != simulation.StateDisconnected

	s.mu.Lock()
	s.unsubscribe = nil
	s.mu.Unlock()

	s.engine.Teardown()
	if !wasActive {
		return
	}
	s.logger.Infof("Disconnected robot %s", s.robotID)
	s.notifyConnection(simulation.StateDisconnected)
	s.route(processing.NewConnectionEvent(s.robotID, false))
}

// Submit decodes a JSON command and applies it. A missing id is replaced
// with a generated one so the acknowledgement can be correlated.
func (s *TeleopService) Submit(raw []byte) (Receipt, error) {
	cmd, err := simulation.DecodeCommand(raw)
	if err != nil {
		return Receipt{}, err
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	accepted, err := s.engine.Apply(cmd)
	if err != nil {
		return Receipt{ID: cmd.ID}, err
	}
	return Receipt{ID: cmd.ID, Accepted: accepted}, nil
}

// SubmitCommand is Submit in the shape used by the ZeroMQ and MQTT links.
func (s *TeleopService) SubmitCommand(raw []byte) (string, bool, error) {
	r, err := s.Submit(raw)
	return r.ID, r.Accepted, err
}

// State summarises the session.
func (s *TeleopService) State() State {
	cs := s.engine.ControlState()
	st := State{
		RobotID:         s.robotID,
		Connection:      s.engine.State(),
		Mode:            cs.Mode(),
		Position:        [2]float64{cs.Position.X, cs.Position.Y},
		SpeedMultiplier: cs.SpeedMultiplier,
		Paused:          cs.Paused,
		Autopilot:       cs.AutopilotActive,
		Waypoints:       len(cs.PathQueue),
		Subscribers:     s.engine.SubscriberCount(),
	}
	return st
}

func (s *TeleopService) snapshotListeners() ([]Listener, EventRouter) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Listener(nil), s.listeners...), s.router
}

func (s *TeleopService) notifyConnection(state simulation.ConnectionState) {
	listeners, _ := s.snapshotListeners()
	for _, l := range listeners {
		l.OnConnection(state)
	}
}

func (s *TeleopService) route(ev *processing.Event) {
	_, router := s.snapshotListeners()
	if router == nil {
		return
	}
	if err := router.RouteEvent(ev); err != nil {
		s.logger.Debugf("Failed to route %s event: %v", ev.Topic, err)
	}
}

func (s *TeleopService) onOpen() {
	s.logger.Infof("Robot %s connected", s.robotID)
	s.notifyConnection(simulation.StateConnected)
	s.route(processing.NewConnectionEvent(s.robotID, true))
}

func (s *TeleopService) onTelemetry(snap simulation.TelemetrySnapshot) {
	listeners, _ := s.snapshotListeners()
	for _, l := range listeners {
		l.OnTelemetry(snap)
	}
	s.route(processing.NewTelemetryEvent(s.robotID, snap))
}

func (s *TeleopService) onAck(ack simulation.AckEvent) {
	listeners, _ := s.snapshotListeners()
	for _, l := range listeners {
		l.OnAck(ack)
	}
	s.route(processing.NewAckEvent(s.robotID, ack))
}

// RegisterRoutes mounts the session endpoints under /api/teleop.
func (s *TeleopService) RegisterRoutes(app fiber.Router) {
	g := app.Group("/api/teleop")
	g.Post("/connect", s.ConnectHandler)
	g.Post("/disconnect", s.DisconnectHandler)
	g.Post("/command", s.CommandHandler)
	g.Get("/state", s.StateHandler)
}

// ConnectHandler starts the handshake.
func (s *TeleopService) ConnectHandler(c *fiber.Ctx) error {
	s.Connect()
	return c.Status(fiber.StatusAccepted).JSON(s.State())
}

// DisconnectHandler tears the session down.
func (s *TeleopService) DisconnectHandler(c *fiber.Ctx) error {
	s.Disconnect()
	return c.JSON(s.State())
}

// CommandHandler processes incoming teleop commands.
func (s *TeleopService) CommandHandler(c *fiber.Ctx) error {
	receipt, err := s.Submit(c.Body())
	if err != nil {
		return err
	}
	if !receipt.Accepted {
		return ErrNotConnected
	}
	return c.Status(fiber.StatusAccepted).JSON(receipt)
}

// StateHandler reports the session summary.
func (s *TeleopService) StateHandler(c *fiber.Ctx) error {
	return c.JSON(s.State())
}
