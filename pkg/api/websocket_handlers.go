package api

import (
	"errors"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/robodog/simcontroller/domain/simulation"
	"github.com/robodog/simcontroller/domain/teleop"
	customlog "github.com/robodog/simcontroller/pkg/log"
	"github.com/robodog/simcontroller/pkg/wire"
)

// DefaultSendQueueSize is the per-client outbound frame buffer.
const DefaultSendQueueSize = 64

// CommandSubmitter accepts raw JSON commands from dashboard clients.
type CommandSubmitter interface {
	Submit(raw []byte) (teleop.Receipt, error)
}

type wsClient struct {
	remote string
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// ControlHub serves /ws/control. It relays session events to every connected
// dashboard as JSON frames and submits the commands they send.
type ControlHub struct {
	logger    customlog.Logger
	submitter CommandSubmitter
	queueSize int

	mu        sync.RWMutex
	clients   map[*wsClient]struct{}
	connected bool

	dropped atomic.Uint64
}

// NewControlHub creates a hub. A non-positive queueSize uses DefaultSendQueueSize.
func NewControlHub(submitter CommandSubmitter, queueSize int, logger customlog.Logger) *ControlHub {
	if queueSize <= 0 {
		queueSize = DefaultSendQueueSize
	}
	return &ControlHub{
		logger:    logger.WithField("component", "ws"),
		submitter: submitter,
		queueSize: queueSize,
		clients:   make(map[*wsClient]struct{}),
	}
}

// RegisterRoutes mounts the control socket at /ws/control.
func (h *ControlHub) RegisterRoutes(app fiber.Router) {
	app.Use("/ws", UpgradeRequired)
	app.Get("/ws/control", websocket.New(h.ControlWebSocketHandler))
}

// UpgradeRequired rejects plain HTTP requests to websocket routes.
func UpgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// ClientCount reports the number of connected dashboards.
func (h *ControlHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedFrames reports frames discarded because a client queue was full.
func (h *ControlHub) DroppedFrames() uint64 {
	return h.dropped.Load()
}

// OnConnection announces OPEN and CLOSED to every dashboard.
func (h *ControlHub) OnConnection(state simulation.ConnectionState) {
	h.mu.Lock()
	h.connected = state == simulation.StateConnected
	h.mu.Unlock()

	switch state {
	case simulation.StateConnected:
		h.Broadcast(wire.OpenFrame())
	case simulation.StateDisconnected:
		h.Broadcast(wire.ClosedFrame())
	}
}

// OnTelemetry relays one snapshot as a TELEM frame.
func (h *ControlHub) OnTelemetry(snap simulation.TelemetrySnapshot) {
	h.Broadcast(wire.TelemetryFrame(snap))
}

// OnAck relays an acknowledgement as an ACK frame.
func (h *ControlHub) OnAck(ack simulation.AckEvent) {
	h.Broadcast(wire.AckFrame(ack))
}

// OnAlert relays a threshold alert as an ALERT frame.
func (h *ControlHub) OnAlert(alert interface{}) {
	h.Broadcast(wire.AlertFrame(alert))
}

// Broadcast queues frame for every client. Clients whose queue is full miss it.
func (h *ControlHub) Broadcast(frame wire.Frame) {
	data, err := frame.Marshal()
	if err != nil {
		h.logger.Errorf("Failed to marshal %s frame: %v", frame.Type, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.enqueue(c, data)
	}
}

func (h *ControlHub) enqueue(c *wsClient, data []byte) {
	select {
	case c.send <- data:
	default:
		h.dropped.Add(1)
		h.logger.Debugf("Dropping frame for slow client %s", c.remote)
	}
}

func (h *ControlHub) register(remote string) *wsClient {
	c := &wsClient{
		remote: remote,
		send:   make(chan []byte, h.queueSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if h.connected {
		if data, err := wire.OpenFrame().Marshal(); err == nil {
			h.enqueue(c, data)
		}
	}
	return c
}

func (h *ControlHub) unregister(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// handleInbound submits one text message. Rejections are answered on the
// same socket with an ERROR frame.
func (h *ControlHub) handleInbound(c *wsClient, msg []byte) {
	receipt, err := h.submitter.Submit(msg)
	if err != nil {
		h.logger.Warnf("Rejected command from %s: %v", c.remote, err)
		if data, mErr := wire.ErrorFrame(err.Error()).Marshal(); mErr == nil {
			h.enqueue(c, data)
		}
		return
	}
	h.logger.Debugf("Command %s from %s accepted=%t", receipt.ID, c.remote, receipt.Accepted)
}

// ControlWebSocketHandler handles one dashboard connection.
func (h *ControlHub) ControlWebSocketHandler(conn *websocket.Conn) {
	remote := conn.RemoteAddr().String()
	h.logger.Infof("Control WebSocket connected: %s", remote)
	c := h.register(remote)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-c.done:
				return
			case data := <-c.send:
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					h.logger.Debugf("Control WS write to %s failed: %v", remote, err)
					c.close()
					// Unblock the reader.
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Errorf("Control WS read error: %v", err)
			} else if err != websocket.ErrCloseSent && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
				h.logger.Infof("Control WS connection closed: %v", err)
			}
			break
		}
		if mt != websocket.TextMessage {
			h.logger.Infof("Ignoring non-text Control WS message type: %d", mt)
			continue
		}
		h.handleInbound(c, msg)
	}

	h.unregister(c)
	<-writerDone
	h.logger.Infof("Control WebSocket disconnected: %s", remote)
}
