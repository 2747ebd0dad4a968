package diagnostic

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/robodog/simcontroller/domain/simulation"
	"github.com/robodog/simcontroller/pkg/config"
	customlog "github.com/robodog/simcontroller/pkg/log"
	"github.com/robodog/simcontroller/pkg/processing"
)

// AlertType names a telemetry threshold condition.
type AlertType string

const (
	AlertHighTemperature AlertType = "HIGH_TEMPERATURE"
	AlertLowBattery      AlertType = "LOW_BATTERY"
)

// Alert records a threshold crossing. Active is false when the value has
// returned to its normal range.
type Alert struct {
	Type      AlertType `json:"type"`
	Active    bool      `json:"active"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp int64     `json:"timestamp"` // telemetry timestamp, unix milliseconds
	Message   string    `json:"message"`
}

// Thresholds are the limits that raise alerts.
type Thresholds struct {
	TemperatureHigh float64 `json:"temperature_high"`
	BatteryLow      float64 `json:"battery_low"`
}

// EventRouter accepts outbound events for the processing pipeline.
type EventRouter interface {
	RouteEvent(ev *processing.Event) error
}

// AlertSink receives every alert transition.
type AlertSink interface {
	OnAlert(alert interface{})
}

// AlertMonitor watches telemetry for threshold crossings. Alerts are edge
// triggered: one record when a value leaves its range and one when it returns.
type AlertMonitor struct {
	robotID string
	logger  customlog.Logger

	mu         sync.Mutex
	thresholds Thresholds
	active     map[AlertType]bool
	history    []Alert
	next       int
	size       int
	router     EventRouter
	sinks      []AlertSink

	raised *prometheus.CounterVec
}

// NewAlertMonitor creates a monitor using the thresholds in cfg.
func NewAlertMonitor(robotID string, cfg config.AlertConfig, logger customlog.Logger) *AlertMonitor {
	m := &AlertMonitor{
		robotID: robotID,
		logger:  logger.WithField("component", "alerts"),
		active:  make(map[AlertType]bool),
		raised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "robodog",
			Name:      "alerts_raised_total",
			Help:      "Threshold alerts raised, by type.",
		}, []string{"type"}),
	}
	m.ApplyConfig(cfg)
	return m
}

// ApplyConfig replaces the thresholds and resizes the history, keeping the
// newest records.
func (m *AlertMonitor) ApplyConfig(cfg config.AlertConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.thresholds = Thresholds{TemperatureHigh: cfg.TemperatureHigh, BatteryLow: cfg.BatteryLow}
	size := cfg.HistorySize
	if size <= 0 {
		size = 50
	}
	if size != m.size {
		recent := m.recentLocked()
		if len(recent) > size {
			recent = recent[len(recent)-size:]
		}
		m.history = make([]Alert, 0, size)
		m.history = append(m.history, recent...)
		m.next = len(m.history) % size
		m.size = size
	}
	m.logger.Infof("Alert thresholds: temperature > %.1f, battery < %.1f (history %d)",
		cfg.TemperatureHigh, cfg.BatteryLow, size)
}

// Thresholds returns the active limits.
func (m *AlertMonitor) Thresholds() Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.thresholds
}

// SetRouter sets where alert events are routed.
func (m *AlertMonitor) SetRouter(r EventRouter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.router = r
}

// AddSink registers s for alert transitions.
func (m *AlertMonitor) AddSink(s AlertSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

// Collector exposes the raised-alert counter.
func (m *AlertMonitor) Collector() prometheus.Collector {
	return m.raised
}

// Observe checks one snapshot and returns the transitions it caused.
func (m *AlertMonitor) Observe(snap simulation.TelemetrySnapshot) []Alert {
	m.mu.Lock()
	th := m.thresholds
	var out []Alert
	if a, ok := m.checkLocked(AlertHighTemperature, snap.Env.Temp > th.TemperatureHigh, snap.Env.Temp, th.TemperatureHigh, snap.Timestamp); ok {
		out = append(out, a)
	}
	if a, ok := m.checkLocked(AlertLowBattery, snap.Battery < th.BatteryLow, snap.Battery, th.BatteryLow, snap.Timestamp); ok {
		out = append(out, a)
	}
	router := m.router
	sinks := append([]AlertSink(nil), m.sinks...)
	m.mu.Unlock()

	for _, a := range out {
		if a.Active {
			m.logger.Warnf("%s", a.Message)
		} else {
			m.logger.Infof("%s", a.Message)
		}
		for _, s := range sinks {
			s.OnAlert(a)
		}
		if router != nil {
			if err := router.RouteEvent(processing.NewAlertEvent(m.robotID, a)); err != nil {
				m.logger.Debugf("Failed to route %s alert: %v", a.Type, err)
			}
		}
	}
	return out
}

func (m *AlertMonitor) checkLocked(t AlertType, breached bool, value, threshold float64, ts int64) (Alert, bool) {
	if breached == m.active[t] {
		return Alert{}, false
	}
	m.active[t] = breached

	a := Alert{Type: t, Active: breached, Value: value, Threshold: threshold, Timestamp: ts}
	switch {
	case t == AlertHighTemperature && breached:
		a.Message = fmt.Sprintf("temperature %.1f above %.1f", value, threshold)
	case t == AlertLowBattery && breached:
		a.Message = fmt.Sprintf("battery %.1f%% below %.1f%%", value, threshold)
	default:
		a.Message = fmt.Sprintf("%s cleared at %.1f", t, value)
	}
	if breached {
		m.raised.WithLabelValues(string(t)).Inc()
	}
	m.appendLocked(a)
	return a, true
}

func (m *AlertMonitor) appendLocked(a Alert) {
	if len(m.history) < m.size {
		m.history = append(m.history, a)
		m.next = len(m.history) % m.size
		return
	}
	m.history[m.next] = a
	m.next = (m.next + 1) % m.size
}

func (m *AlertMonitor) recentLocked() []Alert {
	if len(m.history) < m.size || m.size == 0 {
		return append([]Alert(nil), m.history...)
	}
	out := make([]Alert, 0, m.size)
	out = append(out, m.history[m.next:]...)
	return append(out, m.history[:m.next]...)
}

// Recent returns the retained alert records, oldest first.
func (m *AlertMonitor) Recent() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recentLocked()
}

// Active returns the conditions currently raised.
func (m *AlertMonitor) Active() []AlertType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AlertType
	for _, t := range []AlertType{AlertHighTemperature, AlertLowBattery} {
		if m.active[t] {
			out = append(out, t)
		}
	}
	return out
}

// OnConnection forgets raised conditions when the session ends so the next
// session raises them again.
func (m *AlertMonitor) OnConnection(state simulation.ConnectionState) {
	if state != simulation.StateDisconnected {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = make(map[AlertType]bool)
}

// OnTelemetry feeds a snapshot to Observe.
func (m *AlertMonitor) OnTelemetry(snap simulation.TelemetrySnapshot) {
	m.Observe(snap)
}

// OnAck is a no-op; acknowledgements carry no thresholds.
func (m *AlertMonitor) OnAck(simulation.AckEvent) {}
