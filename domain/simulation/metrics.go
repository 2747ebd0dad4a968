package simulation

import "sync/atomic"

// EngineMetrics counts engine activity for diagnostics.
type EngineMetrics struct {
	ticks            atomic.Int64
	totalTickNs      atomic.Int64
	commandsAccepted atomic.Int64
	commandsRejected atomic.Int64 // dropped while not connected
	commandsInvalid  atomic.Int64
	acksDelivered    atomic.Int64
	connects         atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of EngineMetrics.
type MetricsSnapshot struct {
	Ticks            int64   `json:"ticks"`
	AvgTickMs        float64 `json:"avg_tick_ms"`
	CommandsAccepted int64   `json:"commands_accepted"`
	CommandsRejected int64   `json:"commands_rejected"`
	CommandsInvalid  int64   `json:"commands_invalid"`
	AcksDelivered    int64   `json:"acks_delivered"`
	Connects         int64   `json:"connects"`
}

func (m *EngineMetrics) addTick(ns int64) {
	m.ticks.Add(1)
	m.totalTickNs.Add(ns)
}

// Snapshot returns the current counter values.
func (m *EngineMetrics) Snapshot() MetricsSnapshot {
	ticks := m.ticks.Load()
	var avgMs float64
	if ticks > 0 {
		avgMs = float64(m.totalTickNs.Load()) / float64(ticks) / 1e6
	}
	return MetricsSnapshot{
		Ticks:            ticks,
		AvgTickMs:        avgMs,
		CommandsAccepted: m.commandsAccepted.Load(),
		CommandsRejected: m.commandsRejected.Load(),
		CommandsInvalid:  m.commandsInvalid.Load(),
		AcksDelivered:    m.acksDelivered.Load(),
		Connects:         m.connects.Load(),
	}
}
