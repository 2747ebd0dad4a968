package diagnostic

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robodog/simcontroller/domain/simulation"
	"github.com/robodog/simcontroller/pkg/config"
	customlog "github.com/robodog/simcontroller/pkg/log"
	"github.com/robodog/simcontroller/pkg/processing"
	"github.com/robodog/simcontroller/pkg/wire"
)

var testAlerts = config.AlertConfig{TemperatureHigh: 35, BatteryLow: 20, HistorySize: 3}

type routerSpy struct {
	mu     sync.Mutex
	events []*processing.Event
}

func (r *routerSpy) RouteEvent(ev *processing.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type sinkSpy struct{ alerts []interface{} }

func (s *sinkSpy) OnAlert(a interface{}) { s.alerts = append(s.alerts, a) }

func snap(temp, battery float64) simulation.TelemetrySnapshot {
	return simulation.TelemetrySnapshot{Timestamp: 1000, Battery: battery, Env: simulation.Environment{Temp: temp}}
}

func TestAlertMonitorIsEdgeTriggered(t *testing.T) {
	m := NewAlertMonitor("dog-1", testAlerts, customlog.NewNopLogger())
	router := &routerSpy{}
	sink := &sinkSpy{}
	m.SetRouter(router)
	m.AddSink(sink)

	assert.Empty(t, m.Observe(snap(25, 90)))

	raised := m.Observe(snap(36, 90))
	require.Len(t, raised, 1)
	assert.Equal(t, AlertHighTemperature, raised[0].Type)
	assert.True(t, raised[0].Active)

	assert.Empty(t, m.Observe(snap(37, 90)), "still above threshold")
	assert.Equal(t, []AlertType{AlertHighTemperature}, m.Active())

	// Exactly at the threshold is in range.
	cleared := m.Observe(snap(35, 90))
	require.Len(t, cleared, 1)
	assert.False(t, cleared[0].Active)
	assert.Empty(t, m.Active())

	both := m.Observe(snap(40, 10))
	assert.Len(t, both, 2)
	assert.Len(t, sink.alerts, 4)

	require.Len(t, router.events, 4)
	ev := router.events[0]
	assert.Equal(t, processing.TopicAlert, ev.Topic)
	assert.Equal(t, wire.FrameAlert, ev.Frame.Type)
	assert.Equal(t, "dog-1", ev.Frame.RobotID)
}

func TestAlertMonitorHistoryIsBounded(t *testing.T) {
	m := NewAlertMonitor("dog-1", testAlerts, customlog.NewNopLogger())
	for i := 0; i < 3; i++ {
		m.Observe(snap(40, 90))
		m.Observe(snap(20, 90))
	}
	recent := m.Recent()
	require.Len(t, recent, 3)
	assert.False(t, recent[0].Active)
	assert.True(t, recent[1].Active)
	assert.False(t, recent[2].Active)

	m.ApplyConfig(config.AlertConfig{TemperatureHigh: 30, BatteryLow: 20, HistorySize: 2})
	recent = m.Recent()
	require.Len(t, recent, 2)
	assert.True(t, recent[0].Active)
	assert.False(t, recent[1].Active, "newest kept")

	raised := m.Observe(snap(32, 90))
	require.Len(t, raised, 1, "new threshold applies")
}

func TestAlertMonitorResetsOnDisconnect(t *testing.T) {
	m := NewAlertMonitor("dog-1", testAlerts, customlog.NewNopLogger())
	m.OnTelemetry(snap(20, 5))
	assert.Equal(t, []AlertType{AlertLowBattery}, m.Active())

	m.OnConnection(simulation.StateConnected)
	assert.NotEmpty(t, m.Active())
	m.OnConnection(simulation.StateDisconnected)
	assert.Empty(t, m.Active())

	assert.Len(t, m.Observe(snap(20, 5)), 1, "raised again in the next session")
}

type fakeEngine struct{}

func (fakeEngine) Metrics() simulation.MetricsSnapshot {
	return simulation.MetricsSnapshot{Ticks: 12, CommandsAccepted: 3, AvgTickMs: 0.5}
}
func (fakeEngine) State() simulation.ConnectionState { return simulation.StateConnected }
func (fakeEngine) SubscriberCount() int              { return 1 }

type fakePools map[string]processing.PoolMetrics

func (f fakePools) GetPoolMetrics() map[string]processing.PoolMetrics { return f }
func (f fakePools) GetQueueStats() map[string]processing.QueueStats {
	return map[string]processing.QueueStats{config.PriorityHigh: {Length: 3, Capacity: 100}}
}

func newTopicRegistry() *processing.TopicRegistry {
	r := processing.NewTopicRegistry(customlog.NewNopLogger())
	r.UpdateTopicStats(processing.TopicTelemetry, 2_000_000_000)
	r.UpdateTopicStats(processing.TopicTelemetry, 3_000_000_000)
	r.UpdateTopicStats(processing.TopicAck, 1_000_000_000)
	return r
}

type fakeDashboard struct{}

func (fakeDashboard) ClientCount() int      { return 2 }
func (fakeDashboard) DroppedFrames() uint64 { return 7 }

func newTestService(t *testing.T) (*DiagnosticService, *fiber.App) {
	t.Helper()
	alerts := NewAlertMonitor("dog-1", testAlerts, customlog.NewNopLogger())
	alerts.Observe(snap(50, 90))

	s := NewDiagnosticService("dog-1", fakeEngine{}, alerts, customlog.NewNopLogger())
	s.SetPoolSource(fakePools{config.PriorityHigh: {ProcessedCount: 4, DroppedCount: 1}})
	s.SetTopicSource(newTopicRegistry())
	s.SetDashboardSource(fakeDashboard{})

	app := fiber.New()
	s.RegisterRoutes(app)
	return s, app
}

func TestDiagnosticsJSON(t *testing.T) {
	_, app := newTestService(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/diagnostics", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Status  string        `json:"status"`
		Metrics SystemMetrics `json:"metrics"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "success", body.Status)
	assert.Equal(t, simulation.StateConnected, body.Metrics.Connection)
	assert.Equal(t, int64(12), body.Metrics.Engine.Ticks)
	assert.Equal(t, int64(4), body.Metrics.Pools[config.PriorityHigh].ProcessedCount)
	require.NotNil(t, body.Metrics.Dashboard)
	assert.Equal(t, 2, body.Metrics.Dashboard.Clients)
	assert.Equal(t, []AlertType{AlertHighTemperature}, body.Metrics.ActiveAlerts)
	assert.Len(t, body.Metrics.RecentAlerts, 1)

	assert.Equal(t, processing.QueueStats{Length: 3, Capacity: 100}, body.Metrics.Queues[config.PriorityHigh])
	require.Len(t, body.Metrics.Topics, 2)
	assert.Equal(t, processing.TopicAck, body.Metrics.Topics[0].Topic, "sorted by topic")
	assert.Equal(t, processing.TopicTelemetry, body.Metrics.Topics[1].Topic)
	assert.Equal(t, int64(2), body.Metrics.Topics[1].StatCount)
}

func TestDiagnosticsTopicRoute(t *testing.T) {
	_, app := newTestService(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/diagnostics/topics/"+processing.TopicTelemetry, nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var info processing.TopicInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, int64(2), info.StatCount)
	assert.Equal(t, int64(3_000_000_000), info.LastPublished)

	resp, err = app.Test(httptest.NewRequest("GET", "/api/diagnostics/topics/nope", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestPrometheusEndpoint(t *testing.T) {
	_, app := newTestService(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(data)

	for _, want := range []string{
		`robodog_engine_ticks_total{robot_id="dog-1"} 12`,
		`robodog_engine_commands_accepted_total{robot_id="dog-1"} 3`,
		`robodog_engine_connected{robot_id="dog-1"} 1`,
		`robodog_pipeline_processed_total{pool="HIGH"} 4`,
		`robodog_pipeline_dropped_total{pool="HIGH"} 1`,
		`robodog_pipeline_processed_total{pool="LOW"} 0`,
		`robodog_dashboard_clients 2`,
		`robodog_dashboard_dropped_frames_total 7`,
		`robodog_alerts_raised_total{type="HIGH_TEMPERATURE"} 1`,
		`robodog_pipeline_queue_length{pool="HIGH"} 3`,
		`robodog_pipeline_queue_capacity{pool="HIGH"} 100`,
		`robodog_pipeline_queue_capacity{pool="LOW"} 0`,
		`robodog_topic_published_total{topic="` + processing.TopicTelemetry + `"} 2`,
		`robodog_topic_last_published_timestamp_seconds{topic="` + processing.TopicAck + `"} 1`,
	} {
		assert.True(t, strings.Contains(text, want), "missing %q", want)
	}
}
