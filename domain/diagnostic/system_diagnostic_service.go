package diagnostic

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robodog/simcontroller/domain/simulation"
	"github.com/robodog/simcontroller/pkg/config"
	customlog "github.com/robodog/simcontroller/pkg/log"
	"github.com/robodog/simcontroller/pkg/processing"
)

// EngineSource is the engine state read by diagnostics.
type EngineSource interface {
	Metrics() simulation.MetricsSnapshot
	State() simulation.ConnectionState
	SubscriberCount() int
}

// PoolSource reports outbound pipeline pool metrics by pool name.
type PoolSource interface {
	GetPoolMetrics() map[string]processing.PoolMetrics
	GetQueueStats() map[string]processing.QueueStats
}

// TopicSource reports per-topic publish statistics.
type TopicSource interface {
	GetAllTopics() []string
	GetTopicInfo(topic string) (processing.TopicInfo, bool)
	GetTopicStats() map[string]processing.TopicInfo
}

// DashboardSource reports websocket fan-out statistics.
type DashboardSource interface {
	ClientCount() int
	DroppedFrames() uint64
}

// DashboardMetrics is the websocket part of SystemMetrics.
type DashboardMetrics struct {
	Clients       int    `json:"clients"`
	DroppedFrames uint64 `json:"dropped_frames"`
}

// SystemMetrics represents the controller diagnostics snapshot.
type SystemMetrics struct {
	Timestamp    time.Time                          `json:"timestamp"`
	RobotID      string                             `json:"robot_id"`
	Connection   simulation.ConnectionState         `json:"connection"`
	Subscribers  int                                `json:"subscribers"`
	Engine       simulation.MetricsSnapshot         `json:"engine"`
	Pools        map[string]processing.PoolMetrics `json:"pools,omitempty"`
	Queues       map[string]processing.QueueStats  `json:"queues,omitempty"`
	Topics       []processing.TopicInfo            `json:"topics,omitempty"`
	Dashboard    *DashboardMetrics                  `json:"dashboard,omitempty"`
	Thresholds   Thresholds                         `json:"thresholds"`
	ActiveAlerts []AlertType                        `json:"active_alerts"`
	RecentAlerts []Alert                            `json:"recent_alerts"`
}

// DiagnosticService serves controller diagnostics as JSON and Prometheus metrics.
type DiagnosticService struct {
	robotID string
	engine  EngineSource
	alerts  *AlertMonitor
	logger  customlog.Logger

	mu        sync.RWMutex
	pools     PoolSource
	topics    TopicSource
	dashboard DashboardSource

	registry *prometheus.Registry
}

// NewDiagnosticService creates a new diagnostic service instance
func NewDiagnosticService(robotID string, engine EngineSource, alerts *AlertMonitor, logger customlog.Logger) *DiagnosticService {
	s := &DiagnosticService{
		robotID:  robotID,
		engine:   engine,
		alerts:   alerts,
		logger:   logger.WithField("component", "diagnostics"),
		registry: prometheus.NewRegistry(),
	}
	s.registerCollectors()
	return s
}

// SetPoolSource sets the pipeline whose pools are reported.
func (s *DiagnosticService) SetPoolSource(p PoolSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools = p
}

// SetTopicSource sets the registry whose topics are reported.
func (s *DiagnosticService) SetTopicSource(t TopicSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = t
}

// SetDashboardSource sets the websocket hub whose clients are reported.
func (s *DiagnosticService) SetDashboardSource(d DashboardSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dashboard = d
}

// Registry returns the Prometheus registry holding the controller metrics.
func (s *DiagnosticService) Registry() *prometheus.Registry {
	return s.registry
}

func (s *DiagnosticService) engineCounter(name, help string, value func(simulation.MetricsSnapshot) int64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   "robodog",
		Subsystem:   "engine",
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"robot_id": s.robotID},
	}, func() float64 { return float64(value(s.engine.Metrics())) })
}

func (s *DiagnosticService) poolCounter(pool, name, help string, value func(processing.PoolMetrics) int64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   "robodog",
		Subsystem:   "pipeline",
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"pool": pool},
	}, func() float64 {
		m, ok := s.poolMetrics()[pool]
		if !ok {
			return 0
		}
		return float64(value(m))
	})
}

func (s *DiagnosticService) queueGauge(pool, name, help string, value func(processing.QueueStats) int) prometheus.Collector {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   "robodog",
		Subsystem:   "pipeline",
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"pool": pool},
	}, func() float64 {
		q, ok := s.queueStats()[pool]
		if !ok {
			return 0
		}
		return float64(value(q))
	})
}

var (
	topicPublishedDesc = prometheus.NewDesc("robodog_topic_published_total",
		"Events published per topic.", []string{"topic"}, nil)
	topicLastPublishedDesc = prometheus.NewDesc("robodog_topic_last_published_timestamp_seconds",
		"Unix time of the last publish per topic.", []string{"topic"}, nil)
)

// topicCollector exports the topic registry counters. The topic set
// follows config reloads, so metrics are built on each scrape.
type topicCollector struct {
	service *DiagnosticService
}

func (c *topicCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- topicPublishedDesc
	ch <- topicLastPublishedDesc
}

func (c *topicCollector) Collect(ch chan<- prometheus.Metric) {
	for _, info := range c.service.topicStats() {
		ch <- prometheus.MustNewConstMetric(topicPublishedDesc, prometheus.CounterValue,
			float64(info.StatCount), info.Topic)
		if info.LastPublished > 0 {
			ch <- prometheus.MustNewConstMetric(topicLastPublishedDesc, prometheus.GaugeValue,
				float64(info.LastPublished)/1e9, info.Topic)
		}
	}
}

func (s *DiagnosticService) registerCollectors() {
	robot := prometheus.Labels{"robot_id": s.robotID}

	cs := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

		s.engineCounter("ticks_total", "Simulation ticks executed.",
			func(m simulation.MetricsSnapshot) int64 { return m.Ticks }),
		s.engineCounter("commands_accepted_total", "Commands applied to the control state.",
			func(m simulation.MetricsSnapshot) int64 { return m.CommandsAccepted }),
		s.engineCounter("commands_rejected_total", "Commands dropped while not connected.",
			func(m simulation.MetricsSnapshot) int64 { return m.CommandsRejected }),
		s.engineCounter("commands_invalid_total", "Commands that failed validation.",
			func(m simulation.MetricsSnapshot) int64 { return m.CommandsInvalid }),
		s.engineCounter("acks_delivered_total", "Acknowledgements delivered.",
			func(m simulation.MetricsSnapshot) int64 { return m.AcksDelivered }),
		s.engineCounter("connects_total", "Connection handshakes started.",
			func(m simulation.MetricsSnapshot) int64 { return m.Connects }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "robodog", Subsystem: "engine", Name: "tick_duration_avg_ms",
			Help: "Average tick processing time.", ConstLabels: robot,
		}, func() float64 { return s.engine.Metrics().AvgTickMs }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "robodog", Subsystem: "engine", Name: "connected",
			Help: "1 while the session is connected.", ConstLabels: robot,
		}, func() float64 {
			if s.engine.State() == simulation.StateConnected {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "robodog", Subsystem: "engine", Name: "subscribers",
			Help: "Registered engine subscribers.", ConstLabels: robot,
		}, func() float64 { return float64(s.engine.SubscriberCount()) }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "robodog", Subsystem: "dashboard", Name: "clients",
			Help: "Connected dashboard websockets.",
		}, func() float64 {
			if d := s.dashboardSource(); d != nil {
				return float64(d.ClientCount())
			}
			return 0
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "robodog", Subsystem: "dashboard", Name: "dropped_frames_total",
			Help: "Frames dropped for slow dashboard clients.",
		}, func() float64 {
			if d := s.dashboardSource(); d != nil {
				return float64(d.DroppedFrames())
			}
			return 0
		}),
	}

	for _, pool := range []string{config.PriorityHigh, config.PriorityStandard, config.PriorityLow} {
		cs = append(cs,
			s.poolCounter(pool, "processed_total", "Events encoded and published.",
				func(m processing.PoolMetrics) int64 { return m.ProcessedCount }),
			s.poolCounter(pool, "errors_total", "Events that failed to encode.",
				func(m processing.PoolMetrics) int64 { return m.ErrorCount }),
			s.poolCounter(pool, "dropped_total", "Events dropped on a full queue.",
				func(m processing.PoolMetrics) int64 { return m.DroppedCount }),
			s.queueGauge(pool, "queue_length", "Events waiting in the pool queue.",
				func(q processing.QueueStats) int { return q.Length }),
			s.queueGauge(pool, "queue_capacity", "Size of the pool queue.",
				func(q processing.QueueStats) int { return q.Capacity }),
		)
	}

	cs = append(cs, &topicCollector{service: s})
	if s.alerts != nil {
		cs = append(cs, s.alerts.Collector())
	}
	s.registry.MustRegister(cs...)
}

func (s *DiagnosticService) poolMetrics() map[string]processing.PoolMetrics {
	s.mu.RLock()
	p := s.pools
	s.mu.RUnlock()
	if p == nil {
		return nil
	}
	return p.GetPoolMetrics()
}

func (s *DiagnosticService) queueStats() map[string]processing.QueueStats {
	s.mu.RLock()
	p := s.pools
	s.mu.RUnlock()
	if p == nil {
		return nil
	}
	return p.GetQueueStats()
}

func (s *DiagnosticService) topicSource() TopicSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topics
}

// topicStats returns the registry statistics in topic order.
func (s *DiagnosticService) topicStats() []processing.TopicInfo {
	t := s.topicSource()
	if t == nil {
		return nil
	}
	stats := t.GetTopicStats()
	out := make([]processing.TopicInfo, 0, len(stats))
	for _, topic := range t.GetAllTopics() {
		if info, ok := stats[topic]; ok {
			out = append(out, info)
		}
	}
	return out
}

func (s *DiagnosticService) dashboardSource() DashboardSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dashboard
}

// GetMetrics returns the current diagnostics snapshot.
func (s *DiagnosticService) GetMetrics() SystemMetrics {
	m := SystemMetrics{
		Timestamp:    time.Now(),
		RobotID:      s.robotID,
		Connection:   s.engine.State(),
		Subscribers:  s.engine.SubscriberCount(),
		Engine:       s.engine.Metrics(),
		Pools:        s.poolMetrics(),
		Queues:       s.queueStats(),
		Topics:       s.topicStats(),
		ActiveAlerts: []AlertType{},
		RecentAlerts: []Alert{},
	}
	if d := s.dashboardSource(); d != nil {
		m.Dashboard = &DashboardMetrics{Clients: d.ClientCount(), DroppedFrames: d.DroppedFrames()}
	}
	if s.alerts != nil {
		m.Thresholds = s.alerts.Thresholds()
		if active := s.alerts.Active(); active != nil {
			m.ActiveAlerts = active
		}
		if recent := s.alerts.Recent(); recent != nil {
			m.RecentAlerts = recent
		}
	}
	return m
}

// GetMetricsHandler handles API requests for system metrics
func (s *DiagnosticService) GetMetricsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"metrics": s.GetMetrics(),
	})
}

// GetTopicHandler returns the statistics of a single outbound topic.
func (s *DiagnosticService) GetTopicHandler(c *fiber.Ctx) error {
	t := s.topicSource()
	if t == nil {
		return fiber.ErrNotFound
	}
	info, ok := t.GetTopicInfo(c.Params("topic"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "unknown topic "+c.Params("topic"))
	}
	return c.JSON(info)
}

// PrometheusHandler serves the registry in the Prometheus text format.
func (s *DiagnosticService) PrometheusHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

// RegisterRoutes mounts /api/diagnostics and /metrics.
func (s *DiagnosticService) RegisterRoutes(app fiber.Router) {
	app.Get("/api/diagnostics", s.GetMetricsHandler)
	app.Get("/api/diagnostics/topics/:topic", s.GetTopicHandler)
	app.Get("/metrics", s.PrometheusHandler())
	s.logger.Infof("Registered diagnostics endpoints /api/diagnostics and /metrics")
}
