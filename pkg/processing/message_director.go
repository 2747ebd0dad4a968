package processing

import (
	"errors"
	"fmt"
	"sync"

	"github.com/robodog/simcontroller/pkg/config"
	customlog "github.com/robodog/simcontroller/pkg/log"
)

// ErrDirectorStopped is returned when routing through a stopped director.
var ErrDirectorStopped = errors.New("message director is not running")

// ErrQueueFull is returned when the target pool dropped the event.
var ErrQueueFull = errors.New("processing queue is full")

// MessageDirector routes events to the appropriate processing pool based on priority
type MessageDirector struct {
	logger           customlog.Logger
	highPriorityPool *ProcessingPool
	standardPool     *ProcessingPool
	lowPriorityPool  *ProcessingPool
	topicRegistry    *TopicRegistry
	processor        MessageProcessor
	resultHandler    ResultHandler
	running          bool
	mu               sync.RWMutex

	defaultQueueSize int
}

// DirectorOptions holds configuration options for the MessageDirector
type DirectorOptions struct {
	DefaultQueueSize int
}

// NewMessageDirector creates a new message director
func NewMessageDirector(
	logger customlog.Logger,
	topicRegistry *TopicRegistry,
	options *DirectorOptions,
) *MessageDirector {
	if options == nil || options.DefaultQueueSize <= 0 {
		options = &DirectorOptions{
			DefaultQueueSize: 100,
		}
	}

	return &MessageDirector{
		logger:           logger,
		topicRegistry:    topicRegistry,
		defaultQueueSize: options.DefaultQueueSize,
	}
}

// Initialize creates the processing pools based on the provided worker counts
func (d *MessageDirector) Initialize(highWorkers, standardWorkers, lowWorkers int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.highPriorityPool = NewProcessingPool(config.PriorityHigh, highWorkers, d.defaultQueueSize, d.logger)
	d.standardPool = NewProcessingPool(config.PriorityStandard, standardWorkers, d.defaultQueueSize, d.logger)
	d.lowPriorityPool = NewProcessingPool(config.PriorityLow, lowWorkers, d.defaultQueueSize, d.logger)

	for _, pool := range d.poolsLocked() {
		if d.processor != nil {
			pool.SetProcessor(d.processor)
		}
		if d.resultHandler != nil {
			pool.SetResultHandler(d.resultHandler)
		}
	}

	d.logger.Infof("Message Director initialized with pools: HIGH(%d), STANDARD(%d), LOW(%d)",
		highWorkers, standardWorkers, lowWorkers)
}

func (d *MessageDirector) poolsLocked() []*ProcessingPool {
	pools := make([]*ProcessingPool, 0, 3)
	for _, pool := range []*ProcessingPool{d.highPriorityPool, d.standardPool, d.lowPriorityPool} {
		if pool != nil {
			pools = append(pools, pool)
		}
	}
	return pools
}

// SetProcessor sets the message processor function for all pools
func (d *MessageDirector) SetProcessor(processor MessageProcessor) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.processor = processor
	for _, pool := range d.poolsLocked() {
		pool.SetProcessor(processor)
	}
}

// SetResultHandler sets the result handler function for all pools
func (d *MessageDirector) SetResultHandler(handler ResultHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.resultHandler = handler
	for _, pool := range d.poolsLocked() {
		pool.SetResultHandler(handler)
	}
}

// RouteEvent routes an event to the appropriate processing pool based on its topic priority
func (d *MessageDirector) RouteEvent(ev *Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.running {
		return ErrDirectorStopped
	}

	priority, exists := d.topicRegistry.GetTopicPriority(ev.Topic)
	if !exists {
		d.logger.Debugf("No priority found for topic '%s', using STANDARD", ev.Topic)
		priority = config.PriorityStandard
	}
	d.topicRegistry.UpdateTopicStats(ev.Topic, ev.Timestamp)

	var successful bool
	switch priority {
	case config.PriorityHigh:
		successful = d.highPriorityPool.ProcessEvent(ev)
	case config.PriorityLow:
		successful = d.lowPriorityPool.ProcessEvent(ev)
	default:
		successful = d.standardPool.ProcessEvent(ev)
	}

	if !successful {
		return fmt.Errorf("%w: topic '%s' (priority: %s)", ErrQueueFull, ev.Topic, priority)
	}
	return nil
}

// Start starts all processing pools
func (d *MessageDirector) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	if d.highPriorityPool == nil {
		d.logger.Errorf("Message Director started before Initialize")
		return
	}

	d.running = true
	d.logger.Infof("Starting Message Director")

	for _, pool := range d.poolsLocked() {
		pool.Start()
	}
}

// Stop drains and stops all processing pools
func (d *MessageDirector) Stop() {
	d.mu.Lock()
	running := d.running
	d.running = false
	pools := d.poolsLocked()
	d.mu.Unlock()

	if !running {
		return
	}

	d.logger.Infof("Stopping Message Director")
	for _, pool := range pools {
		pool.Stop()
	}
	d.logger.Infof("Message Director stopped")
}

// GetPoolMetrics returns metrics for all pools
func (d *MessageDirector) GetPoolMetrics() map[string]PoolMetrics {
	d.mu.RLock()
	defer d.mu.RUnlock()

	metrics := make(map[string]PoolMetrics, 3)
	for _, pool := range d.poolsLocked() {
		metrics[pool.GetName()] = pool.GetMetrics()
	}
	return metrics
}

// QueueStats is the current depth of one pool's event queue.
type QueueStats struct {
	Length   int `json:"length"`
	Capacity int `json:"capacity"`
}

// GetQueueStats returns queue depth and capacity for all pools
func (d *MessageDirector) GetQueueStats() map[string]QueueStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := make(map[string]QueueStats, 3)
	for _, pool := range d.poolsLocked() {
		stats[pool.GetName()] = QueueStats{
			Length:   pool.GetQueueLength(),
			Capacity: pool.GetQueueCapacity(),
		}
	}
	return stats
}
