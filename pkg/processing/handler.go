package processing

import (
	"errors"
	"fmt"
	"sync"

	customlog "github.com/robodog/simcontroller/pkg/log"
)

// MessagePublisher defines the interface for publishing messages
type MessagePublisher interface {
	PublishMessage(topic string, data []byte) error
}

// MultiPublisher fans a message out to every registered publisher.
type MultiPublisher struct {
	mu         sync.RWMutex
	publishers map[string]MessagePublisher
}

// NewMultiPublisher creates an empty MultiPublisher.
func NewMultiPublisher() *MultiPublisher {
	return &MultiPublisher{publishers: make(map[string]MessagePublisher)}
}

// Add registers a publisher under name, replacing any previous one.
func (m *MultiPublisher) Add(name string, p MessagePublisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishers[name] = p
}

// Remove drops the publisher registered under name.
func (m *MultiPublisher) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.publishers, name)
}

// Len returns the number of registered publishers.
func (m *MultiPublisher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishers)
}

// PublishMessage publishes to every publisher and joins their errors.
func (m *MultiPublisher) PublishMessage(topic string, data []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for name, p := range m.publishers {
		if err := p.PublishMessage(topic, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// LoggingResultHandler logs processing results and publishes them
type LoggingResultHandler struct {
	logger    customlog.Logger
	publisher MessagePublisher
}

// NewLoggingResultHandler creates a new logging result handler
func NewLoggingResultHandler(logger customlog.Logger, publisher MessagePublisher) *LoggingResultHandler {
	return &LoggingResultHandler{
		logger:    logger,
		publisher: publisher,
	}
}

// HandleResult handles a processed event result
func (h *LoggingResultHandler) HandleResult(result *ProcessResult) {
	if result.Error != nil {
		h.logger.Errorf("Error processing event for topic '%s': %v", result.Topic, result.Error)
		return
	}

	h.logger.Debugf("Processed event for topic '%s' (timestamp: %d, encoding: %s, %d bytes)",
		result.Topic, result.Timestamp, result.Encoding, len(result.Payload))

	if len(result.Payload) == 0 || h.publisher == nil {
		return
	}

	if err := h.publisher.PublishMessage(result.Topic, result.Payload); err != nil {
		h.logger.Errorf("Failed to publish message for topic '%s': %v", result.Topic, err)
	}
}

// CreateHandlerFunc creates a ResultHandler function for the ProcessingPool
func (h *LoggingResultHandler) CreateHandlerFunc() ResultHandler {
	return func(processResult *ProcessResult) {
		if processResult == nil {
			h.logger.Errorf("Received nil ProcessResult")
			return
		}
		h.HandleResult(processResult)
	}
}
