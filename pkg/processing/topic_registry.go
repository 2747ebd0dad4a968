package processing

import (
	"sort"
	"sync"

	"github.com/robodog/simcontroller/pkg/config"
	customlog "github.com/robodog/simcontroller/pkg/log"
)

// TopicInfo holds metadata for a topic
type TopicInfo struct {
	Topic         string `json:"topic"`
	Priority      string `json:"priority"`
	Direction     string `json:"direction"`
	Encoding      string `json:"encoding"`
	MQTTTopic     string `json:"mqtt_topic,omitempty"`
	StatCount     int64  `json:"count"`
	LastPublished int64  `json:"last_published"`
}

// TopicRegistry maintains information about topics
type TopicRegistry struct {
	logger customlog.Logger
	topics map[string]*TopicInfo
	mu     sync.RWMutex
}

// NewTopicRegistry creates a new topic registry
func NewTopicRegistry(logger customlog.Logger) *TopicRegistry {
	return &TopicRegistry{
		logger: logger,
		topics: make(map[string]*TopicInfo),
	}
}

// LoadFromConfig replaces the registered topics with the config's mappings.
// Counters of topics that survive the reload are kept.
func (r *TopicRegistry) LoadFromConfig(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.topics
	r.topics = make(map[string]*TopicInfo, len(cfg.TopicMappings))

	for _, m := range cfg.TopicMappings {
		mapping, _ := cfg.GetTopicMapping(m.Topic)
		info := &TopicInfo{
			Topic:     mapping.Topic,
			Priority:  orDefault(mapping.Priority, config.PriorityStandard),
			Direction: mapping.Direction,
			Encoding:  orDefault(mapping.Encoding, config.EncodingJSON),
			MQTTTopic: mapping.MQTTTopic,
		}
		if old, ok := previous[mapping.Topic]; ok {
			info.StatCount = old.StatCount
			info.LastPublished = old.LastPublished
		}
		r.topics[mapping.Topic] = info
	}

	r.logger.Infof("Loaded %d topics into registry", len(r.topics))
}

func orDefault(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

// GetTopicPriority gets the priority for a topic
func (r *TopicRegistry) GetTopicPriority(topic string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.topics[topic]
	if !exists {
		return "", false
	}
	return info.Priority, true
}

// GetTopicEncoding gets the payload encoding for a topic, JSON when unknown
func (r *TopicRegistry) GetTopicEncoding(topic string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if info, exists := r.topics[topic]; exists {
		return info.Encoding
	}
	return config.EncodingJSON
}

// GetTopicInfo gets information for a topic
func (r *TopicRegistry) GetTopicInfo(topic string) (TopicInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.topics[topic]
	if !exists {
		return TopicInfo{}, false
	}
	return *info, true
}

// UpdateTopicStats updates statistics for a topic
func (r *TopicRegistry) UpdateTopicStats(topic string, timestamp int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, exists := r.topics[topic]
	if !exists {
		info = &TopicInfo{
			Topic:    topic,
			Priority: config.PriorityStandard,
			Encoding: config.EncodingJSON,
		}
		r.topics[topic] = info
	}

	info.StatCount++
	info.LastPublished = timestamp
}

// GetAllTopics returns all registered topics in sorted order
func (r *TopicRegistry) GetAllTopics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// GetTopicStats returns a snapshot of every topic
func (r *TopicRegistry) GetTopicStats() map[string]TopicInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]TopicInfo, len(r.topics))
	for topic, info := range r.topics {
		stats[topic] = *info
	}
	return stats
}
