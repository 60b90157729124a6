package models

import (
	"encoding/json"
	"time"
)

// Event topics published on the bus.
const (
	TopicAnomalyDetected   = "anomaly.detected"
	TopicMetricUpdated     = "metric.updated"
	TopicTrainingStarted   = "training.started"
	TopicTrainingProgress  = "training.progress"
	TopicTrainingCompleted = "training.completed"
	TopicTrainingFailed    = "training.failed"
	TopicSystemAlert       = "system.alert"
)

// Channel groups subscribers may join. Each topic fans out to a fixed group.
const (
	GroupDashboard = "dashboard"
	GroupAnomalies = "anomalies"
	GroupTraining  = "training"
	GroupEvents    = "events"
)

// TopicGroup maps a topic to the channel group it is delivered on.
func TopicGroup(topic string) string {
	switch topic {
	case TopicAnomalyDetected:
		return GroupAnomalies
	case TopicTrainingStarted, TopicTrainingProgress, TopicTrainingCompleted, TopicTrainingFailed:
		return GroupTraining
	case TopicMetricUpdated:
		return GroupDashboard
	default:
		return GroupEvents
	}
}

// ValidGroup reports whether name is one of the fixed channel groups.
func ValidGroup(name string) bool {
	switch name {
	case GroupDashboard, GroupAnomalies, GroupTraining, GroupEvents:
		return true
	}
	return false
}

// Event is the JSON envelope pushed to live subscribers.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent marshals data into an event envelope. Marshal failures fall back
// to a null payload so a bad payload can never block a publish.
func NewEvent(topic string, data any) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = json.RawMessage("null")
	}
	return Event{
		Type:      topic,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}
}
