// Package events defines the messages exchanged over the event bus.
package events

import (
	"fmt"
	"time"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/google/uuid"
)

type EventType string

const Topic = "triggerhub.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Inbound trigger hand-off from the webhook router and the poller.
	TriggerReceivedEvent EventType = "trigger.received"

	// Execution lifecycle.
	ExecutionStartedEvent  EventType = "execution.started"
	NodeCompletedEvent     EventType = "execution.node.completed"
	ExecutionFinishedEvent EventType = "execution.finished"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

type TriggerReceived struct {
	BaseEvent

	Trigger protocol.TriggerEvent `json:"trigger"`
}

func (TriggerReceived) GetType() EventType {
	return TriggerReceivedEvent
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID   string `json:"execution_id"`
	TriggerNodeID string `json:"trigger_node_id"`
	TestMode      bool   `json:"test_mode"`
}

func (ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type NodeCompleted struct {
	BaseEvent

	ExecutionID string            `json:"execution_id"`
	NodeID      string            `json:"node_id"`
	NodeType    string            `json:"node_type"`
	Status      models.NodeStatus `json:"status"`
	Message     string            `json:"message,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
}

func (NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type ExecutionFinished struct {
	BaseEvent

	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
	Error       string                 `json:"error,omitempty"`
	DurationMs  int64                  `json:"duration_ms"`
}

func (ExecutionFinished) GetType() EventType {
	return ExecutionFinishedEvent
}

// New returns an empty event of the given type to decode a payload into.
func New(eventType EventType) (any, error) {
	switch eventType {
	case TriggerReceivedEvent:
		return &TriggerReceived{}, nil
	case ExecutionStartedEvent:
		return &ExecutionStarted{}, nil
	case NodeCompletedEvent:
		return &NodeCompleted{}, nil
	case ExecutionFinishedEvent:
		return &ExecutionFinished{}, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
}
