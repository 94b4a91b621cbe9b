package eventbus

import (
	"context"
	"time"

	"github.com/dukex/triggerhub/pkg/events"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/protocol"
)

// Dispatcher publishes matched trigger events for the workers.
type Dispatcher struct {
	publisher EventPublisher
}

func NewDispatcher(publisher EventPublisher) *Dispatcher {
	return &Dispatcher{publisher: publisher}
}

func (d *Dispatcher) Dispatch(ctx context.Context, trigger protocol.TriggerEvent) error {
	return d.publisher.Publish(ctx, trigger.WorkflowID, events.TriggerReceived{
		BaseEvent: events.NewBaseEvent(events.TriggerReceivedEvent, trigger.WorkflowID),
		Trigger:   trigger,
	})
}

// Notifier publishes execution lifecycle events. Publish failures are not
// fatal to the execution and are dropped.
type Notifier struct {
	publisher EventPublisher
}

func NewNotifier(publisher EventPublisher) *Notifier {
	return &Notifier{publisher: publisher}
}

func (n *Notifier) ExecutionStarted(ctx context.Context, execution *models.Execution) {
	_ = n.publisher.Publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:     events.NewBaseEvent(events.ExecutionStartedEvent, execution.WorkflowID),
		ExecutionID:   execution.ID,
		TriggerNodeID: execution.TriggerNodeID,
		TestMode:      execution.TestMode,
	})
}

func (n *Notifier) NodeCompleted(ctx context.Context, execution *models.Execution, node *models.WorkflowNode, result *models.NodeResult) {
	_ = n.publisher.Publish(ctx, execution.ID, events.NodeCompleted{
		BaseEvent:   events.NewBaseEvent(events.NodeCompletedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		NodeID:      result.NodeID,
		NodeType:    node.Type,
		Status:      result.Status,
		Message:     result.Message,
		DurationMs:  result.DurationMs,
	})
}

func (n *Notifier) ExecutionFinished(ctx context.Context, execution *models.Execution) {
	var duration time.Duration
	if execution.CompletedAt != nil {
		duration = execution.CompletedAt.Sub(execution.StartedAt)
	}

	_ = n.publisher.Publish(ctx, execution.ID, events.ExecutionFinished{
		BaseEvent:   events.NewBaseEvent(events.ExecutionFinishedEvent, execution.WorkflowID),
		ExecutionID: execution.ID,
		Status:      execution.Status,
		Error:       execution.Error,
		DurationMs:  duration.Milliseconds(),
	})
}
