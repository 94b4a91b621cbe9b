package events

import (
	"encoding/json"
	"testing"

	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DecodesEveryType(t *testing.T) {
	t.Parallel()

	original := TriggerReceived{
		BaseEvent: NewBaseEvent(TriggerReceivedEvent, "wf1"),
		Trigger: protocol.TriggerEvent{
			WorkflowID: "wf1", NodeID: "n1", Provider: "webhook",
			Data: map[string]any{"body": "x"},
		},
	}

	raw, err := json.Marshal(original)
	require.NoError(t, err)

	event, err := New(original.GetType())
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, event))

	decoded := event.(*TriggerReceived)
	assert.Equal(t, "wf1", decoded.WorkflowID)
	assert.Equal(t, "n1", decoded.Trigger.NodeID)
	assert.NotEmpty(t, decoded.ID)

	for _, eventType := range []EventType{ExecutionStartedEvent, NodeCompletedEvent, ExecutionFinishedEvent} {
		_, err := New(eventType)
		assert.NoError(t, err, eventType)
	}

	_, err = New("nope")
	assert.Error(t, err)
}
