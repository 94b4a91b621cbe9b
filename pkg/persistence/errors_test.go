package persistence

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError(t *testing.T) {
	t.Parallel()

	err := NewNotFoundError("GetByID", "wf-1", ErrWorkflowNotFound)

	assert.Equal(t, "GetByID wf-1: workflow not found", err.Error())
	assert.True(t, IsWorkflowNotFound(err))
	assert.True(t, IsWorkflowNotFound(fmt.Errorf("load: %w", err)))
	assert.True(t, IsNotFound(err))
	assert.False(t, IsExecutionNotFound(err))
	assert.False(t, IsNotFound(errors.New("connection refused")))
}
