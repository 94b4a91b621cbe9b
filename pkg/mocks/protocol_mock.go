package mocks

import (
	"context"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/stretchr/testify/mock"
	"golang.org/x/oauth2"
)

// MockActionHandler is a mock implementation of protocol.ActionHandler.
type MockActionHandler struct {
	mock.Mock

	NodeType  string
	Effecting bool
}

func (m *MockActionHandler) Type() string {
	return m.NodeType
}

func (m *MockActionHandler) SideEffecting() bool {
	return m.Effecting
}

func (m *MockActionHandler) Execute(ctx context.Context, config map[string]any, actx protocol.ActionContext) models.ActionResult {
	args := m.Called(ctx, config, actx)

	return args.Get(0).(models.ActionResult)
}

// MockTriggerLifecycle is a mock implementation of protocol.TriggerLifecycle.
type MockTriggerLifecycle struct {
	mock.Mock

	ProviderID string
}

func (m *MockTriggerLifecycle) Provider() string {
	return m.ProviderID
}

func (m *MockTriggerLifecycle) OnActivate(ctx context.Context, req protocol.ActivateRequest) (*models.TriggerResource, error) {
	args := m.Called(ctx, req)

	resource, _ := args.Get(0).(*models.TriggerResource)

	return resource, args.Error(1)
}

func (m *MockTriggerLifecycle) OnDeactivate(ctx context.Context, workflowID, nodeID string) error {
	args := m.Called(ctx, workflowID, nodeID)

	return args.Error(0)
}

func (m *MockTriggerLifecycle) OnDelete(ctx context.Context, workflowID, nodeID string) error {
	args := m.Called(ctx, workflowID, nodeID)

	return args.Error(0)
}

func (m *MockTriggerLifecycle) CheckHealth(ctx context.Context, workflowID, userID string) protocol.HealthStatus {
	args := m.Called(ctx, workflowID, userID)

	return args.Get(0).(protocol.HealthStatus)
}

// MockDispatcher is a mock implementation of protocol.Dispatcher.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, event protocol.TriggerEvent) error {
	args := m.Called(ctx, event)

	return args.Error(0)
}

// MockTokenAccessor is a mock implementation of protocol.TokenAccessor.
type MockTokenAccessor struct {
	mock.Mock
}

func (m *MockTokenAccessor) Token(ctx context.Context, userID, provider string) (*oauth2.Token, error) {
	args := m.Called(ctx, userID, provider)

	token, _ := args.Get(0).(*oauth2.Token)

	return token, args.Error(1)
}
