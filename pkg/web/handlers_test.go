package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/dukex/triggerhub/pkg/engine"
	"github.com/dukex/triggerhub/pkg/errs"
	"github.com/dukex/triggerhub/pkg/mocks"
	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence/file"
	"github.com/dukex/triggerhub/pkg/registry"
	"github.com/dukex/triggerhub/pkg/services"
	"github.com/dukex/triggerhub/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testAPI struct {
	app        *fiber.App
	executions *services.Execution
	lifecycle  *mocks.MockTriggerLifecycle
}

func setupTestApp(t *testing.T) *testAPI {
	t.Helper()

	persistence := file.NewPersistence(t.TempDir())
	reg := registry.NewRegistry(createTestLogger())

	lifecycle := &mocks.MockTriggerLifecycle{ProviderID: "slack"}
	reg.RegisterLifecycle(lifecycle)

	action := &mocks.MockActionHandler{NodeType: "core:log"}
	action.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(models.Succeeded(map[string]any{}, ""))
	reg.RegisterAction(action)

	eng := engine.New(reg, persistence.ExecutionRepository(), &mocks.MockTokenAccessor{}, createTestLogger())
	executions := services.NewExecution(persistence, eng, createTestLogger())

	handlers := web.NewAPIHandlers(
		services.NewWorkflow(persistence, reg, createTestLogger()),
		executions,
		services.NewWebhook(persistence, createTestLogger()),
		validator.New(validator.WithRequiredStructEnabled()),
		reg,
		createTestLogger(),
	)

	app := fiber.New()
	app.Use(recover.New())
	handlers.Register(app)

	return &testAPI{app: app, executions: executions, lifecycle: lifecycle}
}

func (a *testAPI) do(t *testing.T, method, path, user string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	if user != "" {
		req.Header.Set(web.UserHeader, user)
	}

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	decoded := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), string(raw))
	}

	return resp.StatusCode, decoded
}

func definition(nodes ...*models.WorkflowNode) web.WorkflowRequest {
	req := web.WorkflowRequest{
		Name: "Lead router",
		Nodes: append([]*models.WorkflowNode{
			{ID: "trigger", Type: "slack:new_message", IsTrigger: true},
			{ID: "log", Type: "core:log", Config: map[string]any{"message": "{{trigger.text}}"}},
		}, nodes...),
		Connections: []*models.Connection{{ID: "c1", Source: "trigger", Target: "log"}},
	}

	return req
}

func (a *testAPI) create(t *testing.T, user string, req web.WorkflowRequest) string {
	t.Helper()

	status, body := a.do(t, http.MethodPost, "/workflows", user, req)
	require.Equal(t, http.StatusCreated, status, body)

	return body["id"].(string)
}

func TestAPIHandlers_RequiresUser(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t)

	status, body := api.do(t, http.MethodGet, "/workflows", "", nil)

	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, body["error"], web.UserHeader)
	assert.Equal(t, float64(401), body["status"])
}

func TestAPIHandlers_RejectsMalformedGraphs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*web.WorkflowRequest)
	}{
		{
			name:   "null connection",
			mutate: func(req *web.WorkflowRequest) { req.Connections = append(req.Connections, nil) },
		},
		{
			name:   "null node",
			mutate: func(req *web.WorkflowRequest) { req.Nodes = append(req.Nodes, nil) },
		},
		{
			name: "cycle",
			mutate: func(req *web.WorkflowRequest) {
				req.Nodes = append(req.Nodes, &models.WorkflowNode{ID: "echo", Type: "core:log"})
				req.Connections = append(req.Connections,
					&models.Connection{ID: "c2", Source: "log", Target: "echo"},
					&models.Connection{ID: "c3", Source: "echo", Target: "log"},
				)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := setupTestApp(t)
			req := definition()
			tt.mutate(&req)

			status, body := api.do(t, http.MethodPost, "/workflows", "u1", req)
			assert.Equal(t, http.StatusBadRequest, status, body)

			status, _ = api.do(t, http.MethodGet, "/workflows", "u1", nil)
			assert.Equal(t, http.StatusOK, status)
		})
	}
}

func TestAPIHandlers_WorkflowCRUD(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t)
	id := api.create(t, "u1", definition())

	status, body := api.do(t, http.MethodGet, "/workflows/"+id, "u1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Lead router", body["name"])
	assert.Equal(t, "u1", body["owner"])
	assert.Equal(t, "draft", body["status"])

	status, _ = api.do(t, http.MethodGet, "/workflows/"+id, "u2", nil)
	assert.Equal(t, http.StatusNotFound, status)

	update := definition()
	update.Name = "Renamed"
	status, body = api.do(t, http.MethodPut, "/workflows/"+id, "u1", update)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Renamed", body["name"])

	status, body = api.do(t, http.MethodGet, "/workflows", "u1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 1)
	assert.Equal(t, float64(1), body["pagination"].(map[string]any)["total"])

	status, body = api.do(t, http.MethodPost, "/workflows/"+id+"/copy", "u1", nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Renamed (copy)", body["name"])

	status, body = api.do(t, http.MethodDelete, "/workflows/"+id+"/nodes/log", "u1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["nodes"], 1)

	status, _ = api.do(t, http.MethodDelete, "/workflows/"+id+"/nodes/ghost", "u1", nil)
	assert.Equal(t, http.StatusNotFound, status)

	api.lifecycle.On("OnDelete", mock.Anything, id, "trigger").Return(nil).Once()

	status, _ = api.do(t, http.MethodDelete, "/workflows/"+id, "u1", nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = api.do(t, http.MethodGet, "/workflows/"+id, "u1", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "workflow not found", body["error"])
}

func TestAPIHandlers_GetWorkflowsPaginates(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t)

	for range 3 {
		api.create(t, "u1", definition())
	}

	api.create(t, "u2", definition())

	status, body := api.do(t, http.MethodGet, "/workflows?page=2&limit=2", "u1", nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["data"], 1)
	assert.Equal(t, map[string]any{
		"page":        float64(2),
		"limit":       float64(2),
		"total":       float64(3),
		"total_pages": float64(2),
	}, body["pagination"])

	status, body = api.do(t, http.MethodGet, "/workflows", "u1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 3)
	assert.Equal(t, float64(web.DefaultPageSize), body["pagination"].(map[string]any)["limit"])

	for _, query := range []string{"page=abc", "page=0", "limit=101"} {
		status, _ = api.do(t, http.MethodGet, "/workflows?"+query, "u1", nil)
		assert.Equal(t, http.StatusBadRequest, status, query)
	}
}

func TestAPIHandlers_CreateWorkflow_BadRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body any
	}{
		{name: "missing name", body: web.WorkflowRequest{}},
		{
			name: "dangling connection",
			body: web.WorkflowRequest{
				Name:        "broken",
				Nodes:       []*models.WorkflowNode{{ID: "a", Type: "core:log"}},
				Connections: []*models.Connection{{ID: "c", Source: "a", Target: "ghost"}},
			},
		},
		{name: "not json", body: "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := setupTestApp(t)

			status, body := api.do(t, http.MethodPost, "/workflows", "u1", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAPIHandlers_ActivateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		nodes      []*models.WorkflowNode
		activation error
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name:       "activated",
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "active", body["status"])
			},
		},
		{
			name:       "integration missing",
			activation: errs.NewIntegrationMissing("u1", "slack"),
			wantStatus: http.StatusUnprocessableEntity,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "integration_missing", body["type"])
				assert.Equal(t, map[string]any{"provider": "slack"}, body["details"])
			},
		},
		{
			name:       "provider rejected",
			activation: &errs.ExternalAPIError{Provider: "slack", Status: 429, Kind: errs.KindRateLimited},
			wantStatus: http.StatusBadGateway,
			check: func(t *testing.T, body map[string]any) {
				details := body["details"].(map[string]any)
				assert.Equal(t, "rate_limited", details["kind"])
			},
		},
		{
			name:       "unknown action",
			nodes:      []*models.WorkflowNode{{ID: "x", Type: "notion:create_page"}},
			wantStatus: http.StatusUnprocessableEntity,
			check: func(t *testing.T, body map[string]any) {
				assert.Len(t, body["details"], 1)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			api := setupTestApp(t)
			id := api.create(t, "u1", definition(tt.nodes...))

			if tt.activation != nil {
				api.lifecycle.On("OnActivate", mock.Anything, mock.Anything).Return(nil, tt.activation)
			} else {
				api.lifecycle.On("OnActivate", mock.Anything, mock.Anything).Return(&models.TriggerResource{}, nil)
			}

			status, body := api.do(t, http.MethodPost, "/workflows/"+id+"/activate", "u1", nil)
			assert.Equal(t, tt.wantStatus, status, body)
			tt.check(t, body)
		})
	}
}

func TestAPIHandlers_DeactivateWorkflow(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t)
	id := api.create(t, "u1", definition())

	api.lifecycle.On("OnActivate", mock.Anything, mock.Anything).Return(&models.TriggerResource{}, nil)
	api.lifecycle.On("OnDeactivate", mock.Anything, id, "trigger").Return(nil)

	status, _ := api.do(t, http.MethodPost, "/workflows/"+id+"/activate", "u1", nil)
	require.Equal(t, http.StatusOK, status)

	status, body := api.do(t, http.MethodPut, "/workflows/"+id, "u1", definition())
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", body["type"])

	status, body = api.do(t, http.MethodPost, "/workflows/"+id+"/deactivate", "u1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paused", body["status"])
}

func TestAPIHandlers_ExecuteAndPoll(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t)
	id := api.create(t, "u1", definition())

	status, body := api.do(t, http.MethodPost, "/workflows/"+id+"/execute", "u1", web.ExecuteRequest{
		TriggerData: map[string]any{"text": "hello"},
	})
	require.Equal(t, http.StatusAccepted, status, body)

	executionID := body["execution_id"].(string)
	api.executions.Wait()

	status, body = api.do(t, http.MethodGet, "/workflows/"+id+"/executions/"+executionID, "u1", nil)
	require.Equal(t, http.StatusOK, status)

	execution := body["execution"].(map[string]any)
	progress := body["progress"].(map[string]any)
	workflow := body["workflow"].(map[string]any)

	assert.Equal(t, "success", execution["status"])
	assert.Equal(t, float64(100), progress["percentage"])
	assert.ElementsMatch(t, []any{"trigger", "log"}, progress["completed_nodes"])
	assert.Equal(t, id, workflow["id"])

	status, body = api.do(t, http.MethodGet, "/workflows/"+id+"/executions", "u1", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["executions"], 1)

	status, _ = api.do(t, http.MethodPost, "/workflows/"+id+"/executions/"+executionID+"/stop", "u1", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = api.do(t, http.MethodPost, "/workflows/"+id+"/executions/"+executionID+"/step", "u1",
		web.StepRequest{Command: "fly"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = api.do(t, http.MethodGet, "/workflows/"+id+"/executions/missing", "u1", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_ExecuteWithInput(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t)
	id := api.create(t, "u1", definition())

	status, body := api.do(t, http.MethodPost, "/workflows/"+id+"/execute", "u1", map[string]any{
		"input":        map[string]any{"text": "from input", "source": "sdk"},
		"trigger_data": map[string]any{"text": "hello"},
	})
	require.Equal(t, http.StatusAccepted, status, body)

	executionID := body["execution_id"].(string)
	api.executions.Wait()

	status, body = api.do(t, http.MethodGet, "/workflows/"+id+"/executions/"+executionID, "u1", nil)
	require.Equal(t, http.StatusOK, status)

	execution := body["execution"].(map[string]any)
	assert.Equal(t, map[string]any{"text": "hello", "source": "sdk"}, execution["trigger_data"])
}

func TestAPIHandlers_ExecuteUnknownTrigger(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t)
	id := api.create(t, "u1", definition())

	status, _ := api.do(t, http.MethodPost, "/workflows/"+id+"/execute", "u1", web.ExecuteRequest{TriggerNodeID: "log"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = api.do(t, http.MethodPost, "/workflows/"+id+"/execute", "u1", web.ExecuteRequest{TriggerNodeID: "ghost"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPIHandlers_Catalog(t *testing.T) {
	t.Parallel()

	api := setupTestApp(t)

	status, body := api.do(t, http.MethodGet, "/actions", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, []any{"core:log"}, body["actions"])

	status, body = api.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}
