package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
	"github.com/dukex/triggerhub/pkg/registry"
	"github.com/dukex/triggerhub/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	workflowService  *services.Workflow
	executionService *services.Execution
	webhookService   *services.Webhook
	validator        *validator.Validate
	registry         *registry.Registry
	logger           *slog.Logger
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	executionService *services.Execution,
	webhookService *services.Webhook,
	validator *validator.Validate,
	registry *registry.Registry,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		workflowService:  workflowService,
		executionService: executionService,
		webhookService:   webhookService,
		validator:        validator,
		registry:         registry,
		logger:           logger.With("module", "web"),
	}
}

// Register mounts the API routes.
func (h *APIHandlers) Register(app fiber.Router) {
	app.Get("/health", h.HealthCheck)
	app.Get("/integrations", h.GetIntegrations)
	app.Get("/actions", h.GetActions)

	w := app.Group("/workflows", h.requireUser)
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Put("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/copy", h.CopyWorkflow)
	w.Post("/:id/activate", h.ActivateWorkflow)
	w.Post("/:id/deactivate", h.DeactivateWorkflow)
	w.Delete("/:id/nodes/:nodeId", h.DeleteWorkflowNode)

	w.Post("/:id/execute", h.ExecuteWorkflow)
	w.Get("/:id/executions", h.GetExecutions)
	w.Get("/:id/executions/:executionId", h.GetExecution)
	w.Post("/:id/executions/:executionId/stop", h.StopExecution)
	w.Post("/:id/executions/:executionId/step", h.StepExecution)

	hooks := app.Group("/webhook-subscriptions", h.requireUser)
	hooks.Get("/", h.GetWebhooks)
	hooks.Post("/", h.CreateWebhook)
	hooks.Get("/:id", h.GetWebhook)
	hooks.Put("/:id", h.UpdateWebhook)
	hooks.Delete("/:id", h.DeleteWebhook)
}

// pageQuery reads the page and limit query parameters.
func pageQuery(c fiber.Ctx) (persistence.Page, error) {
	page := persistence.Page{Number: 1, Limit: DefaultPageSize}

	for key, target := range map[string]*int{"page": &page.Number, "limit": &page.Limit} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}

		n, err := strconv.Atoi(raw)
		if err != nil {
			return page, fmt.Errorf("%s must be an integer", key)
		}

		*target = n
	}

	return page, nil
}

func (h *APIHandlers) requireUser(c fiber.Ctx) error {
	if c.Get(UserHeader) == "" {
		return unauthorized(c)
	}

	return c.Next()
}

// owned loads the workflow in the path. Workflows of other users are
// reported as missing.
func (h *APIHandlers) owned(c fiber.Ctx) (*models.Workflow, error) {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return nil, err
	}

	if workflow.Owner != c.Get(UserHeader) {
		return nil, services.ErrWorkflowNotFound
	}

	return workflow, nil
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	registryCheck, regOk := "Registry is complete", true
	if err := h.registry.HealthCheck(); err != nil {
		registryCheck, regOk = err.Error(), false
	}

	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "triggerhub API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "triggerhub API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"registry":   registryCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) GetIntegrations(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"integrations": h.registry.Providers()})
}

func (h *APIHandlers) GetActions(c fiber.Ctx) error {
	return c.JSON(fiber.Map{"actions": h.registry.ActionTypes()})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	page, err := pageQuery(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	workflows, total, err := h.workflowService.List(c.Context(), c.Get(UserHeader), page)
	if err != nil {
		return h.handleServiceError(c, err)
	}

	if workflows == nil {
		workflows = []*models.Workflow{}
	}

	return c.JSON(PaginatedResponse{Data: workflows, Pagination: newPagination(page, total)})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.owned(c)
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), req.toModel(c.Get(UserHeader)))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return h.handleServiceError(c, err)
	}

	var req WorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), c.Params("id"), req.toModel(c.Get(UserHeader)))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return h.handleServiceError(c, err)
	}

	if err := h.workflowService.Delete(c.Context(), c.Params("id")); err != nil {
		return h.handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CopyWorkflow(c fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return h.handleServiceError(c, err)
	}

	copied, err := h.workflowService.Copy(c.Context(), c.Params("id"), c.Get(UserHeader))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(copied)
}

func (h *APIHandlers) ActivateWorkflow(c fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return h.handleServiceError(c, err)
	}

	activated, err := h.workflowService.Activate(c.Context(), c.Params("id"))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(activated)
}

func (h *APIHandlers) DeactivateWorkflow(c fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return h.handleServiceError(c, err)
	}

	paused, err := h.workflowService.Deactivate(c.Context(), c.Params("id"))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(paused)
}

func (h *APIHandlers) DeleteWorkflowNode(c fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return h.handleServiceError(c, err)
	}

	updated, err := h.workflowService.DeleteNode(c.Context(), c.Params("id"), c.Params("nodeId"))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return h.handleServiceError(c, err)
	}

	var req ExecuteRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	execution, err := h.executionService.Run(c.Context(), c.Params("id"), services.RunRequest{
		UserID:        c.Get(UserHeader),
		TriggerNodeID: req.TriggerNodeID,
		TriggerData:   req.triggerData(),
		TestMode:      req.TestMode,
		Step:          req.Step,
	})
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(ExecutionResponse{
		ExecutionID: execution.ID,
		Status:      execution.Status,
	})
}

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return h.handleServiceError(c, err)
	}

	executions, err := h.executionService.List(c.Context(), c.Params("id"))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	if executions == nil {
		executions = []*models.Execution{}
	}

	return c.JSON(fiber.Map{"executions": executions})
}

// GetExecution is the polling endpoint of the builder UI.
func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return h.handleServiceError(c, err)
	}

	status, err := h.executionService.Status(c.Context(), c.Params("id"), c.Params("executionId"))
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.JSON(status)
}

func (h *APIHandlers) StopExecution(c fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return h.handleServiceError(c, err)
	}

	if err := h.executionService.Stop(c.Context(), c.Params("id"), c.Params("executionId")); err != nil {
		return h.handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

func (h *APIHandlers) StepExecution(c fiber.Ctx) error {
	if _, err := h.owned(c); err != nil {
		return h.handleServiceError(c, err)
	}

	var req StepRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	err := h.executionService.Step(c.Context(), c.Params("id"), c.Params("executionId"), req.Command)
	if err != nil {
		return h.handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}
