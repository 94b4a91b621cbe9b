// Package web provides the HTTP API for workflows and executions.
package web

import (
	"maps"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/persistence"
)

// UserHeader carries the authenticated user id set by the upstream gateway.
const UserHeader = "X-User-ID"

// DefaultPageSize applies when a listing omits limit.
const DefaultPageSize = 20

// PaginatedResponse wraps one page of a listing.
type PaginatedResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func newPagination(page persistence.Page, total int) Pagination {
	return Pagination{
		Page:       page.Number,
		Limit:      page.Limit,
		Total:      total,
		TotalPages: (total + page.Limit - 1) / page.Limit,
	}
}

// WorkflowRequest is the body of create and update calls. Updates replace
// the whole definition.
type WorkflowRequest struct {
	Name        string                 `json:"name"                  validate:"required,min=1"`
	Description string                 `json:"description"`
	Nodes       []*models.WorkflowNode `json:"nodes"                 validate:"dive"`
	Connections []*models.Connection   `json:"connections"           validate:"dive"`
	Variables   map[string]any         `json:"variables"`
	Metadata    map[string]any         `json:"metadata,omitempty"`
}

func (r WorkflowRequest) toModel(owner string) *models.Workflow {
	nodes := r.Nodes
	if nodes == nil {
		nodes = []*models.WorkflowNode{}
	}

	connections := r.Connections
	if connections == nil {
		connections = []*models.Connection{}
	}

	return &models.Workflow{
		Name:        r.Name,
		Description: r.Description,
		Owner:       owner,
		Nodes:       nodes,
		Connections: connections,
		Variables:   r.Variables,
		Metadata:    r.Metadata,
	}
}

// ExecuteRequest starts a manual run. Input is the payload API clients send;
// builder runs send TriggerData. Keys of TriggerData win when both are set.
type ExecuteRequest struct {
	TriggerNodeID string         `json:"trigger_node_id"`
	TriggerData   map[string]any `json:"trigger_data"`
	Input         map[string]any `json:"input"`
	TestMode      bool           `json:"test_mode"`
	Step          bool           `json:"step"`
}

func (r ExecuteRequest) triggerData() map[string]any {
	if len(r.Input) == 0 {
		return r.TriggerData
	}

	data := make(map[string]any, len(r.Input)+len(r.TriggerData))
	maps.Copy(data, r.Input)
	maps.Copy(data, r.TriggerData)

	return data
}

// StepRequest drives an execution started in step mode.
type StepRequest struct {
	Command string `json:"command" validate:"required,oneof=continue skip pause resume"`
}

// ExecutionResponse is returned when a run is accepted.
type ExecutionResponse struct {
	ExecutionID string                 `json:"execution_id"`
	Status      models.ExecutionStatus `json:"status"`
}
