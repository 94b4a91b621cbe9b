package hubspot

import "github.com/dukex/triggerhub/pkg/payload"

// filtersFor returns the filters in their fixed reporting order.
func filtersFor(triggerType string) []payload.Filter {
	typeField := "hs_ticket_category"
	priorityField := "hs_ticket_priority"

	if triggerType == TaskCreated {
		typeField = "hs_task_type"
		priorityField = "hs_task_priority"
	}

	return []payload.Filter{
		{ConfigKey: "filterByPipeline", Field: "hs_pipeline", Label: "pipeline"},
		{ConfigKey: "filterByPriority", Field: priorityField, Label: "priority"},
		{ConfigKey: "filterByOwner", Field: "hubspot_owner_id", Label: "owner"},
		{ConfigKey: "filterByType", Field: typeField, Label: "type"},
		{ConfigKey: "filterByDirection", Field: "hs_call_direction", Label: "direction"},
		{ConfigKey: "filterByDisposition", Field: "hs_call_disposition", Label: "disposition"},
		{ConfigKey: "filterByOutcome", Field: "hs_meeting_outcome", Label: "outcome"},
		{ConfigKey: "filterByFormId", Field: "formId", Label: "form"},
	}
}

// ShouldSkipByConfig returns why the node's filters reject data, or nil to
// proceed.
func ShouldSkipByConfig(triggerType string, config, data map[string]any) *string {
	return payload.Check(filtersFor(triggerType), config, data)
}
