// Package hubspot integrates HubSpot CRM webhooks and actions.
package hubspot

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const Provider = "hubspot"

const (
	TicketCreated  = "hubspot:ticket_created"
	TicketUpdated  = "hubspot:ticket_updated"
	NoteCreated    = "hubspot:note_created"
	CallCreated    = "hubspot:call_created"
	TaskCreated    = "hubspot:task_created"
	MeetingCreated = "hubspot:meeting_created"
	FormSubmission = "hubspot:form_submission"
	ContactCreated = "hubspot:contact_created"
)

const ownerLabelField = "hubspot_owner_id__label"

var ticketFields = []string{
	"hs_pipeline", "hs_pipeline_stage", "hs_ticket_priority", "hs_ticket_category",
	"hs_ticket_status", "subject", "content", "hubspot_owner_id", "source_type", "createdate",
}

var contactFields = []string{
	"email", "firstname", "lastname", "phone", "company", "lifecyclestage", "hubspot_owner_id", "createdate",
}

// engagementFields lists the properties promoted to the top level per
// engagement type.
var engagementFields = map[string][]string{
	"note": {"hs_note_body", "hs_timestamp", "hubspot_owner_id", "hs_createdate"},
	"call": {
		"hs_call_title", "hs_call_body", "hs_call_direction", "hs_call_disposition",
		"hs_call_duration", "hs_call_status", "hs_timestamp", "hubspot_owner_id",
	},
	"task": {
		"hs_task_subject", "hs_task_body", "hs_task_status", "hs_task_priority",
		"hs_task_type", "hs_timestamp", "hubspot_owner_id",
	},
	"meeting": {
		"hs_meeting_title", "hs_meeting_body", "hs_meeting_start_time", "hs_meeting_end_time",
		"hs_meeting_outcome", "hs_timestamp", "hubspot_owner_id",
	},
}

var engagementTypes = map[string]string{
	NoteCreated:    "note",
	CallCreated:    "call",
	TaskCreated:    "task",
	MeetingCreated: "meeting",
}

// NormalizeIDList accepts a list of ids, a ";" separated string or nil and
// returns the ids as strings. Nil entries and blanks are dropped; order and
// duplicates are kept.
func NormalizeIDList(input any) []string {
	ids := make([]string, 0)

	switch v := input.(type) {
	case nil:
	case []any:
		for _, item := range v {
			if item == nil {
				continue
			}

			ids = append(ids, idString(item))
		}
	case []string:
		ids = append(ids, v...)
	case string:
		for _, part := range strings.Split(v, ";") {
			if part = strings.TrimSpace(part); part != "" {
				ids = append(ids, part)
			}
		}
	default:
		ids = append(ids, idString(v))
	}

	return ids
}

func idString(value any) string {
	if f, ok := value.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	return fmt.Sprint(value)
}

// eventProperties returns the property bag of an event. Property change
// notifications carry a single propertyName/propertyValue pair instead.
func eventProperties(event map[string]any) map[string]any {
	if properties, ok := event["properties"].(map[string]any); ok {
		return properties
	}

	if name, ok := event["propertyName"].(string); ok && name != "" {
		return map[string]any{name: event["propertyValue"]}
	}

	return map[string]any{}
}

// splitProperties copies known properties into data and returns the rest.
// The owner label is hoisted to hubspot_owner_name.
func splitProperties(data, properties map[string]any, known []string) map[string]any {
	custom := make(map[string]any)

	for key, value := range properties {
		switch {
		case key == ownerLabelField:
			data["hubspot_owner_name"] = value
		case slices.Contains(known, key):
			data[key] = value
		default:
			custom[key] = value
		}
	}

	return custom
}

// BuildTicketData maps a ticket event into canonical trigger data.
func BuildTicketData(event map[string]any) map[string]any {
	data := map[string]any{"ticketId": event["objectId"]}
	data["customProperties"] = splitProperties(data, eventProperties(event), ticketFields)

	return withPortal(data, event)
}

// BuildContactData maps a contact event into canonical trigger data.
func BuildContactData(event map[string]any) map[string]any {
	data := map[string]any{"contactId": event["objectId"]}
	data["customProperties"] = splitProperties(data, eventProperties(event), contactFields)

	return withPortal(data, event)
}

// BuildEngagementData maps a note, call, task or meeting event. kind is the
// engagement type, e.g. "call".
func BuildEngagementData(kind string, event map[string]any) map[string]any {
	data := map[string]any{kind + "Id": event["objectId"]}
	data["customProperties"] = splitProperties(data, eventProperties(event), engagementFields[kind])

	associations, _ := event["associations"].(map[string]any)
	data["associatedContactIds"] = NormalizeIDList(associations["contacts"])
	data["associatedCompanyIds"] = NormalizeIDList(associations["companies"])

	return withPortal(data, event)
}

// BuildFormData flattens a form submission's values by field name.
func BuildFormData(event map[string]any) map[string]any {
	values, _ := event["values"].([]any)

	fields := make(map[string]any, len(values))
	fieldValues := make(map[string]any, len(values))

	for _, raw := range values {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		name, ok := entry["name"].(string)
		if !ok || name == "" {
			continue
		}

		fields[name] = entry["value"]
		fieldValues[name] = entry["value"]
	}

	if values == nil {
		values = []any{}
	}

	data := map[string]any{
		"formId":           event["formId"],
		"fields":           fields,
		"fieldValues":      fieldValues,
		"submissionValues": values,
	}

	if email, ok := fields["email"]; ok {
		data["contactEmail"] = email
	}

	for _, key := range []string{"submittedAt", "pageUrl"} {
		if value, ok := event[key]; ok {
			data[key] = value
		}
	}

	return withPortal(data, event)
}

func withPortal(data, event map[string]any) map[string]any {
	if portal, ok := event["portalId"]; ok && portal != nil {
		data["portalId"] = idString(portal)
	}

	return data
}

// BuildTriggerData dispatches on trigger type. It returns nil for trigger
// types HubSpot does not deliver.
func BuildTriggerData(triggerType string, event map[string]any) map[string]any {
	switch triggerType {
	case TicketCreated, TicketUpdated:
		return BuildTicketData(event)
	case ContactCreated:
		return BuildContactData(event)
	case FormSubmission:
		return BuildFormData(event)
	}

	if kind, ok := engagementTypes[triggerType]; ok {
		return BuildEngagementData(kind, event)
	}

	return nil
}
