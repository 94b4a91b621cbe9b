package hubspot

import (
	"maps"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeIDList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input any
		want  []string
	}{
		{"mixed array", []any{"1", float64(2), nil}, []string{"1", "2"}},
		{"semicolon string", "1;2 ; 3", []string{"1", "2", "3"}},
		{"nil", nil, []string{}},
		{"empty segments", ";; 4 ;", []string{"4"}},
		{"duplicates kept", []any{"5", "5"}, []string{"5", "5"}},
		{"large number", []any{float64(123456789012)}, []string{"123456789012"}},
		{"string slice", []string{"a", "b"}, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, NormalizeIDList(tt.input))
		})
	}
}

func TestBuildTicketData_RoundTrip(t *testing.T) {
	t.Parallel()

	properties := map[string]any{
		"hs_pipeline":             "0",
		"hs_pipeline_stage":       "1",
		"hs_ticket_priority":      "HIGH",
		"hs_ticket_category":      "BILLING",
		"hs_ticket_status":        "open",
		"subject":                 "Refund",
		"content":                 "Please refund order 9",
		"hubspot_owner_id":        "77",
		"source_type":             "EMAIL",
		"createdate":              "2024-05-01T10:00:00Z",
		"hubspot_owner_id__label": "Grace Hopper",
		"x_region":                "EU",
		"x_plan":                  "pro",
	}

	data := BuildTicketData(map[string]any{
		"objectId":   float64(9001),
		"properties": maps.Clone(properties),
	})

	assert.Equal(t, float64(9001), data["ticketId"])

	for _, field := range ticketFields {
		assert.Equal(t, properties[field], data[field], field)
	}

	assert.Equal(t, "Grace Hopper", data["hubspot_owner_name"])
	assert.NotContains(t, data, ownerLabelField)
	assert.Equal(t, map[string]any{"x_region": "EU", "x_plan": "pro"}, data["customProperties"])
}

func TestBuildTicketData_PropertyChange(t *testing.T) {
	t.Parallel()

	data := BuildTicketData(map[string]any{
		"objectId":      float64(5),
		"propertyName":  "hs_ticket_priority",
		"propertyValue": "LOW",
		"portalId":      float64(42),
	})

	assert.Equal(t, "LOW", data["hs_ticket_priority"])
	assert.Equal(t, "42", data["portalId"])
	assert.Empty(t, data["customProperties"])
}

func TestBuildEngagementData(t *testing.T) {
	t.Parallel()

	data := BuildEngagementData("call", map[string]any{
		"objectId": "c-1",
		"properties": map[string]any{
			"hs_call_direction":   "INBOUND",
			"hs_call_disposition": "connected",
			"hs_call_recording":   "https://rec",
		},
		"associations": map[string]any{
			"contacts":  []any{float64(1), "2", nil},
			"companies": "10; 11",
		},
	})

	assert.Equal(t, "c-1", data["callId"])
	assert.Equal(t, "INBOUND", data["hs_call_direction"])
	assert.Equal(t, []string{"1", "2"}, data["associatedContactIds"])
	assert.Equal(t, []string{"10", "11"}, data["associatedCompanyIds"])
	assert.Equal(t, map[string]any{"hs_call_recording": "https://rec"}, data["customProperties"])
}

func TestBuildEngagementData_NoAssociations(t *testing.T) {
	t.Parallel()

	data := BuildEngagementData("note", map[string]any{"objectId": "n-1"})

	assert.Equal(t, "n-1", data["noteId"])
	assert.Equal(t, []string{}, data["associatedContactIds"])
	assert.Equal(t, []string{}, data["associatedCompanyIds"])
}

func TestBuildFormData(t *testing.T) {
	t.Parallel()

	values := []any{
		map[string]any{"name": "email", "value": "ada@example.com"},
		map[string]any{"name": "company", "value": "Analytical"},
	}

	data := BuildFormData(map[string]any{"formId": "f-1", "values": values})

	require.Equal(t, "f-1", data["formId"])
	assert.Equal(t, map[string]any{"email": "ada@example.com", "company": "Analytical"}, data["fields"])
	assert.Equal(t, data["fields"], data["fieldValues"])
	assert.Equal(t, values, data["submissionValues"])
	assert.Equal(t, "ada@example.com", data["contactEmail"])

	noEmail := BuildFormData(map[string]any{"formId": "f-2"})
	assert.NotContains(t, noEmail, "contactEmail")
	assert.Equal(t, []any{}, noEmail["submissionValues"])
}

func TestShouldSkipByConfig(t *testing.T) {
	t.Parallel()

	ticket := map[string]any{"hs_pipeline": "support", "hs_ticket_priority": "HIGH", "hubspot_owner_id": "7"}

	tests := []struct {
		name        string
		triggerType string
		config      map[string]any
		data        map[string]any
		want        string
	}{
		{"match", TicketCreated, map[string]any{"filterByPipeline": "support"}, ticket, ""},
		{"pipeline mismatch", TicketCreated, map[string]any{"filterByPipeline": "sales"}, ticket, "pipeline filter mismatch"},
		{"owner mismatch", TicketCreated, map[string]any{"filterByOwner": "8"}, ticket, "owner filter mismatch"},
		{
			"properties only",
			TicketCreated,
			map[string]any{"filterByPipeline": "support", "filterByPriority": "HIGH"},
			map[string]any{"properties": map[string]any{"hs_pipeline": "support", "hs_ticket_priority": "HIGH"}},
			"",
		},
		{"task type", TaskCreated, map[string]any{"filterByType": "CALL"}, map[string]any{"hs_task_type": "EMAIL"}, "type filter mismatch"},
		{"call direction", CallCreated, map[string]any{"filterByDirection": "INBOUND"}, map[string]any{"hs_call_direction": "INBOUND"}, ""},
		{"form id", FormSubmission, map[string]any{"filterByFormId": "f-9"}, map[string]any{"formId": "f-1"}, "form filter mismatch"},
		{"any is unset", TicketCreated, map[string]any{"filterByPipeline": "any"}, ticket, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reason := ShouldSkipByConfig(tt.triggerType, tt.config, tt.data)
			if tt.want == "" {
				assert.Nil(t, reason)

				return
			}

			require.NotNil(t, reason)
			assert.Equal(t, tt.want, *reason)
		})
	}
}

func TestShouldSkipByConfig_OrderIndependent(t *testing.T) {
	t.Parallel()

	data := map[string]any{"hs_pipeline": "support", "hs_ticket_priority": "HIGH", "hubspot_owner_id": "7"}
	config := map[string]any{
		"filterByOwner":    "9",
		"filterByPriority": "LOW",
		"filterByPipeline": "sales",
	}

	// Map iteration order varies between runs; the reason must not.
	for range 50 {
		reason := ShouldSkipByConfig(TicketCreated, maps.Clone(config), data)
		require.NotNil(t, reason)
		assert.Equal(t, "pipeline filter mismatch", *reason)
	}
}
