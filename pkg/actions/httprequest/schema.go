package httprequest

// Schema returns the JSON schema for configuring this action.
func (a *Action) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"title":       "URL",
				"type":        "string",
				"description": "The URL to send the HTTP request to. Supports {{placeholders}}.",
				"examples": []string{
					"https://api.example.com/users",
					"https://api.example.com/users/{{trigger.contactId}}",
				},
			},
			"method": map[string]any{
				"type":    "string",
				"default": "GET",
				"enum":    []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
			},
			"headers": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"query": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
			"body": map[string]any{
				"description": "Request body. Objects are sent as JSON.",
			},
			"timeout_seconds": map[string]any{"type": "number", "default": defaultTimeoutSeconds},
			"retry": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"attempts": map[string]any{"type": "integer", "minimum": 1, "maximum": maxAttempts},
					"delay":    map[string]any{"type": "integer", "description": "Delay between attempts in milliseconds"},
				},
			},
		},
	}
}
