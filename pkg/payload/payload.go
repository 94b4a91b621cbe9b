// Package payload holds helpers shared by provider adapters and action
// handlers for reading loosely typed JSON data and configuration.
package payload

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dukex/triggerhub/pkg/errs"
)

// LookupField reads key from the top level of data, falling back to its
// "properties" object. Empty strings count as absent.
func LookupField(data map[string]any, key string) (any, bool) {
	if value, ok := data[key]; ok && !isEmpty(value) {
		return value, true
	}

	if properties, ok := data["properties"].(map[string]any); ok {
		if value, ok := properties[key]; ok && !isEmpty(value) {
			return value, true
		}
	}

	return nil, false
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}

	s, ok := value.(string)

	return ok && s == ""
}

// Filter is one config key checked against one data field.
type Filter struct {
	ConfigKey string
	Field     string
	Label     string
}

// Unset reports whether a filter value means "no filter".
func Unset(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == "" || strings.EqualFold(v, "any")
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	}

	return false
}

// Matches compares a filter value with a data value as strings. A list
// filter matches when any element does.
func Matches(filter, value any) bool {
	actual := fmt.Sprint(value)

	switch f := filter.(type) {
	case []any:
		for _, item := range f {
			if fmt.Sprint(item) == actual {
				return true
			}
		}

		return false
	case []string:
		for _, item := range f {
			if item == actual {
				return true
			}
		}

		return false
	}

	return fmt.Sprint(filter) == actual
}

// Check runs filters in order and returns the reason of the first mismatch.
// A filtered field missing from data is a mismatch.
func Check(filters []Filter, config, data map[string]any) *string {
	for _, filter := range filters {
		expected := config[filter.ConfigKey]
		if Unset(expected) {
			continue
		}

		actual, ok := LookupField(data, filter.Field)
		if !ok || !Matches(expected, actual) {
			reason := filter.Label + " filter mismatch"

			return &reason
		}
	}

	return nil
}

// String returns config[key] as a trimmed string.
func String(config map[string]any, key string) string {
	switch v := config[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return fmt.Sprint(v)
	}
}

// RequireString returns a configuration error when config[key] is empty.
func RequireString(nodeID string, config map[string]any, key string) (string, error) {
	value := String(config, key)
	if value == "" {
		return "", errs.NewConfigurationError(nodeID, key, "is required")
	}

	return value, nil
}

// Object returns config[key] when it is a JSON object.
func Object(config map[string]any, key string) map[string]any {
	object, _ := config[key].(map[string]any)

	return object
}

// Sign returns the HMAC-SHA256 of message under key.
func Sign(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)

	return mac.Sum(nil)
}

// EqualHex compares a hex-encoded signature with the expected MAC.
func EqualHex(signature string, expected []byte) bool {
	decoded, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}

	return hmac.Equal(decoded, expected)
}

// EqualBase64 compares a base64-encoded signature with the expected MAC.
func EqualBase64(signature string, expected []byte) bool {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}

	return hmac.Equal(decoded, expected)
}
