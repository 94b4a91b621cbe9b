// Package transform provides the transform action. It shapes data from
// earlier nodes into a new object.
package transform

import (
	"context"
	"encoding/json"
	"maps"

	"github.com/dukex/triggerhub/pkg/models"
	"github.com/dukex/triggerhub/pkg/protocol"
	"github.com/tidwall/gjson"
)

const Type = "core:transform"

type Action struct{}

func NewAction() *Action {
	return &Action{}
}

func (*Action) Type() string { return Type }

func (*Action) SideEffecting() bool { return false }

// Execute returns the resolved configuration as output. When "output" is
// set, only its value is returned. When "input" and "path" are set, the
// value at path inside input is returned as "result".
func (*Action) Execute(_ context.Context, config map[string]any, actx protocol.ActionContext) models.ActionResult {
	if path, ok := config["path"].(string); ok && path != "" {
		raw, err := json.Marshal(config["input"])
		if err != nil {
			return models.Failed("input is not serializable: " + err.Error())
		}

		value := gjson.GetBytes(raw, path)

		return models.Succeeded(map[string]any{"result": value.Value()}, "")
	}

	if output, ok := config["output"]; ok {
		if object, isObject := output.(map[string]any); isObject {
			return models.Succeeded(object, "")
		}

		return models.Succeeded(map[string]any{"result": output}, "")
	}

	actx.Logger.Debug("Transform passing config through", "node_id", actx.NodeID)

	return models.Succeeded(maps.Clone(config), "")
}
