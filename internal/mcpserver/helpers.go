package mcpserver

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/relaybroker/relaybroker/internal/registry"
)

// stringArg returns args[key] as a string, or "" if absent or not a string.
func stringArg(args map[string]any, key string) string {
	v, ok := args[key].(string)
	if !ok {
		return ""
	}
	return v
}

// boolArg returns args[key] as a bool, or false if absent or not a bool.
func boolArg(args map[string]any, key string) bool {
	v, ok := args[key].(bool)
	return ok && v
}

// parseOptions converts the "choices" tool argument (a JSON array of
// {label, summary, silent} objects) into [registry.Option] values.
func parseOptions(raw any) ([]registry.Option, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("choices must be an array of objects")
	}
	options := make([]registry.Option, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("choices[%d] must be an object", i)
		}
		label := stringArg(obj, "label")
		if label == "" {
			return nil, fmt.Errorf("choices[%d].label is required", i)
		}
		options = append(options, registry.Option{
			Label:   label,
			Summary: stringArg(obj, "summary"),
			Silent:  boolArg(obj, "silent"),
		})
	}
	return options, nil
}

// jsonResult marshals body and wraps it as a tool text result.
func jsonResult(body map[string]any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
