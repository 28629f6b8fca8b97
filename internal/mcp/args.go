package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// stringArg extracts a string argument, or defaultVal when the key is
// absent or not a string.
func stringArg(raw json.RawMessage, key, defaultVal string) string {
	s, ok := arguments(raw)[key].(string)
	if !ok {
		return defaultVal
	}
	return s
}

// intArg extracts a numeric argument. JSON numbers are float64, so this
// truncates.
func intArg(raw json.RawMessage, key string, defaultVal int) int {
	f, ok := arguments(raw)[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(f)
}

// arguments decodes the raw tool arguments. A missing or malformed
// object yields an empty map.
func arguments(raw json.RawMessage) map[string]any {
	m := map[string]any{}
	if len(raw) == 0 {
		return m
	}
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return textResult(string(data)), nil
}

func errorResult(msg string) *mcp.CallToolResult {
	var r mcp.CallToolResult
	r.SetError(fmt.Errorf("%s", msg))
	return &r
}
