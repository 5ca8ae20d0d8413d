package tools

import (
	"encoding/json"
	"fmt"
	"math"
)

// jsonText renders v for a text content block.
func jsonText(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func stringParam(params map[string]interface{}, key string) string {
	s, _ := params[key].(string)
	return s
}

func int64Param(params map[string]interface{}, key string) (int64, error) {
	switch v := params[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%s must be a whole number", key)
		}
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case json.Number:
		return v.Int64()
	default:
		return 0, fmt.Errorf("%s must be a number", key)
	}
}

func stringSliceParam(params map[string]interface{}, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// failure builds the result of a failed call.
func failure(err error) *ToolResult {
	return &ToolResult{Error: err.Error()}
}
