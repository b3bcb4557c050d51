// Package workflow holds the workflow template and the parameter override
// rules for the parameterizable node.
package workflow

import (
	"strconv"
)

// Document is a decoded workflow graph as produced by encoding/json.
type Document map[string]interface{}

// Clone returns a fully independent copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return deepCopy(map[string]interface{}(d)).(map[string]interface{})
}

func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case Document:
		return Document(deepCopy(map[string]interface{}(val)).(map[string]interface{}))
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		// scalars from encoding/json are immutable
		return val
	}
}

// FindNode returns the node whose id matches nodeID. Numeric ids are compared
// by their decimal form.
func (d Document) FindNode(nodeID string) (map[string]interface{}, bool) {
	nodes, ok := d["nodes"].([]interface{})
	if !ok {
		return nil, false
	}
	for _, raw := range nodes {
		node, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if idString(node["id"]) == nodeID {
			return node, true
		}
	}
	return nil, false
}

func idString(id interface{}) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}
