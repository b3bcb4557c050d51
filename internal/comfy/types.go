package comfy

import (
	"encoding/json"
	"fmt"
	"sort"
)

// State is the lifecycle of a submitted prompt as seen by the poller.
type State string

const (
	StatePending        State = "pending"
	StateCompleted      State = "completed"
	StateExecutionError State = "execution_error"
	StateTimeout        State = "timeout"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateExecutionError || s == StateTimeout
}

// Outcome is the terminal result of waiting on a prompt.
type Outcome struct {
	State   State
	Outputs Outputs
	Error   string
	Polls   int
}

// ImageRef points at a file the engine wrote.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// NodeOutput is one entry of the output manifest.
type NodeOutput struct {
	Images []ImageRef `json:"images,omitempty"`
}

// Outputs maps node id to what that node produced.
type Outputs map[string]NodeOutput

// NodeIDs returns the manifest keys in a stable order.
func (o Outputs) NodeIDs() []string {
	ids := make([]string, 0, len(o))
	for id := range o {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Image is a fetched, base64-encoded output.
type Image struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	Data      string `json:"data"`
}

type promptRequest struct {
	Prompt   interface{} `json:"prompt"`
	ClientID string      `json:"client_id,omitempty"`
}

type promptResponse struct {
	PromptID   string                 `json:"prompt_id"`
	Number     int                    `json:"number"`
	NodeErrors map[string]interface{} `json:"node_errors,omitempty"`
}

type historyStatus struct {
	Completed bool              `json:"completed"`
	Str       string            `json:"str"`
	StatusStr string            `json:"status_str"`
	Exception string            `json:"exception"`
	Messages  []json.RawMessage `json:"messages"`
}

// historyEntry keeps outputs raw so a malformed node cannot hide the status.
type historyEntry struct {
	Status  historyStatus   `json:"status"`
	Outputs json.RawMessage `json:"outputs"`
}

// outputs parses the manifest node by node. Nodes and image descriptors
// that do not parse are left out and reported in skipped.
func (e historyEntry) outputs() (Outputs, []string) {
	out := Outputs{}
	if len(e.Outputs) == 0 || string(e.Outputs) == "null" {
		return out, nil
	}

	var nodes map[string]json.RawMessage
	if err := json.Unmarshal(e.Outputs, &nodes); err != nil {
		return out, []string{"outputs"}
	}

	var skipped []string
	for id, raw := range nodes {
		var node struct {
			Images []json.RawMessage `json:"images"`
		}
		if err := json.Unmarshal(raw, &node); err != nil {
			skipped = append(skipped, id)
			continue
		}

		parsed := NodeOutput{}
		for i, rawRef := range node.Images {
			var ref ImageRef
			if err := json.Unmarshal(rawRef, &ref); err != nil {
				skipped = append(skipped, fmt.Sprintf("%s/images[%d]", id, i))
				continue
			}
			parsed.Images = append(parsed.Images, ref)
		}
		out[id] = parsed
	}
	sort.Strings(skipped)
	return out, skipped
}

// History is the body of GET /history/{id}, keyed by prompt id.
type History map[string]historyEntry
