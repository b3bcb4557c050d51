package workflow

import (
	"math/rand"
	"sort"

	"comfyui-workers/internal/common/logger"
)

const (
	// DefaultNodeID identifies the parameterizable node in the stock template.
	DefaultNodeID = "76"

	seedSlot        = 5
	seedControlSlot = 6
	seedControlMode = "randomize"
)

// slotIndex is the widget layout of the parameterizable node. The order is
// a contract with the template and must not change.
var slotIndex = map[string]int{
	"prompt":    0,
	"width":     1,
	"height":    2,
	"steps":     3,
	"cfg":       4,
	"seed":      seedSlot,
	"unet_name": 7,
	"clip_name": 8,
	"vae_name":  9,
}

// IsOverrideKey reports whether name is a recognized override.
func IsOverrideKey(name string) bool {
	_, ok := slotIndex[name]
	return ok
}

// SeedSource draws a seed in [0, 2^32-1].
type SeedSource func() uint32

type Options struct {
	NodeID string
	Seed   SeedSource
	Logger logger.Logger
}

func (o Options) withDefaults() Options {
	if o.NodeID == "" {
		o.NodeID = DefaultNodeID
	}
	if o.Seed == nil {
		o.Seed = rand.Uint32
	}
	if o.Logger == nil {
		o.Logger = logger.NewNoOpLogger()
	}
	return o
}

// ApplyOverrides returns a copy of doc with overrides written into the
// parameterizable node. doc itself is never modified.
func ApplyOverrides(doc Document, overrides map[string]interface{}, opts Options) Document {
	opts = opts.withDefaults()
	log := opts.Logger.WithFields(map[string]interface{}{"nodeId": opts.NodeID})

	out := doc.Clone()
	if out == nil {
		out = Document{}
	}

	node, ok := out.FindNode(opts.NodeID)
	if !ok {
		log.Warn("parameter node not found in workflow, overrides skipped", nil)
		return out
	}

	values, _ := node["widgets_values"].([]interface{})

	// sorted for stable logs
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := overrides[key]
		index, known := slotIndex[key]
		if !known {
			log.Warn("ignoring unknown override", map[string]interface{}{"param": key})
			continue
		}
		if value == nil {
			continue
		}
		if index >= len(values) {
			log.Warn("override index out of range, skipped", map[string]interface{}{
				"param": key,
				"index": index,
				"slots": len(values),
			})
			continue
		}
		log.Debug("applying override", map[string]interface{}{
			"param": key,
			"old":   values[index],
			"new":   value,
		})
		values[index] = value
	}

	if seed, present := overrides["seed"]; present && seed == nil {
		if seedSlot < len(values) {
			generated := opts.Seed()
			values[seedSlot] = float64(generated)
			log.Info("generated random seed", map[string]interface{}{"seed": generated})
		} else {
			log.Warn("override index out of range, skipped", map[string]interface{}{
				"param": "seed",
				"index": seedSlot,
				"slots": len(values),
			})
		}
	}

	if len(values) > seedControlSlot {
		values[seedControlSlot] = seedControlMode
	}

	if values != nil {
		node["widgets_values"] = values
	}
	return out
}
