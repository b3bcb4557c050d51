package workflow

import (
	"math"
	"testing"

	"comfyui-workers/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func fixedSeed(v uint32) SeedSource {
	return func() uint32 { return v }
}

func TestApplyOverrides_WritesSlots(t *testing.T) {
	out := ApplyOverrides(sampleTemplate(), map[string]interface{}{
		"prompt":    "a red fox",
		"width":     float64(768),
		"height":    float64(512),
		"steps":     float64(20),
		"cfg":       float64(3.5),
		"seed":      float64(7),
		"unet_name": "unet.safetensors",
		"clip_name": "clip.safetensors",
		"vae_name":  "vae.safetensors",
	}, Options{})

	assert.Equal(t, []interface{}{
		"a red fox",
		float64(768),
		float64(512),
		float64(20),
		float64(3.5),
		float64(7),
		"randomize",
		"unet.safetensors",
		"clip.safetensors",
		"vae.safetensors",
	}, widgets(t, out))
}

func TestApplyOverrides_DoesNotMutateInput(t *testing.T) {
	template := sampleTemplate()
	before := template.Clone()

	ApplyOverrides(template, map[string]interface{}{"prompt": "x", "seed": nil}, Options{})

	assert.Equal(t, before, template)
}

func TestApplyOverrides_NullSeedIsGenerated(t *testing.T) {
	out := ApplyOverrides(sampleTemplate(), map[string]interface{}{"seed": nil, "steps": float64(20)},
		Options{Seed: fixedSeed(math.MaxUint32)})

	w := widgets(t, out)
	assert.Equal(t, float64(20), w[3])
	assert.Equal(t, float64(math.MaxUint32), w[5])
	assert.Equal(t, "randomize", w[6])
}

func TestApplyOverrides_RandomSeedRange(t *testing.T) {
	seen := map[float64]bool{}
	for i := 0; i < 50; i++ {
		out := ApplyOverrides(sampleTemplate(), map[string]interface{}{"seed": nil}, Options{})
		seed := widgets(t, out)[5].(float64)
		assert.GreaterOrEqual(t, seed, float64(0))
		assert.LessOrEqual(t, seed, float64(math.MaxUint32))
		assert.Equal(t, math.Trunc(seed), seed)
		seen[seed] = true
	}
	// 50 draws over 2^32 values colliding down to a handful would mean a broken source
	assert.Greater(t, len(seen), 45)
}

func TestApplyOverrides_Idempotent(t *testing.T) {
	template := sampleTemplate()
	overrides := map[string]interface{}{"prompt": "same", "steps": float64(8), "seed": nil}

	first := ApplyOverrides(template, overrides, Options{})
	second := ApplyOverrides(template, overrides, Options{})

	w1, w2 := widgets(t, first), widgets(t, second)
	w1[5], w2[5] = nil, nil
	assert.Equal(t, first, second)

	fixed := map[string]interface{}{"prompt": "same", "seed": float64(1)}
	assert.Equal(t, ApplyOverrides(template, fixed, Options{}), ApplyOverrides(template, fixed, Options{}))
}

func TestApplyOverrides_ControlSlotForcedWithoutOverrides(t *testing.T) {
	out := ApplyOverrides(sampleTemplate(), nil, Options{})
	assert.Equal(t, "randomize", widgets(t, out)[6])
	assert.Equal(t, float64(42), widgets(t, out)[5])
}

func TestApplyOverrides_NullValuesLeaveTemplate(t *testing.T) {
	out := ApplyOverrides(sampleTemplate(), map[string]interface{}{"prompt": nil, "width": nil}, Options{})
	w := widgets(t, out)
	assert.Equal(t, "a lighthouse at dusk", w[0])
	assert.Equal(t, float64(1024), w[1])
}

func TestApplyOverrides_OutOfRangeSkipped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := logger.NewZapAdapter(zap.New(core))

	doc := Document{"nodes": []interface{}{
		map[string]interface{}{
			"id":             float64(76),
			"widgets_values": []interface{}{"p", float64(512), float64(512), float64(4)},
		},
	}}

	out := ApplyOverrides(doc, map[string]interface{}{
		"steps":    float64(9),
		"vae_name": "vae.safetensors",
		"seed":     nil,
	}, Options{Logger: log})

	assert.Equal(t, []interface{}{"p", float64(512), float64(512), float64(9)}, widgets(t, out))
	assert.Equal(t, 2, logs.FilterMessage("override index out of range, skipped").Len())
}

func TestApplyOverrides_UnknownKeysIgnored(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := logger.NewZapAdapter(zap.New(core))

	out := ApplyOverrides(sampleTemplate(), map[string]interface{}{
		"sampler": "euler",
		"steps":   float64(6),
	}, Options{Logger: log})

	assert.Equal(t, float64(6), widgets(t, out)[3])
	require.Equal(t, 1, logs.FilterMessage("ignoring unknown override").Len())
	assert.Equal(t, "sampler", logs.FilterMessage("ignoring unknown override").All()[0].ContextMap()["param"])
}

func TestApplyOverrides_MissingNode(t *testing.T) {
	doc := Document{"nodes": []interface{}{map[string]interface{}{"id": float64(1)}}}
	out := ApplyOverrides(doc, map[string]interface{}{"prompt": "x"}, Options{})
	assert.Equal(t, doc, out)
}

func TestApplyOverrides_CustomNodeID(t *testing.T) {
	doc := Document{"nodes": []interface{}{
		map[string]interface{}{"id": "sub", "widgets_values": []interface{}{"old"}},
	}}
	out := ApplyOverrides(doc, map[string]interface{}{"prompt": "new"}, Options{NodeID: "sub"})

	node, ok := out.FindNode("sub")
	require.True(t, ok)
	assert.Equal(t, []interface{}{"new"}, node["widgets_values"])
}

func TestIsOverrideKey(t *testing.T) {
	assert.True(t, IsOverrideKey("cfg"))
	assert.False(t, IsOverrideKey("sampler"))
}
