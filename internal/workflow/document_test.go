package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_CloneIsIndependent(t *testing.T) {
	orig := sampleTemplate()
	clone := orig.Clone()
	require.Equal(t, orig, clone)

	widgets(t, clone)[0] = "changed"
	clone["extra"] = true

	assert.Equal(t, "a lighthouse at dusk", widgets(t, orig)[0])
	assert.NotContains(t, orig, "extra")
}

func TestDocument_CloneNil(t *testing.T) {
	var d Document
	assert.Nil(t, d.Clone())
}

func TestDocument_FindNode(t *testing.T) {
	doc := Document{"nodes": []interface{}{
		"not a node",
		map[string]interface{}{"id": "76", "type": "string-id"},
		map[string]interface{}{"id": float64(12), "type": "numeric"},
	}}

	node, ok := doc.FindNode("76")
	require.True(t, ok)
	assert.Equal(t, "string-id", node["type"])

	node, ok = doc.FindNode("12")
	require.True(t, ok)
	assert.Equal(t, "numeric", node["type"])

	_, ok = doc.FindNode("99")
	assert.False(t, ok)

	_, ok = Document{"nodes": "bad"}.FindNode("76")
	assert.False(t, ok)
}
