package workflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"comfyui-workers/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplate(t *testing.T, body []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.json")
	require.NoError(t, os.WriteFile(path, body, 0o600))
	return path
}

func TestLoadTemplate_Success(t *testing.T) {
	body, err := json.Marshal(sampleTemplate())
	require.NoError(t, err)

	store := LoadTemplate(writeTemplate(t, body), logger.NewTestLogger(t))
	require.True(t, store.Available())
	assert.NoError(t, store.Err())

	doc, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, sampleTemplate(), doc)
}

func TestLoadTemplate_Degraded(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{name: "missing file", path: func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.json") }},
		{name: "corrupt json", path: func(t *testing.T) string { return writeTemplate(t, []byte(`{"nodes": [`)) }},
		{name: "no nodes", path: func(t *testing.T) string { return writeTemplate(t, []byte(`{"links": []}`)) }},
		{name: "nodes not objects", path: func(t *testing.T) string { return writeTemplate(t, []byte(`{"nodes": [1, 2]}`)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := LoadTemplate(tt.path(t), logger.NewTestLogger(t))
			assert.False(t, store.Available())
			assert.Error(t, store.Err())

			doc, ok := store.Get()
			assert.False(t, ok)
			assert.Nil(t, doc)
		})
	}
}

func TestStore_GetReturnsIndependentCopies(t *testing.T) {
	store := NewStore(sampleTemplate())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, ok := store.Get()
			if !ok {
				return
			}
			widgets(t, doc)[0] = i
		}(i)
	}
	wg.Wait()

	doc, ok := store.Get()
	require.True(t, ok)
	assert.Equal(t, "a lighthouse at dusk", widgets(t, doc)[0])
}

func TestNewStore_Nil(t *testing.T) {
	store := NewStore(nil)
	assert.False(t, store.Available())
	assert.Error(t, store.Err())
}
