package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"comfyui-workers/internal/comfy/comfytest"
	"comfyui-workers/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_TerminalStates(t *testing.T) {
	tests := []struct {
		name      string
		configure func(e *comfytest.Engine)
		wantState State
		wantError string
	}{
		{
			name:      "completed",
			configure: func(e *comfytest.Engine) { e.PendingPolls = 3 },
			wantState: StateCompleted,
		},
		{
			name: "execution error",
			configure: func(e *comfytest.Engine) {
				e.Result = comfytest.Fails
				e.ErrorMessage = "CUDA out of memory"
			},
			wantState: StateExecutionError,
			wantError: "CUDA out of memory",
		},
		{
			name:      "never finishes",
			configure: func(e *comfytest.Engine) { e.Result = comfytest.NeverFinishes },
			wantState: StateTimeout,
			wantError: "Execution timed out after 10 seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := comfytest.NewEngine(t)
			engine.Configure(tt.configure)
			clock := comfytest.NewManualClock()
			client := newTestClient(t, engine.URL(), clock)
			poller := NewPoller(client, time.Second, clock, logger.NewTestLogger(t))

			outcome := poller.Wait(context.Background(), "prompt-123", 10*time.Second)

			assert.Equal(t, tt.wantState, outcome.State)
			assert.Equal(t, tt.wantError, outcome.Error)
			if tt.wantState == StateCompleted {
				assert.Contains(t, outcome.Outputs, "9")
				assert.Equal(t, 4, outcome.Polls)
			}
		})
	}
}

func TestPoller_TimeoutWithinOneInterval(t *testing.T) {
	engine := comfytest.NewEngine(t)
	engine.Result = comfytest.NeverFinishes
	clock := comfytest.NewManualClock()
	client := newTestClient(t, engine.URL(), clock)
	poller := NewPoller(client, time.Second, clock, nil)

	start := clock.Now()
	outcome := poller.Wait(context.Background(), "prompt-123", 5*time.Second)
	elapsed := clock.Now().Sub(start)

	assert.Equal(t, StateTimeout, outcome.State)
	assert.GreaterOrEqual(t, elapsed, 5*time.Second)
	assert.Less(t, elapsed, 6*time.Second)
	assert.Equal(t, 5, engine.HistoryCalls())
}

func TestPoller_TransientFailuresArePending(t *testing.T) {
	engine := comfytest.NewEngine(t)
	engine.HistoryFailures = 3
	clock := comfytest.NewManualClock()
	client := newTestClient(t, engine.URL(), clock)
	poller := NewPoller(client, time.Second, clock, logger.NewTestLogger(t))

	outcome := poller.Wait(context.Background(), "prompt-123", 30*time.Second)

	assert.Equal(t, StateCompleted, outcome.State)
	assert.Equal(t, 4, outcome.Polls)
	assert.Len(t, clock.Sleeps(), 3)
}

func TestPoller_Cancelled(t *testing.T) {
	engine := comfytest.NewEngine(t)
	engine.Result = comfytest.NeverFinishes
	clock := comfytest.NewManualClock()
	client := newTestClient(t, engine.URL(), clock)
	poller := NewPoller(client, time.Second, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := poller.Wait(ctx, "prompt-123", time.Minute)
	assert.Equal(t, StateTimeout, outcome.State)
	assert.Contains(t, outcome.Error, "Execution cancelled")
	assert.Equal(t, 1, outcome.Polls)
}

type historyFunc func(ctx context.Context, id string) (History, error)

func (f historyFunc) GetHistory(ctx context.Context, id string) (History, error) {
	return f(ctx, id)
}

func TestPoller_StatusStrError(t *testing.T) {
	var h History
	require.NoError(t, json.Unmarshal([]byte(`{
		"p1": {
			"status": {
				"status_str": "error",
				"completed": false,
				"messages": [
					["execution_start", {"prompt_id": "p1"}],
					["execution_error", {"node_type": "KSampler", "exception_message": "bad sampler"}]
				]
			},
			"outputs": {}
		}
	}`), &h))

	poller := NewPoller(historyFunc(func(context.Context, string) (History, error) { return h, nil }),
		time.Second, comfytest.NewManualClock(), nil)

	outcome := poller.Wait(context.Background(), "p1", time.Minute)
	assert.Equal(t, StateExecutionError, outcome.State)
	assert.Equal(t, "KSampler: bad sampler", outcome.Error)
}

func TestExecutionMessage_Default(t *testing.T) {
	assert.Equal(t, "Unknown error", executionMessage(historyStatus{Str: "execution error"}))
}

func TestPoller_SourceErrorsUntilTimeout(t *testing.T) {
	calls := 0
	poller := NewPoller(historyFunc(func(context.Context, string) (History, error) {
		calls++
		return nil, errors.New("connection refused")
	}), 2*time.Second, comfytest.NewManualClock(), nil)

	outcome := poller.Wait(context.Background(), "p1", 10*time.Second)
	assert.Equal(t, StateTimeout, outcome.State)
	assert.Equal(t, 5, calls)
}

func TestPoller_CompletedWithMalformedOutputs(t *testing.T) {
	engine := comfytest.NewEngine(t)
	engine.Configure(func(e *comfytest.Engine) {
		e.Outputs["12"] = map[string]interface{}{"images": "not-a-list"}
		e.Outputs["13"] = "text"
		e.Outputs["14"] = map[string]interface{}{
			"images": []interface{}{
				float64(5),
				map[string]interface{}{"filename": "ComfyUI_00002_.png", "type": "output"},
			},
		}
		e.Outputs["15"] = map[string]interface{}{"text": []interface{}{"caption"}}
	})
	clock := comfytest.NewManualClock()
	client := newTestClient(t, engine.URL(), clock)
	poller := NewPoller(client, time.Second, clock, logger.NewTestLogger(t))

	outcome := poller.Wait(context.Background(), "prompt-123", 5*time.Second)

	require.Equal(t, StateCompleted, outcome.State)
	assert.Equal(t, 1, outcome.Polls)
	assert.Empty(t, outcome.Error)
	assert.Equal(t, []string{"14", "15", "9"}, outcome.Outputs.NodeIDs())
	assert.Equal(t, []ImageRef{{Filename: "ComfyUI_00002_.png", Type: "output"}}, outcome.Outputs["14"].Images)
	assert.Empty(t, outcome.Outputs["15"].Images)
}

func TestHistoryEntry_Outputs(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantNodes   []string
		wantSkipped []string
	}{
		{name: "missing", raw: ``, wantNodes: []string{}},
		{name: "null", raw: `null`, wantNodes: []string{}},
		{name: "not an object", raw: `"oops"`, wantNodes: []string{}, wantSkipped: []string{"outputs"}},
		{
			name:        "bad node and bad descriptor",
			raw:         `{"9": {"images": [{"filename": "a.png"}, {"filename": 7}]}, "12": {"images": "x"}}`,
			wantNodes:   []string{"9"},
			wantSkipped: []string{"12", "9/images[1]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := historyEntry{Outputs: json.RawMessage(tt.raw)}
			outputs, skipped := entry.outputs()
			assert.Equal(t, tt.wantNodes, outputs.NodeIDs())
			assert.Equal(t, tt.wantSkipped, skipped)
		})
	}
}
