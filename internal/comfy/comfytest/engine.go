package comfytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// Result selects how the fake engine finishes a prompt.
type Result int

const (
	Completes Result = iota
	Fails
	NeverFinishes
)

// Engine is an httptest-backed stand-in for the ComfyUI HTTP API.
type Engine struct {
	Server *httptest.Server

	mu sync.Mutex

	PromptID string
	// SubmitFailures makes the first N POST /prompt calls return 500.
	SubmitFailures int
	// SubmitReply, when set, is written verbatim with 200 instead of a prompt id.
	SubmitReply string
	// PendingPolls is how many history polls see the prompt as unknown.
	PendingPolls int
	// HistoryFailures makes the first N history polls return 500.
	HistoryFailures int
	Result          Result
	ErrorMessage    string
	Outputs         map[string]interface{}
	// Images holds /view payloads by filename; unknown names return 404.
	Images map[string][]byte

	submissions  []map[string]interface{}
	historyCalls int
	viewCalls    []string
}

// NewEngine starts a fake engine that completes with one image.
func NewEngine(t testing.TB) *Engine {
	e := &Engine{
		PromptID: "prompt-123",
		Result:   Completes,
		Outputs: map[string]interface{}{
			"9": map[string]interface{}{
				"images": []interface{}{
					map[string]interface{}{"filename": "ComfyUI_00001_.png", "subfolder": "", "type": "output"},
				},
			},
		},
		Images: map[string][]byte{"ComfyUI_00001_.png": []byte("\x89PNG fake")},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", e.handlePrompt)
	mux.HandleFunc("/history/", e.handleHistory)
	mux.HandleFunc("/view", e.handleView)
	mux.HandleFunc("/system_stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"system": map[string]interface{}{"os": "posix", "comfyui_version": "0.3.40"}})
	})

	e.Server = httptest.NewServer(mux)
	t.Cleanup(e.Server.Close)
	return e
}

func (e *Engine) URL() string {
	return e.Server.URL
}

// Configure runs fn under the engine lock.
func (e *Engine) Configure(fn func(e *Engine)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
}

func (e *Engine) handlePrompt(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	e.submissions = append(e.submissions, body)

	if len(e.submissions) <= e.SubmitFailures {
		http.Error(w, "engine busy", http.StatusInternalServerError)
		return
	}
	if e.SubmitReply != "" {
		w.Write([]byte(e.SubmitReply))
		return
	}
	writeJSON(w, map[string]interface{}{"prompt_id": e.PromptID, "number": len(e.submissions), "node_errors": map[string]interface{}{}})
}

func (e *Engine) handleHistory(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.historyCalls++
	id := strings.TrimPrefix(r.URL.Path, "/history/")

	if e.historyCalls <= e.HistoryFailures {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	if id != e.PromptID || e.historyCalls <= e.HistoryFailures+e.PendingPolls || e.Result == NeverFinishes {
		writeJSON(w, map[string]interface{}{})
		return
	}

	var entry map[string]interface{}
	switch e.Result {
	case Fails:
		entry = map[string]interface{}{
			"status":  map[string]interface{}{"str": "execution error", "completed": false, "exception": e.ErrorMessage},
			"outputs": map[string]interface{}{},
		}
	default:
		entry = map[string]interface{}{
			"status":  map[string]interface{}{"status_str": "success", "completed": true},
			"outputs": e.Outputs,
		}
	}
	writeJSON(w, map[string]interface{}{id: entry})
}

func (e *Engine) handleView(w http.ResponseWriter, r *http.Request) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := r.URL.Query().Get("filename")
	e.viewCalls = append(e.viewCalls, r.URL.RawQuery)
	data, ok := e.Images[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

// Submissions returns the decoded POST /prompt bodies.
func (e *Engine) Submissions() []map[string]interface{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]map[string]interface{}(nil), e.submissions...)
}

// LastWorkflow returns the "prompt" field of the latest submission.
func (e *Engine) LastWorkflow() map[string]interface{} {
	subs := e.Submissions()
	if len(subs) == 0 {
		return nil
	}
	wf, _ := subs[len(subs)-1]["prompt"].(map[string]interface{})
	return wf
}

func (e *Engine) HistoryCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.historyCalls
}

// ViewQueries returns the raw query strings of /view calls.
func (e *Engine) ViewQueries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.viewCalls...)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
