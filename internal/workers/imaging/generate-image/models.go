package generateimage

import (
	"comfyui-workers/internal/comfy"
	"comfyui-workers/internal/common/logger"
	"comfyui-workers/internal/common/observability"
	"comfyui-workers/internal/workflow"
)

const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Input is the validated "input" field of a job.
type Input struct {
	Workflow  workflow.Document      `json:"workflow,omitempty"`
	Overrides map[string]interface{} `json:"overrides,omitempty"`
}

type Output struct {
	Images        []comfy.Image `json:"images"`
	PromptID      string        `json:"prompt_id"`
	ExecutionTime float64       `json:"execution_time"`
}

// Response is the envelope returned for every job.
type Response struct {
	Output *Output `json:"output"`
	Error  *string `json:"error"`
	Status string  `json:"status"`
}

func completed(out *Output) *Response {
	return &Response{Output: out, Status: StatusCompleted}
}

func failed(msg string) *Response {
	return &Response{Error: &msg, Status: StatusFailed}
}

// Variables renders the envelope as job variables.
func (r *Response) Variables() map[string]interface{} {
	vars := map[string]interface{}{
		"output": nil,
		"error":  nil,
		"status": r.Status,
	}
	if r.Output != nil {
		vars["output"] = r.Output
	}
	if r.Error != nil {
		vars["error"] = *r.Error
	}
	return vars
}

type ServiceDependencies struct {
	Templates     *workflow.Store
	Submitter     Submitter
	Waiter        Waiter
	Images        comfy.ImageSource
	Clock         comfy.Clock
	Seed          workflow.SeedSource
	Observability *observability.Observability
	Logger        logger.Logger
}
