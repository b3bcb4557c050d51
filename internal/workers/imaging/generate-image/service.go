package generateimage

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"comfyui-workers/internal/comfy"
	"comfyui-workers/internal/common/errors"
	"comfyui-workers/internal/common/logger"
	"comfyui-workers/internal/common/observability"
	"comfyui-workers/internal/workflow"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Submitter hands a workflow to the engine.
type Submitter interface {
	Submit(ctx context.Context, workflow interface{}) (string, error)
}

// Waiter blocks until a prompt reaches a terminal state.
type Waiter interface {
	Wait(ctx context.Context, promptID string, timeout time.Duration) comfy.Outcome
}

// Service runs one image request end to end. It holds no per-request state
// and may be shared across goroutines.
type Service struct {
	config    *Config
	templates *workflow.Store
	submitter Submitter
	waiter    Waiter
	images    comfy.ImageSource
	clock     comfy.Clock
	seed      workflow.SeedSource
	obs       *observability.Observability
	logger    logger.Logger
}

func NewService(deps ServiceDependencies, config *Config) *Service {
	clock := deps.Clock
	if clock == nil {
		clock = comfy.SystemClock()
	}
	obs := deps.Observability
	if obs == nil {
		obs = &observability.Observability{}
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Service{
		config:    config,
		templates: deps.Templates,
		submitter: deps.Submitter,
		waiter:    deps.Waiter,
		images:    deps.Images,
		clock:     clock,
		seed:      deps.Seed,
		obs:       obs,
		logger:    log,
	}
}

// Process validates a raw job event and runs it. The envelope is always
// non-nil; the error is the failure behind a FAILED envelope.
func (s *Service) Process(ctx context.Context, event interface{}) (*Response, error) {
	start := s.clock.Now()

	if raw, err := json.Marshal(event); err == nil {
		s.logger.Debug("request received", map[string]interface{}{"event": string(raw)})
	}

	input, err := ParseEvent(event)
	if err != nil {
		return s.fail(ctx, start, err)
	}

	output, err := s.run(ctx, start, input)
	if err != nil {
		return s.fail(ctx, start, err)
	}

	s.obs.RecordJobProcessed(ctx, StatusCompleted)
	s.obs.RecordJobDuration(ctx, s.clock.Now().Sub(start), StatusCompleted)
	s.obs.RecordImagesReturned(ctx, len(output.Images))
	return completed(output), nil
}

func (s *Service) run(ctx context.Context, start time.Time, input *Input) (*Output, error) {
	doc, err := s.chooseWorkflow(input)
	if err != nil {
		return nil, err
	}

	if len(input.Overrides) > 0 {
		s.logger.Info("applying overrides", map[string]interface{}{"overrides": input.Overrides})
		doc = workflow.ApplyOverrides(doc, input.Overrides, workflow.Options{
			NodeID: s.config.NodeID,
			Seed:   s.seed,
			Logger: s.logger,
		})
	}

	promptID, err := s.submit(ctx, doc)
	if err != nil {
		return nil, errors.NewSubmissionError(err)
	}
	log := s.logger.WithFields(map[string]interface{}{"promptId": promptID})

	outcome := s.wait(ctx, promptID)
	switch outcome.State {
	case comfy.StateCompleted:
	case comfy.StateExecutionError:
		return nil, errors.NewExecutionError(promptID, outcome.Error)
	default:
		return nil, errors.NewExecutionTimeoutError(promptID, outcome.Error)
	}

	extraction := s.extract(ctx, promptID, outcome.Outputs, log)
	if extraction.Failed > 0 {
		warning := errors.NewPartialExtractionWarning(promptID, extraction.Failed, extraction.Total())
		log.Warn(warning.Message, map[string]interface{}{
			"errorCode": string(warning.Code),
			"failed":    extraction.Failed,
			"total":     extraction.Total(),
		})
	}

	elapsed := s.clock.Now().Sub(start)
	log.Info("request completed", map[string]interface{}{
		"images":        len(extraction.Images),
		"executionTime": elapsed.String(),
		"polls":         outcome.Polls,
	})

	return &Output{
		Images:        extraction.Images,
		PromptID:      promptID,
		ExecutionTime: roundSeconds(elapsed),
	}, nil
}

func (s *Service) chooseWorkflow(input *Input) (workflow.Document, error) {
	if len(input.Workflow) > 0 {
		s.logger.Info("using provided workflow", nil)
		return input.Workflow.Clone(), nil
	}
	doc, ok := s.templates.Get()
	if !ok {
		return nil, errors.NewWorkflowUnavailableError(errString(s.templates.Err()))
	}
	s.logger.Info("using default workflow", map[string]interface{}{"source": s.templates.Source()})
	return doc, nil
}

func (s *Service) submit(ctx context.Context, doc workflow.Document) (string, error) {
	ctx, span := s.obs.StartSpan(ctx, "comfyui.submit")
	defer span.End()

	promptID, err := s.submitter.Submit(ctx, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission failed")
		return "", err
	}
	span.SetAttributes(attribute.String("comfyui.prompt_id", promptID))
	return promptID, nil
}

func (s *Service) wait(ctx context.Context, promptID string) comfy.Outcome {
	ctx, span := s.obs.StartSpan(ctx, "comfyui.wait", attribute.String("comfyui.prompt_id", promptID))
	defer span.End()

	outcome := s.waiter.Wait(ctx, promptID, s.config.JobTimeout)
	span.SetAttributes(
		attribute.String("comfyui.state", string(outcome.State)),
		attribute.Int("comfyui.polls", outcome.Polls),
	)
	if outcome.State != comfy.StateCompleted {
		span.SetStatus(codes.Error, outcome.Error)
	}
	return outcome
}

func (s *Service) extract(ctx context.Context, promptID string, outputs comfy.Outputs, log logger.Logger) comfy.Extraction {
	ctx, span := s.obs.StartSpan(ctx, "comfyui.extract", attribute.String("comfyui.prompt_id", promptID))
	defer span.End()

	extraction := comfy.ExtractImages(ctx, s.images, outputs, log)
	span.SetAttributes(
		attribute.Int("comfyui.images", len(extraction.Images)),
		attribute.Int("comfyui.image_failures", extraction.Failed),
	)
	return extraction
}

func (s *Service) fail(ctx context.Context, start time.Time, err error) (*Response, error) {
	stdErr := errors.Wrap(err)
	s.logger.Error("request failed", map[string]interface{}{
		"errorCode": string(stdErr.Code),
		"message":   stdErr.Message,
		"details":   stdErr.Details,
	})
	s.obs.RecordJobProcessed(ctx, StatusFailed)
	s.obs.RecordJobDuration(ctx, s.clock.Now().Sub(start), StatusFailed)
	return failed(stdErr.Message), stdErr
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
