package generateimage

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"comfyui-workers/internal/common/camunda"
	"comfyui-workers/internal/common/config"
	"comfyui-workers/internal/common/errors"
	"comfyui-workers/internal/common/logger"
	"comfyui-workers/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "image.generate"
	// ConfigKey is the entry under workers: in the application config.
	ConfigKey = "image-generate"
)

type Handler struct {
	config       *Config
	logger       logger.Logger
	camunda      *camunda.Client
	service      *Service
	errorHandler *errors.ErrorHandler
	baseCtx      context.Context
	jobWorker    *camunda.CamundaWorker
}

type HandlerOptions struct {
	AppConfig    *config.Config
	Camunda      *camunda.Client
	CustomConfig *Config
	Service      *Service
	Logger       logger.Logger
	// Context is the parent of every job context; cancelling it aborts
	// in-flight polls.
	Context context.Context
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	workerConfig := ConfigFromApp(opts.AppConfig, opts.CustomConfig)
	if err := workerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", ConfigKey, err)
	}
	if opts.Service == nil {
		return nil, fmt.Errorf("service is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	log = log.WithFields(map[string]interface{}{"worker": TaskType})

	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	return &Handler{
		config:       workerConfig,
		logger:       log,
		camunda:      opts.Camunda,
		service:      opts.Service,
		errorHandler: errors.NewErrorHandler(log),
		baseCtx:      baseCtx,
	}, nil
}

// Handle processes one activated job and reports the envelope back to the
// broker. The returned error only covers reporting failures.
func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(h.baseCtx, h.config.Timeout)
	defer cancel()

	h.logger.Info("processing image generation job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	resp, jobErr := h.Run(ctx, job)
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())

	if jobErr != nil {
		stdErr := errors.Wrap(jobErr)
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
		// reporting uses a fresh context so a timed-out job can still be failed
		reportCtx, reportCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer reportCancel()
		h.errorHandler.HandleJobError(reportCtx, client, job, stdErr, resp.Variables())
		return nil
	}

	if err := h.completeJob(ctx, client, job, resp); err != nil {
		return err
	}
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	return nil
}

// Run decodes the job variables and processes them.
func (h *Handler) Run(ctx context.Context, job entities.Job) (*Response, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		parseErr := errors.NewInputParsingError(err)
		return failed(parseErr.Message), parseErr
	}
	return h.service.Process(ctx, variables)
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, resp *Response) error {
	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromMap(resp.Variables())
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return fmt.Errorf("create complete command: %w", err)
	}

	send := func(ctx context.Context) error {
		_, err := request.Send(ctx)
		return err
	}
	if h.camunda != nil {
		err = h.camunda.ExecuteWithRetry(ctx, send, "complete-job")
	} else {
		err = send(ctx)
	}
	if err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return fmt.Errorf("complete job %d: %w", job.GetKey(), err)
	}

	fields := map[string]interface{}{"jobKey": job.GetKey()}
	if resp.Output != nil {
		fields["promptId"] = resp.Output.PromptID
		fields["images"] = len(resp.Output.Images)
	}
	h.logger.Info("completed image generation job", fields)
	return nil
}

// Register opens the Zeebe job worker.
func (h *Handler) Register() error {
	if !h.config.Enabled {
		h.logger.Info("worker is disabled, skipping registration", nil)
		return nil
	}
	if h.camunda == nil {
		return stderrors.New("camunda client is required to register the worker")
	}

	h.jobWorker = camunda.NewWorker(h.camunda.GetClient(), camunda.WorkerOptions{
		TaskType:      TaskType,
		MaxJobsActive: h.config.MaxJobsActive,
		Timeout:       h.config.Timeout,
	}, h, h.logger)
	return nil
}

func (h *Handler) Close() {
	if h.jobWorker != nil {
		h.jobWorker.Stop()
		h.jobWorker = nil
	}
}

func (h *Handler) HealthCheck(ctx context.Context) error {
	if h.camunda == nil {
		return nil
	}
	if err := h.camunda.HealthCheck(ctx); err != nil {
		return fmt.Errorf("camunda health check failed: %w", err)
	}
	return nil
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) IsEnabled() bool {
	return h.config.Enabled
}

func (h *Handler) GetConfig() *Config {
	return h.config
}
