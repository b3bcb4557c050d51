// Package queue runs jobs pushed onto a Redis list and stores each result
// under its own key.
package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"comfyui-workers/internal/common/database"
	"comfyui-workers/internal/common/errors"
	"comfyui-workers/internal/common/logger"
	"comfyui-workers/internal/common/metrics"

	"github.com/google/uuid"
)

// Store is the subset of database.RedisClient the consumer uses.
type Store interface {
	Pop(ctx context.Context, key string, timeout time.Duration) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

// ProcessFunc runs one job event and returns the value to store. A non-nil
// error marks the job as failed but the value is still stored.
type ProcessFunc func(ctx context.Context, event map[string]interface{}) (interface{}, error)

type Options struct {
	// TaskType labels metrics and logs.
	TaskType     string
	Key          string
	ResultPrefix string
	ResultTTL    time.Duration
	PopTimeout   time.Duration
	ErrorBackoff time.Duration
}

type Consumer struct {
	store   Store
	process ProcessFunc
	opts    Options
	logger  logger.Logger
}

func NewConsumer(store Store, process ProcessFunc, opts Options, log logger.Logger) *Consumer {
	if opts.Key == "" {
		opts.Key = "imagegen:jobs"
	}
	if opts.ResultPrefix == "" {
		opts.ResultPrefix = "imagegen:result:"
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 10 * time.Minute
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = 5 * time.Second
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Consumer{
		store:   store,
		process: process,
		opts:    opts,
		logger:  log.WithFields(map[string]interface{}{"queue": opts.Key}),
	}
}

// Run consumes jobs one at a time until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("queue consumer started", map[string]interface{}{
		"resultPrefix": c.opts.ResultPrefix,
		"resultTTL":    c.opts.ResultTTL.String(),
	})

	for {
		if ctx.Err() != nil {
			c.logger.Info("queue consumer stopped", nil)
			return nil
		}

		payload, err := c.store.Pop(ctx, c.opts.Key, c.opts.PopTimeout)
		if stderrors.Is(err, database.ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("error reading from queue", map[string]interface{}{"error": err.Error()})
			select {
			case <-ctx.Done():
			case <-time.After(c.opts.ErrorBackoff):
			}
			continue
		}

		if _, err := c.Handle(ctx, payload); err != nil {
			c.logger.Warn("job not stored", map[string]interface{}{"error": err.Error()})
		}
	}
}

// Handle runs one raw payload and stores its result. It returns the job id.
func (c *Consumer) Handle(ctx context.Context, payload string) (string, error) {
	var event map[string]interface{}
	err := json.Unmarshal([]byte(payload), &event)
	if err == nil && event == nil {
		err = stderrors.New("job payload is not an object")
	}
	if err != nil {
		parseErr := errors.NewInputParsingError(err)
		metrics.WorkerJobsFailed.WithLabelValues(c.opts.TaskType, string(parseErr.Code)).Inc()
		c.logger.Error("dropping malformed job", map[string]interface{}{
			"payloadBytes": len(payload),
			"error":        parseErr.Error(),
		})
		return "", parseErr
	}

	id := jobID(event["id"])
	delete(event, "id")
	log := c.logger.WithFields(map[string]interface{}{"jobId": id})
	log.Info("processing queued job", nil)

	metrics.WorkerJobsActive.WithLabelValues(c.opts.TaskType).Inc()
	start := time.Now()
	result, procErr := c.process(ctx, event)
	metrics.WorkerJobsActive.WithLabelValues(c.opts.TaskType).Dec()
	metrics.WorkerJobDuration.WithLabelValues(c.opts.TaskType).Observe(time.Since(start).Seconds())

	if procErr != nil {
		metrics.WorkerJobsFailed.WithLabelValues(c.opts.TaskType, string(errors.Wrap(procErr).Code)).Inc()
	} else {
		metrics.WorkerJobsCompleted.WithLabelValues(c.opts.TaskType).Inc()
	}

	body, err := json.Marshal(result)
	if err != nil {
		return id, fmt.Errorf("encode result for %s: %w", id, err)
	}

	// a cancelled job still gets its result written
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	key := c.opts.ResultPrefix + id
	if err := c.store.Set(storeCtx, key, body, c.opts.ResultTTL); err != nil {
		log.Error("error storing result", map[string]interface{}{"key": key, "error": err.Error()})
		return id, fmt.Errorf("store result %s: %w", key, err)
	}

	log.Info("finished queued job", map[string]interface{}{
		"key":    key,
		"failed": procErr != nil,
	})
	return id, nil
}

func jobID(v interface{}) string {
	switch id := v.(type) {
	case string:
		if id != "" {
			return id
		}
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	}
	return uuid.NewString()
}
