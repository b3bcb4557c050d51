package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"comfyui-workers/internal/common/logger"
	"comfyui-workers/internal/common/metrics"
)

const (
	// errorStatusStr is the status.str value older ComfyUI builds report on failure.
	errorStatusStr = "execution error"
	unknownError   = "Unknown error"
)

// HistorySource is the part of Client the poller needs.
type HistorySource interface {
	GetHistory(ctx context.Context, promptID string) (History, error)
}

type Poller struct {
	source   HistorySource
	interval time.Duration
	clock    Clock
	logger   logger.Logger
}

func NewPoller(source HistorySource, interval time.Duration, clock Clock, log logger.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Poller{source: source, interval: interval, clock: clock, logger: log}
}

// Wait polls the history of promptID until it is completed, failed, or
// timeout has elapsed. Failed history requests count as pending.
func (p *Poller) Wait(ctx context.Context, promptID string, timeout time.Duration) Outcome {
	log := p.logger.WithFields(map[string]interface{}{"promptId": promptID})
	log.Info("waiting for prompt", map[string]interface{}{
		"timeout":  timeout.String(),
		"interval": p.interval.String(),
	})

	start := p.clock.Now()
	polls := 0

	for p.clock.Now().Sub(start) < timeout {
		polls++
		state, outcome := p.poll(ctx, promptID, log)
		metrics.EngineHistoryPolls.WithLabelValues(string(state)).Inc()
		if state.Terminal() {
			outcome.Polls = polls
			return outcome
		}

		if err := p.clock.Sleep(ctx, p.interval); err != nil {
			log.Warn("wait cancelled", map[string]interface{}{"error": err.Error(), "polls": polls})
			return Outcome{
				State: StateTimeout,
				Error: fmt.Sprintf("Execution cancelled after %s seconds: %v", seconds(p.clock.Now().Sub(start)), err),
				Polls: polls,
			}
		}
	}

	log.Error("prompt timed out", map[string]interface{}{"polls": polls})
	return Outcome{
		State: StateTimeout,
		Error: fmt.Sprintf("Execution timed out after %s seconds", seconds(timeout)),
		Polls: polls,
	}
}

func (p *Poller) poll(ctx context.Context, promptID string, log logger.Logger) (State, Outcome) {
	history, err := p.source.GetHistory(ctx, promptID)
	if err != nil {
		log.Warn("history request failed, retrying", map[string]interface{}{"error": err.Error()})
		return StatePending, Outcome{}
	}

	entry, ok := history[promptID]
	if !ok {
		return StatePending, Outcome{}
	}

	switch {
	case entry.Status.Completed:
		outputs, skipped := entry.outputs()
		if len(skipped) > 0 {
			log.Warn("skipping malformed output entries", map[string]interface{}{"entries": skipped})
		}
		log.Info("prompt completed", map[string]interface{}{"outputs": len(outputs)})
		return StateCompleted, Outcome{State: StateCompleted, Outputs: outputs}
	case entry.Status.Str == errorStatusStr || entry.Status.StatusStr == "error":
		msg := executionMessage(entry.Status)
		log.Error("prompt failed", map[string]interface{}{"engineError": msg})
		return StateExecutionError, Outcome{State: StateExecutionError, Error: msg}
	}
	return StatePending, Outcome{}
}

// executionMessage prefers status.exception, then the execution_error event
// in status.messages.
func executionMessage(status historyStatus) string {
	if status.Exception != "" {
		return status.Exception
	}
	for _, raw := range status.Messages {
		var event []json.RawMessage
		if err := json.Unmarshal(raw, &event); err != nil || len(event) < 2 {
			continue
		}
		var name string
		if err := json.Unmarshal(event[0], &name); err != nil || name != "execution_error" {
			continue
		}
		var detail struct {
			ExceptionMessage string `json:"exception_message"`
			NodeType         string `json:"node_type"`
		}
		if err := json.Unmarshal(event[1], &detail); err == nil && detail.ExceptionMessage != "" {
			if detail.NodeType != "" {
				return fmt.Sprintf("%s: %s", detail.NodeType, detail.ExceptionMessage)
			}
			return detail.ExceptionMessage
		}
	}
	return unknownError
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
