package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	httpclient "comfyui-workers/internal/common/http"
	"comfyui-workers/internal/common/logger"
	"comfyui-workers/internal/common/metrics"

	"github.com/google/uuid"
)

var (
	ErrSubmissionFailed = errors.New("workflow submission failed")
	ErrInvalidResponse  = errors.New("invalid response from ComfyUI")
	ErrMissingPromptID  = errors.New("response has no prompt_id")
)

type Options struct {
	BaseURL        string
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	SubmitTimeout  time.Duration
	HistoryTimeout time.Duration
	ViewTimeout    time.Duration
	// MaxResponseBytes caps a buffered reply, images included.
	MaxResponseBytes int64
	ClientID         string
	Clock            Clock
	Logger           logger.Logger
}

func DefaultOptions() Options {
	return Options{
		BaseURL:        "http://127.0.0.1:8188",
		MaxAttempts:    3,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  10 * time.Second,
		SubmitTimeout:  30 * time.Second,
		HistoryTimeout: 10 * time.Second,
		ViewTimeout:    30 * time.Second,
	}
}

// Client talks to one ComfyUI instance.
type Client struct {
	http     *httpclient.Client
	opts     Options
	clock    Clock
	logger   logger.Logger
	clientID string
}

// withDefaults fills unset retry and timeout settings from DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.BaseURL == "" {
		o.BaseURL = def.BaseURL
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = def.RetryBaseDelay
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = def.RetryMaxDelay
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = def.SubmitTimeout
	}
	if o.HistoryTimeout <= 0 {
		o.HistoryTimeout = def.HistoryTimeout
	}
	if o.ViewTimeout <= 0 {
		o.ViewTimeout = def.ViewTimeout
	}
	return o
}

// backoff is the pause after the given zero-based failed attempt.
func (o Options) backoff(attempt int) time.Duration {
	delay := o.RetryBaseDelay * time.Duration(1<<attempt)
	if delay > o.RetryMaxDelay {
		delay = o.RetryMaxDelay
	}
	return delay
}

// SubmitBudget is the longest Submit can block: every attempt running into
// its timeout plus the pauses between attempts.
func (o Options) SubmitBudget() time.Duration {
	o = o.withDefaults()
	budget := time.Duration(o.MaxAttempts) * o.SubmitTimeout
	for attempt := 0; attempt < o.MaxAttempts-1; attempt++ {
		budget += o.backoff(attempt)
	}
	return budget
}

func NewClient(opts Options) *Client {
	opts = opts.withDefaults()
	if opts.ClientID == "" {
		opts.ClientID = uuid.NewString()
	}

	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Client{
		// every call carries its own deadline
		http:     httpclient.NewClient(httpclient.Options{BaseURL: opts.BaseURL, MaxBodyBytes: opts.MaxResponseBytes}),
		opts:     opts,
		clock:    clock,
		logger:   log.WithFields(map[string]interface{}{"engine": opts.BaseURL}),
		clientID: opts.ClientID,
	}
}

func (c *Client) BaseURL() string {
	return c.http.BaseURL()
}

// Submit posts workflow to /prompt and returns the engine's prompt id.
// Transport errors and non-2xx replies are retried with exponential backoff;
// an unparseable reply or one without prompt_id fails immediately.
func (c *Client) Submit(ctx context.Context, workflow interface{}) (string, error) {
	body := promptRequest{Prompt: workflow, ClientID: c.clientID}

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		resp, err := c.http.PostJSON(ctx, "/prompt", body, c.opts.SubmitTimeout)
		if err == nil {
			metrics.EngineSubmitAttempts.WithLabelValues("accepted").Inc()
			return c.parsePromptID(resp.Body)
		}

		metrics.EngineSubmitAttempts.WithLabelValues("error").Inc()
		lastErr = err
		c.logger.Warn("submit attempt failed", map[string]interface{}{
			"attempt":     attempt + 1,
			"maxAttempts": c.opts.MaxAttempts,
			"error":       err.Error(),
		})

		if attempt == c.opts.MaxAttempts-1 {
			break
		}
		if err := c.clock.Sleep(ctx, c.opts.backoff(attempt)); err != nil {
			return "", fmt.Errorf("%w: cancelled after %d attempt(s): %w", ErrSubmissionFailed, attempt+1, err)
		}
	}

	c.logger.Error("giving up on submission", map[string]interface{}{
		"attempts": c.opts.MaxAttempts,
		"error":    lastErr.Error(),
	})
	return "", fmt.Errorf("%w after %d attempts: %w", ErrSubmissionFailed, c.opts.MaxAttempts, lastErr)
}

func (c *Client) parsePromptID(body []byte) (string, error) {
	var out promptResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: %w: %v", ErrSubmissionFailed, ErrInvalidResponse, err)
	}
	if out.PromptID == "" {
		return "", fmt.Errorf("%w: %w", ErrSubmissionFailed, ErrMissingPromptID)
	}
	c.logger.Info("workflow queued", map[string]interface{}{
		"promptId": out.PromptID,
		"number":   out.Number,
	})
	return out.PromptID, nil
}

// GetHistory fetches /history/{id}. An id unknown to the engine yields an
// empty History, not an error.
func (c *Client) GetHistory(ctx context.Context, promptID string) (History, error) {
	resp, err := c.http.Get(ctx, "/history/"+url.PathEscape(promptID), nil, c.opts.HistoryTimeout)
	if err != nil {
		return nil, err
	}
	var h History
	if err := json.Unmarshal(resp.Body, &h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return h, nil
}

// GetImage fetches the raw bytes of one output file from /view.
func (c *Client) GetImage(ctx context.Context, ref ImageRef) ([]byte, error) {
	query := url.Values{}
	query.Set("filename", ref.Filename)
	query.Set("subfolder", ref.Subfolder)
	query.Set("type", ref.Type)

	resp, err := c.http.Get(ctx, "/view", query, c.opts.ViewTimeout)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// SystemStats probes /system_stats; used for readiness.
func (c *Client) SystemStats(ctx context.Context) (map[string]interface{}, error) {
	resp, err := c.http.Get(ctx, "/system_stats", nil, c.opts.HistoryTimeout)
	if err != nil {
		return nil, fmt.Errorf("comfyui health check failed: %w", err)
	}
	var stats map[string]interface{}
	if err := json.Unmarshal(resp.Body, &stats); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return stats, nil
}
