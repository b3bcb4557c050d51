package generateimage

import (
	"fmt"
	"time"

	"comfyui-workers/internal/comfy"
	"comfyui-workers/internal/common/config"
	"comfyui-workers/internal/workflow"
)

type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxJobsActive int           `mapstructure:"max_jobs_active"`
	Timeout       time.Duration `mapstructure:"timeout"`
	// JobTimeout bounds the wait for the engine to finish one prompt.
	JobTimeout time.Duration `mapstructure:"job_timeout"`
	// SubmitBudget is the worst case for submission with all retries.
	SubmitBudget time.Duration `mapstructure:"-"`
	NodeID       string        `mapstructure:"parameter_node_id"`
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 1,
		Timeout:       420 * time.Second,
		JobTimeout:    300 * time.Second,
		SubmitBudget:  comfy.DefaultOptions().SubmitBudget(),
		NodeID:        workflow.DefaultNodeID,
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxJobsActive <= 0 {
		return fmt.Errorf("max_jobs_active must be positive")
	}
	if c.JobTimeout <= 0 {
		return fmt.Errorf("job_timeout must be positive")
	}
	if c.SubmitBudget < 0 {
		return fmt.Errorf("submit budget must not be negative")
	}
	// the lease has to outlast a slow submission followed by a full wait
	if c.Timeout <= c.JobTimeout+c.SubmitBudget {
		return fmt.Errorf("timeout (%s) must exceed job_timeout (%s) plus the submit budget (%s)",
			c.Timeout, c.JobTimeout, c.SubmitBudget)
	}
	if c.NodeID == "" {
		return fmt.Errorf("parameter_node_id is required")
	}
	return nil
}

// ConfigFromApp builds the worker config from the application config.
// custom, when set, wins.
func ConfigFromApp(appConfig *config.Config, custom *Config) *Config {
	if custom != nil {
		return custom
	}

	cfg := DefaultConfig()
	if appConfig == nil {
		return cfg
	}

	if appConfig.Engine.JobTimeout > 0 {
		cfg.JobTimeout = time.Duration(appConfig.Engine.JobTimeout) * time.Second
	}
	if appConfig.Engine.ParameterNodeID != "" {
		cfg.NodeID = appConfig.Engine.ParameterNodeID
	}
	cfg.SubmitBudget = comfy.Options{
		MaxAttempts:    appConfig.Engine.MaxRetries,
		RetryBaseDelay: config.GetDuration(appConfig.Engine.RetryBaseDelay),
		RetryMaxDelay:  config.GetDuration(appConfig.Engine.RetryMaxDelay),
		SubmitTimeout:  config.GetDuration(appConfig.Engine.SubmitTimeout),
	}.SubmitBudget()

	// unlisted workers fall back to the camunda section
	workerCfg := config.GetWorkerConfig(appConfig, ConfigKey)
	cfg.Enabled = workerCfg.Enabled
	if workerCfg.MaxJobsActive > 0 {
		cfg.MaxJobsActive = workerCfg.MaxJobsActive
	}
	if workerCfg.Timeout > 0 {
		cfg.Timeout = config.GetDuration(workerCfg.Timeout)
	}
	return cfg
}
