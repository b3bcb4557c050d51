// internal/common/config/config.go
package config

// Config is the main application configuration struct.
type Config struct {
	App     AppConfig               `mapstructure:"app"`
	Camunda CamundaConfig           `mapstructure:"camunda"`
	Engine  EngineConfig            `mapstructure:"engine"`
	Queue   QueueConfig             `mapstructure:"queue"`
	Redis   RedisConfig             `mapstructure:"redis"`
	Workers map[string]WorkerConfig `mapstructure:"workers"`
	Logging LoggingConfig           `mapstructure:"logging"`
	Metrics MetricsConfig           `mapstructure:"metrics"`
	Tracing TracingConfig           `mapstructure:"tracing"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BrokerAddress  string `mapstructure:"broker_address"`
	Plaintext      bool   `mapstructure:"plaintext"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

// EngineConfig describes the ComfyUI instance jobs are rendered on.
type EngineConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	WorkflowFile    string `mapstructure:"workflow_file"`
	ParameterNodeID string `mapstructure:"parameter_node_id"`
	MaxRetries      int    `mapstructure:"max_retries"`
	RetryBaseDelay  int    `mapstructure:"retry_base_delay"` // milliseconds
	RetryMaxDelay   int    `mapstructure:"retry_max_delay"`  // milliseconds
	PollInterval    int    `mapstructure:"poll_interval"`    // milliseconds
	JobTimeout      int    `mapstructure:"job_timeout"`      // seconds
	SubmitTimeout   int    `mapstructure:"submit_timeout"`   // milliseconds
	HistoryTimeout  int    `mapstructure:"history_timeout"`  // milliseconds
	ViewTimeout     int    `mapstructure:"view_timeout"`     // milliseconds
}

// QueueConfig controls the Redis list intake.
type QueueConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Key          string `mapstructure:"key"`
	ResultPrefix string `mapstructure:"result_prefix"`
	ResultTTL    int    `mapstructure:"result_ttl"`  // seconds
	PopTimeout   int    `mapstructure:"pop_timeout"` // milliseconds
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// TracingConfig enables span export. An empty endpoint keeps the no-op tracer.
type TracingConfig struct {
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}
