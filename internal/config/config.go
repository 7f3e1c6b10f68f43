package config

import (
	"time"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Validation ValidationConfig `mapstructure:"validation"`
	Phases     PhasesConfig     `mapstructure:"phases"`
	Boundary   BoundaryConfig   `mapstructure:"boundary"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	State      StateConfig      `mapstructure:"state"`
	Server     ServerConfig     `mapstructure:"server"`
	Report     ReportConfig     `mapstructure:"report"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// WorkflowConfig configures routing and enforcement.
type WorkflowConfig struct {
	MaxIterations          int           `mapstructure:"max_iterations"`
	MaxRetriesPerOperation int           `mapstructure:"max_retries_per_operation"`
	ConfidenceThreshold    float64       `mapstructure:"confidence_threshold"`
	PhaseTimeout           string        `mapstructure:"phase_timeout"`
	Timeout                string        `mapstructure:"timeout"`
	Platforms              []string      `mapstructure:"platforms"`
	Routing                RoutingConfig `mapstructure:"routing"`
}

// RoutingConfig holds the phase sequence per intent type.
type RoutingConfig struct {
	Analysis []string `mapstructure:"analysis"`
	Action   []string `mapstructure:"action"`
	Hybrid   []string `mapstructure:"hybrid"`
}

// Table converts the configured sequences into a routing table.
func (r RoutingConfig) Table() core.RoutingTable {
	conv := func(in []string) []core.Phase {
		out := make([]core.Phase, len(in))
		for i, p := range in {
			out[i] = core.Phase(p)
		}
		return out
	}
	return core.RoutingTable{
		core.IntentAnalysis: conv(r.Analysis),
		core.IntentAction:   conv(r.Action),
		core.IntentHybrid:   conv(r.Hybrid),
	}
}

// ValidationConfig configures the validation gate.
type ValidationConfig struct {
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// PhasesConfig configures phase executors.
type PhasesConfig struct {
	FanoutLimit     int    `mapstructure:"fanout_limit"`
	MicroRetries    int    `mapstructure:"micro_retries"`
	MicroRetryDelay string `mapstructure:"micro_retry_delay"`
	SearchResults   int    `mapstructure:"search_results"`
	SimilarityTopK  int    `mapstructure:"similarity_top_k"`
	CreativeCount   int    `mapstructure:"creative_variants"`
}

// BoundaryConfig configures the tool invocation boundary.
type BoundaryConfig struct {
	MaxConcurrency   int                        `mapstructure:"max_concurrency"`
	CallTimeout      string                     `mapstructure:"call_timeout"`
	RateLimitRetries int                        `mapstructure:"rate_limit_retries"`
	BackoffBase      string                     `mapstructure:"backoff_base"`
	BackoffMax       string                     `mapstructure:"backoff_max"`
	RateLimits       map[string]RateLimitConfig `mapstructure:"rate_limits"`
}

// RateLimitConfig is a token bucket for one tool. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// LLMConfig configures the OpenAI-compatible chat backend that serves the
// reasoning and generation tools.
type LLMConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	APIKey          string `mapstructure:"api_key"`
	Model           string `mapstructure:"model"`
	GenerationModel string `mapstructure:"generation_model"`
	MaxTokens       int    `mapstructure:"max_tokens"`
}

// ToolsConfig configures the JSON-over-HTTP backend that serves data tools.
type ToolsConfig struct {
	BaseURL   string            `mapstructure:"base_url"`
	APIKey    string            `mapstructure:"api_key"`
	Endpoints map[string]string `mapstructure:"endpoints"`
}

// StateConfig configures workflow persistence.
type StateConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	DSN     string `mapstructure:"dsn"`
}

// ServerConfig configures the HTTP submission interface.
type ServerConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// ReportConfig configures rendered report output.
type ReportConfig struct {
	Dir string `mapstructure:"dir"`
}

// TelemetryConfig configures OTLP export of traces and metrics.
type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	Endpoint       string  `mapstructure:"endpoint"`
	Insecure       bool    `mapstructure:"insecure"`
	SampleRate     float64 `mapstructure:"sample_rate"`
	ExportInterval string  `mapstructure:"export_interval"`
}

// Duration parses s, falling back to def when s is empty or invalid.
// Invalid values are rejected by the validator before this is reached.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
