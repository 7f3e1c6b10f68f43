package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateWorkflow(&cfg.Workflow)
	v.validateValidation(&cfg.Validation)
	v.validatePhases(&cfg.Phases)
	v.validateBoundary(&cfg.Boundary)
	v.validateLLM(&cfg.LLM)
	v.validateTools(&cfg.Tools)
	v.validateState(&cfg.State)
	v.validateServer(&cfg.Server)
	v.validateTelemetry(&cfg.Telemetry)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateWorkflow(cfg *WorkflowConfig) {
	if cfg.MaxIterations < 1 {
		v.addError("workflow.max_iterations", cfg.MaxIterations, "must be at least 1")
	}
	if cfg.MaxRetriesPerOperation < 0 || cfg.MaxRetriesPerOperation > 10 {
		v.addError("workflow.max_retries_per_operation", cfg.MaxRetriesPerOperation, "must be between 0 and 10")
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		v.addError("workflow.confidence_threshold", cfg.ConfidenceThreshold, "must be between 0 and 1")
	}
	v.validateDuration("workflow.phase_timeout", cfg.PhaseTimeout, false)
	v.validateDuration("workflow.timeout", cfg.Timeout, false)

	for _, p := range cfg.Platforms {
		if !core.IsValidPlatform(p) {
			v.addError("workflow.platforms", p, "unknown platform")
		}
	}

	if err := cfg.Routing.Table().Validate(); err != nil {
		v.addError("workflow.routing", err.Error(), "invalid phase sequence")
	}
}

func (v *Validator) validateValidation(cfg *ValidationConfig) {
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		v.addError("validation.min_confidence", cfg.MinConfidence, "must be between 0 and 1")
	}
}

func (v *Validator) validatePhases(cfg *PhasesConfig) {
	if cfg.FanoutLimit < 1 {
		v.addError("phases.fanout_limit", cfg.FanoutLimit, "must be at least 1")
	}
	if cfg.MicroRetries < 0 || cfg.MicroRetries > 5 {
		v.addError("phases.micro_retries", cfg.MicroRetries, "must be between 0 and 5")
	}
	v.validateDuration("phases.micro_retry_delay", cfg.MicroRetryDelay, true)
	if cfg.SearchResults < 1 {
		v.addError("phases.search_results", cfg.SearchResults, "must be at least 1")
	}
	if cfg.SimilarityTopK < 1 {
		v.addError("phases.similarity_top_k", cfg.SimilarityTopK, "must be at least 1")
	}
	if cfg.CreativeCount < 1 || cfg.CreativeCount > 10 {
		v.addError("phases.creative_variants", cfg.CreativeCount, "must be between 1 and 10")
	}
}

func (v *Validator) validateBoundary(cfg *BoundaryConfig) {
	if cfg.MaxConcurrency < 1 {
		v.addError("boundary.max_concurrency", cfg.MaxConcurrency, "must be at least 1")
	}
	if cfg.RateLimitRetries < 0 {
		v.addError("boundary.rate_limit_retries", cfg.RateLimitRetries, "must be non-negative")
	}
	v.validateDuration("boundary.call_timeout", cfg.CallTimeout, false)
	v.validateDuration("boundary.backoff_base", cfg.BackoffBase, true)
	v.validateDuration("boundary.backoff_max", cfg.BackoffMax, true)

	known := make(map[string]bool)
	for _, t := range core.AllTools() {
		known[string(t)] = true
	}
	for tool, rl := range cfg.RateLimits {
		if !known[tool] {
			v.addError("boundary.rate_limits", tool, "unknown tool")
			continue
		}
		if rl.RPS > 0 && rl.Burst < 1 {
			v.addError("boundary.rate_limits."+tool+".burst", rl.Burst, "must be at least 1 when rps is set")
		}
	}
}

func (v *Validator) validateLLM(cfg *LLMConfig) {
	if cfg.BaseURL != "" && !isValidURL(cfg.BaseURL) {
		v.addError("llm.base_url", cfg.BaseURL, "must be an absolute http(s) URL")
	}
	if cfg.MaxTokens < 0 || cfg.MaxTokens > 200000 {
		v.addError("llm.max_tokens", cfg.MaxTokens, "must be between 0 and 200000")
	}
}

func (v *Validator) validateTools(cfg *ToolsConfig) {
	if cfg.BaseURL != "" && !isValidURL(cfg.BaseURL) {
		v.addError("tools.base_url", cfg.BaseURL, "must be an absolute http(s) URL")
	}
	for tool := range cfg.Endpoints {
		if _, ok := core.ContractFor(core.ToolName(tool)); !ok {
			v.addError("tools.endpoints", tool, "unknown tool")
		}
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	switch cfg.Backend {
	case "sqlite":
		if cfg.Path == "" {
			v.addError("state.path", cfg.Path, "path required for sqlite backend")
		} else if !isValidPath(cfg.Path) {
			v.addError("state.path", cfg.Path, "invalid file path")
		}
	case "postgres":
		if cfg.DSN == "" {
			v.addError("state.dsn", cfg.DSN, "dsn required for postgres backend")
		}
	case "memory":
	default:
		v.addError("state.backend", cfg.Backend, "must be one of: sqlite, postgres, memory")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Addr == "" {
		v.addError("server.addr", cfg.Addr, "address required")
	}
}

func (v *Validator) validateTelemetry(cfg *TelemetryConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Endpoint == "" {
		v.addError("telemetry.endpoint", cfg.Endpoint, "endpoint required when telemetry is enabled")
	}
	if cfg.SampleRate < 0 || cfg.SampleRate > 1 {
		v.addError("telemetry.sample_rate", cfg.SampleRate, "must be between 0 and 1")
	}
	v.validateDuration("telemetry.export_interval", cfg.ExportInterval, false)
}

func (v *Validator) validateDuration(field, value string, allowZero bool) {
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "invalid duration format")
		return
	}
	if d < 0 || (!allowZero && d == 0) {
		v.addError(field, value, "must be positive")
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

func isValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
