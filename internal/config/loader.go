package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/adpilot/internal/core"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "ADPILOT",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "ADPILOT",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (ADPILOT_*)
// 3. Project config (.adpilot.yaml in current directory)
// 4. User config (~/.config/adpilot/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".adpilot")
		l.v.SetConfigType("yaml")

		// First found wins.
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "adpilot"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func phaseNames(seq []core.Phase) []string {
	out := make([]string, len(seq))
	for i, p := range seq {
		out[i] = string(p)
	}
	return out
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Workflow defaults
	routing := core.DefaultRoutingTable()
	l.v.SetDefault("workflow.max_iterations", core.DefaultMaxIterations)
	l.v.SetDefault("workflow.max_retries_per_operation", core.DefaultMaxRetriesPerOperation)
	l.v.SetDefault("workflow.confidence_threshold", core.DefaultConfidenceThreshold)
	l.v.SetDefault("workflow.phase_timeout", "5m")
	l.v.SetDefault("workflow.timeout", "30m")
	l.v.SetDefault("workflow.platforms", core.Platforms)
	l.v.SetDefault("workflow.routing.analysis", phaseNames(routing[core.IntentAnalysis]))
	l.v.SetDefault("workflow.routing.action", phaseNames(routing[core.IntentAction]))
	l.v.SetDefault("workflow.routing.hybrid", phaseNames(routing[core.IntentHybrid]))

	// Validation gate
	l.v.SetDefault("validation.min_confidence", 0.0)

	// Phase executor defaults
	l.v.SetDefault("phases.fanout_limit", 4)
	l.v.SetDefault("phases.micro_retries", 1)
	l.v.SetDefault("phases.micro_retry_delay", "500ms")
	l.v.SetDefault("phases.search_results", 5)
	l.v.SetDefault("phases.similarity_top_k", 5)
	l.v.SetDefault("phases.creative_variants", 3)

	// Boundary defaults
	l.v.SetDefault("boundary.max_concurrency", 8)
	l.v.SetDefault("boundary.call_timeout", "60s")
	l.v.SetDefault("boundary.rate_limit_retries", 3)
	l.v.SetDefault("boundary.backoff_base", "1s")
	l.v.SetDefault("boundary.backoff_max", "30s")
	l.v.SetDefault("boundary.rate_limits.reasoning.rps", 2.0)
	l.v.SetDefault("boundary.rate_limits.reasoning.burst", 4)
	l.v.SetDefault("boundary.rate_limits.generation.rps", 1.0)
	l.v.SetDefault("boundary.rate_limits.generation.burst", 2)
	l.v.SetDefault("boundary.rate_limits.platform_data.rps", 5.0)
	l.v.SetDefault("boundary.rate_limits.platform_data.burst", 5)
	l.v.SetDefault("boundary.rate_limits.web_search.rps", 1.0)
	l.v.SetDefault("boundary.rate_limits.web_search.burst", 2)

	// LLM backend defaults
	l.v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	l.v.SetDefault("llm.model", "gpt-4o-mini")
	l.v.SetDefault("llm.max_tokens", 2048)

	// Data tool backend defaults
	l.v.SetDefault("tools.base_url", "http://localhost:8090")
	l.v.SetDefault("tools.endpoints.platform_data", "/platform-data")
	l.v.SetDefault("tools.endpoints.web_search", "/search")
	l.v.SetDefault("tools.endpoints.similarity_search", "/similarity")
	l.v.SetDefault("tools.endpoints.datastore_read", "/datastore/read")
	l.v.SetDefault("tools.endpoints.datastore_write", "/datastore/write")

	// State defaults
	l.v.SetDefault("state.backend", "sqlite")
	l.v.SetDefault("state.path", ".adpilot/state/adpilot.db")

	// Server defaults
	l.v.SetDefault("server.addr", "127.0.0.1:8080")
	l.v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})

	// Report defaults
	l.v.SetDefault("report.dir", ".adpilot/reports")

	// Telemetry defaults
	l.v.SetDefault("telemetry.enabled", false)
	l.v.SetDefault("telemetry.endpoint", "localhost:4318")
	l.v.SetDefault("telemetry.insecure", true)
	l.v.SetDefault("telemetry.sample_rate", 1.0)
	l.v.SetDefault("telemetry.export_interval", "15s")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}
