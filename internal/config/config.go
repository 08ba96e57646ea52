package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/pipebench/internal/backend"
	"github.com/torosent/pipebench/internal/bootstrap"
	"github.com/torosent/pipebench/internal/metrics"
)

type Topology string

const (
	// TopologyPipeline chains each slot's next execution on the completion
	// of its previous one.
	TopologyPipeline Topology = "pipeline"
	// TopologyParallel launches every execution at once.
	TopologyParallel Topology = "parallel"
)

const (
	DefaultCount      = 5000
	DefaultPipelining = 1
	DefaultTimeout    = 2 * time.Minute
)

type Config struct {
	SQL          string          `mapstructure:"sql" yaml:"sql"`
	ConnectURI   string          `mapstructure:"connect_uri" yaml:"connect_uri,omitempty"`
	Client       string          `mapstructure:"client" yaml:"client"`
	Pipelining   int             `mapstructure:"pipelining" yaml:"pipelining"`
	Count        int             `mapstructure:"count" yaml:"count"`
	Topology     Topology        `mapstructure:"topology" yaml:"topology"`
	Timeout      time.Duration   `mapstructure:"timeout" yaml:"timeout"`
	JSONOutput   bool            `mapstructure:"json_output" yaml:"json_output"`
	Progress     bool            `mapstructure:"progress" yaml:"progress"`
	Dashboard    bool            `mapstructure:"dashboard" yaml:"dashboard"`
	Thresholds   []string        `mapstructure:"thresholds" yaml:"thresholds,omitempty"`
	PromTextfile string          `mapstructure:"prom_textfile" yaml:"prom_textfile,omitempty"`
	Histogram    HistogramConfig `mapstructure:"histogram" yaml:"histogram"`
	Embedded     EmbeddedConfig  `mapstructure:"embedded" yaml:"embedded"`
	Logging      LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Tracing      TracingConfig   `mapstructure:"tracing" yaml:"tracing"`
	ConfigFile   string          `mapstructure:"-" yaml:"-"`
	PrintConfig  bool            `mapstructure:"-" yaml:"-"`
}

// HistogramConfig sets the latency recorder precision.
type HistogramConfig struct {
	MaxTrackable       time.Duration `mapstructure:"max_trackable" yaml:"max_trackable"`
	SignificantFigures int           `mapstructure:"significant_figures" yaml:"significant_figures"`
}

// RecorderConfig converts h for metrics.NewRecorder.
func (h HistogramConfig) RecorderConfig() metrics.RecorderConfig {
	return metrics.RecorderConfig{MaxTrackable: h.MaxTrackable, SignificantFigures: h.SignificantFigures}
}

// EmbeddedConfig describes the local server started when no connect URI is
// given.
type EmbeddedConfig struct {
	Version      string        `mapstructure:"version" yaml:"version"`
	Port         int           `mapstructure:"port" yaml:"port"`
	RuntimeDir   string        `mapstructure:"runtime_dir" yaml:"runtime_dir,omitempty"`
	InitSQL      string        `mapstructure:"init_sql" yaml:"init_sql,omitempty"`
	StartTimeout time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
}

// BootstrapConfig converts e for bootstrap.New.
func (e EmbeddedConfig) BootstrapConfig() bootstrap.Config {
	return bootstrap.Config{
		Version:      e.Version,
		Port:         uint32(e.Port),
		RuntimeDir:   e.RuntimeDir,
		InitSQL:      e.InitSQL,
		StartTimeout: e.StartTimeout,
	}
}

type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Protocol    string  `mapstructure:"protocol" yaml:"protocol,omitempty"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name" yaml:"service_name,omitempty"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure,omitempty"`
}

// Enabled reports whether an exporter endpoint is configured.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// UsesEmbedded reports whether the run provisions its own server.
func (c Config) UsesEmbedded() bool {
	return strings.TrimSpace(c.ConnectURI) == ""
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	if strings.TrimSpace(c.SQL) == "" {
		issues = append(issues, "SQL statement is required (use --help for usage information)")
	}
	if c.Pipelining < 1 {
		issues = append(issues, "pipelining must be >= 1")
	}
	if c.Count < 0 {
		issues = append(issues, "count must be >= 0")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be >= 0")
	}
	if _, err := backend.ParseClient(c.Client); err != nil {
		issues = append(issues, err.Error())
	}
	switch c.Topology {
	case TopologyPipeline, TopologyParallel:
	default:
		issues = append(issues, fmt.Sprintf("topology must be %q or %q, got %q", TopologyPipeline, TopologyParallel, c.Topology))
	}

	issues = append(issues, validateHistogram(c.Histogram)...)
	if c.UsesEmbedded() {
		issues = append(issues, validateEmbedded(c.Embedded)...)
	}
	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

// Warnings returns settings that are valid but probably not what was meant.
func (c Config) Warnings() []string {
	var warnings []string
	if client, err := backend.ParseClient(c.Client); err == nil && client == backend.ClientSync && c.Pipelining > 1 {
		warnings = append(warnings, fmt.Sprintf("pipelining %d has no effect with the sync client; executions run one at a time", c.Pipelining))
	}
	if c.Topology == TopologyParallel && c.Count > 100000 {
		warnings = append(warnings, fmt.Sprintf("parallel topology keeps all %d executions outstanding at once", c.Count))
	}
	if c.Dashboard && c.Progress {
		warnings = append(warnings, "progress output is suppressed while the dashboard is shown")
	}
	if !c.UsesEmbedded() && c.Embedded.InitSQL != "" {
		warnings = append(warnings, "init-sql only applies to the embedded server and is ignored with --connect-uri")
	}
	return warnings
}

func validateHistogram(h HistogramConfig) []string {
	var issues []string
	if h.MaxTrackable <= 0 {
		issues = append(issues, "histogram max_trackable must be > 0")
	}
	if h.SignificantFigures < 1 || h.SignificantFigures > 5 {
		issues = append(issues, "histogram significant_figures must be between 1 and 5")
	}
	return issues
}

func validateEmbedded(e EmbeddedConfig) []string {
	var issues []string
	if err := bootstrap.ValidateVersion(e.Version); err != nil {
		issues = append(issues, err.Error())
	}
	if e.Port < 1 || e.Port > 65535 {
		issues = append(issues, "embedded port must be between 1 and 65535")
	}
	if e.StartTimeout < 0 {
		issues = append(issues, "embedded start_timeout must be >= 0")
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol must be grpc or http, got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}

// YAML renders the effective configuration in config file form.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
