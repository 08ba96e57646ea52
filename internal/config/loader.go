package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/torosent/pipebench/internal/bootstrap"
	"github.com/torosent/pipebench/internal/metrics"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Defaults returns the configuration used before any file or flag applies.
func Defaults() Config {
	return Config{
		Client:     "pipelined",
		Pipelining: DefaultPipelining,
		Count:      DefaultCount,
		Topology:   TopologyPipeline,
		Timeout:    DefaultTimeout,
		Histogram: HistogramConfig{
			MaxTrackable:       metrics.DefaultMaxTrackable,
			SignificantFigures: metrics.DefaultSignificantFigures,
		},
		Embedded: EmbeddedConfig{
			Version:      bootstrap.DefaultVersion,
			Port:         bootstrap.DefaultPort,
			StartTimeout: bootstrap.DefaultStartTimeout,
		},
		Logging: LoggingConfig{Level: "info"},
		Tracing: TracingConfig{SampleRate: 1.0},
	}
}

// Load parses command-line arguments and configuration files to produce a Config.
// The first positional argument is the SQL statement.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := Defaults()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(&cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(&cfg, flagSet); err != nil {
		return nil, err
	}

	switch positional := flagSet.Args(); len(positional) {
	case 0:
	case 1:
		cfg.SQL = positional[0]
	default:
		return nil, fmt.Errorf("expected a single SQL statement argument, got %d (quote the statement)", len(positional))
	}

	cfg.SQL = strings.TrimSpace(cfg.SQL)
	cfg.ConnectURI = strings.TrimSpace(cfg.ConnectURI)
	cfg.Client = strings.ToLower(strings.TrimSpace(cfg.Client))
	cfg.Topology = Topology(strings.ToLower(strings.TrimSpace(string(cfg.Topology))))

	return &cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "sql", "statement"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("sql: %w", err)
		}
		cfg.SQL = val
	}

	if raw, ok := lookupSetting(settings, "connect_uri", "connect-uri", "connecturi"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("connect_uri: %w", err)
		}
		cfg.ConnectURI = val
	}

	if raw, ok := lookupSetting(settings, "client"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("client: %w", err)
		}
		if val != "" {
			cfg.Client = val
		}
	}

	if raw, ok := lookupSetting(settings, "pipelining"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("pipelining: %w", err)
		}
		cfg.Pipelining = val
	}

	if raw, ok := lookupSetting(settings, "count"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("count: %w", err)
		}
		cfg.Count = val
	}

	if raw, ok := lookupSetting(settings, "topology"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("topology: %w", err)
		}
		if val != "" {
			cfg.Topology = Topology(val)
		}
	}

	if raw, ok := lookupSetting(settings, "timeout"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = val
	}

	if raw, ok := lookupSetting(settings, "json_output", "jsonoutput", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("json_output: %w", err)
		}
		cfg.JSONOutput = val
	}

	if raw, ok := lookupSetting(settings, "progress"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("progress: %w", err)
		}
		cfg.Progress = val
	}

	if raw, ok := lookupSetting(settings, "dashboard"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("dashboard: %w", err)
		}
		cfg.Dashboard = val
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	if raw, ok := lookupSetting(settings, "prom_textfile", "prom-textfile", "promtextfile"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("prom_textfile: %w", err)
		}
		cfg.PromTextfile = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "histogram"); ok {
		if err := applyHistogramSettings(&cfg.Histogram, raw); err != nil {
			return fmt.Errorf("histogram: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "embedded"); ok {
		if err := applyEmbeddedSettings(&cfg.Embedded, raw); err != nil {
			return fmt.Errorf("embedded: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "logging"); ok {
		if err := applyLoggingSettings(&cfg.Logging, raw); err != nil {
			return fmt.Errorf("logging: %w", err)
		}
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracingSettings(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}

	return nil
}

func applyHistogramSettings(h *HistogramConfig, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "max_trackable", "maxtrackable"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("max_trackable: %w", err)
		}
		h.MaxTrackable = val
	}
	if raw, ok := lookupSetting(settings, "significant_figures", "significantfigures"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("significant_figures: %w", err)
		}
		h.SignificantFigures = val
	}
	return nil
}

func applyEmbeddedSettings(e *EmbeddedConfig, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "version"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("version: %w", err)
		}
		e.Version = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "port"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("port: %w", err)
		}
		e.Port = val
	}
	if raw, ok := lookupSetting(settings, "runtime_dir", "runtimedir"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("runtime_dir: %w", err)
		}
		e.RuntimeDir = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "init_sql", "initsql"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("init_sql: %w", err)
		}
		e.InitSQL = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "start_timeout", "starttimeout"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("start_timeout: %w", err)
		}
		e.StartTimeout = val
	}
	return nil
}

func applyLoggingSettings(l *LoggingConfig, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("level: %w", err)
		}
		if val != "" {
			l.Level = strings.ToLower(strings.TrimSpace(val))
		}
	}
	if raw, ok := lookupSetting(settings, "development"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("development: %w", err)
		}
		l.Development = val
	}
	return nil
}

func applyTracingSettings(t *TracingConfig, value interface{}) error {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "service_name", "servicename"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("service_name: %w", err)
		}
		t.ServiceName = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "samplerate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sample_rate: %w", err)
		}
		t.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		t.Insecure = val
	}
	return nil
}
