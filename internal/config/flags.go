package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/torosent/pipebench/internal/bootstrap"
	"github.com/torosent/pipebench/internal/metrics"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pipebench [flags] SQL",
		Short:         "Execute a SQL statement N times over one PostgreSQL connection and report latency",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Run flags
	flags.String("connect-uri", "", "PostgreSQL connect URI (starts an embedded server when empty)")
	flags.IntP("pipelining", "p", DefaultPipelining, "Executions kept outstanding on the connection (pipelined client only)")
	flags.String("client", "pipelined", "Client to run with: pipelined (reactive) or sync (jdbc)")
	flags.IntP("count", "n", DefaultCount, "Number of times the statement is executed")
	flags.String("topology", string(TopologyPipeline), "Execution topology: pipeline or parallel")
	flags.Duration("timeout", DefaultTimeout, "Maximum time to wait for the run to complete")

	// Output flags
	flags.Bool("json-output", false, "Emit JSON formatted output")
	flags.Bool("progress", false, "Print live progress to stderr")
	flags.Bool("dashboard", false, "Show a live terminal dashboard while the run executes")
	flags.StringSlice("threshold", nil, "Assertions evaluated after the run (repeatable, e.g. 'latency:p99 < 5')")
	flags.String("prom-textfile", "", "Write run results in Prometheus textfile format to this path")
	flags.Bool("print-config", false, "Print the effective configuration as YAML and exit")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Histogram flags
	flags.Duration("histogram-max", metrics.DefaultMaxTrackable, "Highest trackable latency; longer samples are clamped")
	flags.Int("histogram-sigfigs", metrics.DefaultSignificantFigures, "Significant decimal digits kept by the latency histogram (1-5)")

	// Embedded server flags
	flags.String("pg-version", bootstrap.DefaultVersion, "Embedded PostgreSQL major version")
	flags.Int("pg-port", bootstrap.DefaultPort, "Embedded PostgreSQL port")
	flags.String("pg-runtime-dir", "", "Embedded PostgreSQL runtime directory (default under the system temp dir)")
	flags.Duration("pg-start-timeout", bootstrap.DefaultStartTimeout, "Maximum time to wait for the embedded server to start")
	flags.String("init-sql", "", "SQL script run against the embedded server before the benchmark")

	// Logging flags
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.Bool("log-dev", false, "Human readable console logs")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (enables tracing)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported with spans (default pipebench)")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of runs traced (0.0-1.0)")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\n%s\n\nFlags:\n", cmd.UseLine(), cmd.Short)
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("connect-uri") {
		val, err := fs.GetString("connect-uri")
		if err != nil {
			return err
		}
		cfg.ConnectURI = strings.TrimSpace(val)
	}
	if fs.Changed("pipelining") {
		val, err := fs.GetInt("pipelining")
		if err != nil {
			return err
		}
		cfg.Pipelining = val
	}
	if fs.Changed("client") {
		val, err := fs.GetString("client")
		if err != nil {
			return err
		}
		cfg.Client = val
	}
	if fs.Changed("count") {
		val, err := fs.GetInt("count")
		if err != nil {
			return err
		}
		cfg.Count = val
	}
	if fs.Changed("topology") {
		val, err := fs.GetString("topology")
		if err != nil {
			return err
		}
		cfg.Topology = Topology(val)
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("progress") {
		val, err := fs.GetBool("progress")
		if err != nil {
			return err
		}
		cfg.Progress = val
	}
	if fs.Changed("dashboard") {
		val, err := fs.GetBool("dashboard")
		if err != nil {
			return err
		}
		cfg.Dashboard = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}
	if fs.Changed("prom-textfile") {
		val, err := fs.GetString("prom-textfile")
		if err != nil {
			return err
		}
		cfg.PromTextfile = strings.TrimSpace(val)
	}
	if fs.Changed("print-config") {
		val, err := fs.GetBool("print-config")
		if err != nil {
			return err
		}
		cfg.PrintConfig = val
	}

	if fs.Changed("histogram-max") {
		val, err := fs.GetDuration("histogram-max")
		if err != nil {
			return err
		}
		cfg.Histogram.MaxTrackable = val
	}
	if fs.Changed("histogram-sigfigs") {
		val, err := fs.GetInt("histogram-sigfigs")
		if err != nil {
			return err
		}
		cfg.Histogram.SignificantFigures = val
	}

	if fs.Changed("pg-version") {
		val, err := fs.GetString("pg-version")
		if err != nil {
			return err
		}
		cfg.Embedded.Version = strings.TrimSpace(val)
	}
	if fs.Changed("pg-port") {
		val, err := fs.GetInt("pg-port")
		if err != nil {
			return err
		}
		cfg.Embedded.Port = val
	}
	if fs.Changed("pg-runtime-dir") {
		val, err := fs.GetString("pg-runtime-dir")
		if err != nil {
			return err
		}
		cfg.Embedded.RuntimeDir = strings.TrimSpace(val)
	}
	if fs.Changed("pg-start-timeout") {
		val, err := fs.GetDuration("pg-start-timeout")
		if err != nil {
			return err
		}
		cfg.Embedded.StartTimeout = val
	}
	if fs.Changed("init-sql") {
		val, err := fs.GetString("init-sql")
		if err != nil {
			return err
		}
		cfg.Embedded.InitSQL = strings.TrimSpace(val)
	}

	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-dev") {
		val, err := fs.GetBool("log-dev")
		if err != nil {
			return err
		}
		cfg.Logging.Development = val
	}

	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Tracing.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Tracing.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		cfg.Tracing.ServiceName = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Tracing.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}

	return nil
}
