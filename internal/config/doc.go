// Package config loads the benchmark configuration.
//
// Settings come from three layers, later ones winning: [Defaults], an
// optional JSON or YAML file named by --config (read with viper), and
// command-line flags (pflag on a cobra command). The SQL statement is the
// single positional argument or the file's "sql" key.
//
// Example file:
//
//	sql: SELECT id, randomnumber FROM world WHERE id = 1
//	client: pipelined
//	pipelining: 16
//	count: 200000
//	thresholds:
//	  - "latency:p99 < 10"
//	embedded:
//	  init_sql: ./world.sql
package config
