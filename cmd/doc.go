// Package cmd implements the command-line interface for ferry. It provides
// a hierarchical command structure for exercising request-response services
// from the shell.
//
// The package is organized into several subpackages:
//
//   - demo: Runs an in-process ping-pong exchange over a service
//   - perf: Benchmarks request-response throughput and latency
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See ferry -help for a list of all commands.
package cmd
