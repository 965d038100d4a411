// Copyright (c) Ensemble Authors.
// Licensed under the MIT License.

/*
The ensemble command is the executable entry point of the framework: an
HTTP API server plus local workflow tooling.

# Subcommands

  - serve: start the HTTP server (engine, store, middleware chain)
  - run: execute a workflow definition locally, result JSON on stdout
  - validate: check a workflow definition and print its wave plan
  - migrate: apply, roll back or inspect store schema migrations
  - version: show build information (ldflags Version/BuildTime/GitCommit)
  - health: probe a running instance's /healthz

# Serving

serve wires a Prometheus collector, the configured run store and the
engine facade behind a Go 1.22 pattern mux. The middleware chain is
Recovery, RequestID, SecurityHeaders, RequestLogger, Metrics, optional
OpenTelemetry tracing, a per-IP RateLimiter and optional HS256 JWT auth.
Shutdown drains HTTP first, then closes the engine, the store and the
telemetry providers.

Usage:

	ensemble serve                         # start the service
	ensemble serve --config config.yaml    # with a config file
	ensemble run --file workflow.yaml      # execute a workflow locally
	ensemble validate --file workflow.yaml # check a workflow definition
	ensemble migrate up                    # apply store migrations
	ensemble version                       # show build information
	ensemble health                        # probe a running instance
*/
package main
