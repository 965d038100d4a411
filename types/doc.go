// Copyright (c) Ensemble Authors.
// Licensed under the MIT License.

/*
Package types holds the shared kernel of the ensemble framework.

It is the lowest-level public package and depends on nothing internal, so
workflow, strategy, client and api can all agree on a single set of
contracts without import cycles.

Core types:

  - Value / ValueKind: tagged-union value (string | number | bool | list | map)
    with deterministic canonical serialization, used for step options,
    run context entries and cache keys
  - Map: map[string]Value, the shape of options and run outputs
  - Contribution: one unit of work's result plus confidence/latency metadata
  - Error / ErrorCode: structured error taxonomy with retryable marking

Context propagation: WithTraceID / WithRunID / WithRequestID and their
extractors.
*/
package types
