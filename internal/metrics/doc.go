// Copyright (c) Ensemble Authors.
// Licensed under the MIT License.

/*
Package metrics provides Prometheus instrumentation for the engine.

A single Collector owns every metric vector, registered through promauto
under one namespace so deployments can run several isolated engines side by
side. The covered domains:

  - HTTP: request counts, latency and body sizes by method/path, with
    status codes bucketed as 2xx/3xx/4xx/5xx.
  - Generation: backend request counts, latency and token usage by
    backend/model.
  - Resilience: cache hits and misses by tier, circuit transitions by
    operation, retry attempts by operation.
  - Workflow: run and step counts, run latency.
  - Coordination: runs by strategy, latency, contribution counts and
    emergence events.
  - Store: query latency by operation.
*/
package metrics
