// Copyright (c) Ensemble Authors.
// Licensed under the MIT License.

/*
Package workflow models inference pipelines as dependency graphs and runs
them wave by wave.

# Overview

A [Workflow] is a flat list of [Step] values wired by ID through DependsOn.
[Validate] rejects duplicate or empty IDs, dangling dependencies and cycles.
[Schedule] produces a deterministic topological order and [Waves] groups it
into dependency levels; steps inside a wave share no ordering constraint and
run concurrently.

# Execution

[Executor.Execute] resolves {{key}} placeholders in each step's prompt
template against the run context, dispatches on the step kind (inference,
transform, branch, checkpoint) and posts the result under the step's
OutputKey. Waves run under an errgroup with a concurrency limit; a failing
inference or transform step aborts the remaining waves, while branch and
checkpoint steps record their errors and let the run continue. The outcome
is always a structured [Result]; Success simply means no step errored.

# Planning

[Optimize] annotates a copy of the workflow with per-step execution hints
(wave index, concurrency) without touching the original. [LoadFile] reads a
workflow definition from YAML.
*/
package workflow
