// Copyright (c) Ensemble Authors.
// Licensed under the MIT License.

/*
Package strategy distributes one task across several (domain, target) pairs
and collects their contributions.

# Model

An [Input] names a task, a set of domains with candidate targets, and an
optional seed context. Each (domain, target) pair is one unit of work: the
task template is rendered against the context, strategy-folded keys
("foundation" and "previous_*") not referenced by the template are appended
as labelled lines, and the prompt goes to the backend under the unit
timeout. A unit that fails degrades to a zero-confidence
[types.Contribution] carrying the error text; it never aborts the batch.

# Strategies

[NewCoordinator] selects an execution shape by [Kind]:

  - parallel: every unit concurrently through the bounded pool.
  - sequential: declared order, each unit's text folded under
    "previous_<domain>" for the next.
  - hierarchical: the foundation domain runs first and its first successful
    text is folded under "foundation" before the rest fan out.
  - grouped: targets partition into affinity tiers that run concurrently,
    members inside a tier sequentially; the maximum tier's contributions are
    weight-amplified.
  - adaptive: [Classify] picks one of the above from the input's size.

Strategy selection and tier thresholds are pure functions of the input and
configuration; coordinators mutate only their per-run context copy.
*/
package strategy
