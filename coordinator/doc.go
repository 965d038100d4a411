// Copyright (c) Ensemble Authors.
// Licensed under the MIT License.

/*
Package coordinator ties the distribution strategies and the result
synthesizer into one entry point.

[Coordinator.Coordinate] resolves the strategy for an input (an explicit
kind, or the adaptive classifier when none is named), runs every unit
through a shared bounded pool, synthesizes the contributions with the
measured wall clock, and reports the run through metrics, an OTel span and
an optional run store. Unit failures arrive as zero-confidence
contributions inside the result; only invalid input and cancellation
surface as errors.
*/
package coordinator
