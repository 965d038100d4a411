// Copyright (c) Ensemble Authors.
// Licensed under the MIT License.

/*
Package backend abstracts an inference backend behind a small target-agnostic
surface.

# Overview

A [Backend] turns a prompt into text. The package deliberately knows nothing
about vendors, wire protocols or auth; adapters translate whatever their
upstream speaks into [Request], [Response] and the error taxonomy in the types
package. Everything above this package (client, strategy, workflow) composes
against the interface only.

# Core surface

  - [Backend]: Name / Generate / Stream / HealthCheck
  - [TokenStream]: pull-based incremental output, Next until io.EOF
  - [ErrorFromStatus]: maps HTTP-style status codes onto *types.Error so all
    adapters fail the same way
  - [Scripted]: deterministic in-process backend for examples, CLIs and tests

# Streaming

Streams are pull-based: the producer pushes into a bounded buffer and the
consumer drains with Next. A consumer that stops pulling and calls Close
releases the producer. Next returns io.EOF after the final token, or the
producer's error if the stream failed mid-flight.
*/
package backend
