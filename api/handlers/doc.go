// Copyright (c) Ensemble Authors.
// Licensed under the MIT License.

/*
Package handlers implements the HTTP JSON endpoints of the ensemble server.

Every endpoint writes the same [Response] envelope: success plus data, or a
structured error whose code maps onto the HTTP status. Request bodies
mirror the engine's Go types directly (workflow.Workflow, strategy.Input),
so the wire format and the library surface never drift apart.

Handlers hold their collaborators behind narrow interfaces
([WorkflowEngine], [CoordinationService], [RunReader]) and leave routing
and the middleware chain to cmd/ensemble.
*/
package handlers
