// Package server manages the lifecycle of the engine's HTTP listener:
// non-blocking start, TLS, signal handling and graceful shutdown.
package server
