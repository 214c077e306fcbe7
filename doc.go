// Package docportal wires storage, the vector index and the AI provider
// into the ingestion, retrieval, session, comparison and reindex
// components.
//
// Open a Portal from a config.Config and use its New... methods to build
// components that share the same backend.
package docportal
