// Package core defines the domain model shared by every docportal component:
// documents, chunks, retrieval results, sessions and comparison results,
// together with content-derived identifiers and the error taxonomy.
package core
