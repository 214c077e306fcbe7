// Package metrics holds the Prometheus collectors shared by ingestion,
// retrieval, sessions and comparison. Collectors are package-level and
// always safe to update; Register exposes them on a registry.
package metrics
