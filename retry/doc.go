// Package retry provides bounded exponential backoff for idempotent calls
// into external collaborators.
package retry
