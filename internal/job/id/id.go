// Package id provides unique identifier generation for jobs.
package id

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// Prefix starts every job ID.
const Prefix = "job-"

// Generate creates a new unique job ID.
// IDs sort lexically in creation order.
// Example: job-01hf3k8m0s6y2x4j9q7w1v5t3r
func Generate() string {
	return Prefix + strings.ToLower(ulid.Make().String())
}

// Valid reports whether s looks like an ID produced by Generate.
func Valid(s string) bool {
	rest, ok := strings.CutPrefix(s, Prefix)
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(rest))
	return err == nil
}
