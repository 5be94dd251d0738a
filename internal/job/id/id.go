// Package id provides unique identifier generation for jobs.
package id

import (
	"github.com/google/uuid"
)

// Generate creates a new unique job ID.
// Format: RFC 4122 version 4 UUID, e.g. 3f2b6c1e-8a4d-4f0e-9c57-2d1b7e0a9f13
func Generate() string {
	return uuid.NewString()
}

// ClaimToken creates a token identifying one execution of a job's pipeline.
// Format: run-<uuid>
func ClaimToken() string {
	return "run-" + uuid.NewString()
}

// Valid reports whether s has the format produced by Generate.
func Valid(s string) bool {
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.Version() == 4 && u.String() == s
}
