package cache

import "github.com/google/uuid"

// JobKey is the cache key for a job status snapshot.
func JobKey(id uuid.UUID) string {
	return "job:" + id.String()
}

// JobTag is the invalidation tag covering every cached read derived from a
// job. Tagged separately from the key so derived entries (analysis results,
// rendered fragments) can share the tag and drop together on a transition.
func JobTag(id uuid.UUID) string {
	return "job-tag:" + id.String()
}
