package instance

import "os"

// GetID returns the worker instance identifier, falling back to the given
// default (or "worker-0") when WORKER_ID is unset.
func GetID(fallback string) string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	if fallback != "" {
		return fallback
	}
	return "worker-0"
}
