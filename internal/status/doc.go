// Package status is the REST client used by the polling fallback to
// fetch a job's execution state when the live channel is unavailable.
// Transient server failures (5xx, 429) are retried with backoff; client
// errors are permanent and returned immediately.
package status
