// Package job tracks the progress of a single long-running server-side
// job. Updates arrive over the live channel when it is connected, or
// from a REST polling loop when it is not; the tracker never runs both
// paths at once, never lets progress regress while a job is active, and
// keeps a bounded activity history for the presentation layer.
package job
