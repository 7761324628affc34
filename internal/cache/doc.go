// Package cache maps inbound "data changed" signals to cache
// invalidation scopes and coalesces bursts of signals for the same
// scope into a single refetch request, bounding refetch storms when
// many small update events arrive together.
package cache
