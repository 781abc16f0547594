// Package gateway implements the real-time value gateway.
//
// Components, leaves first:
//
//   - Expander resolves selectors (keys, point ids, device ids, site) into a
//     tenant-scoped key set using the point directory and a cache prefix scan.
//   - Cascade fetches values through an ordered chain of tiers (cache, then
//     store) ending in an optional Synthesizer. The newest value per key wins.
//   - Registry creates, reads, lists and deletes subscriptions kept in the
//     ephemeral store with a fixed TTL.
//   - PollEngine answers change-since polls with an anti-starvation backfill.
//   - Stats builds an operational snapshot from concurrent probes.
//
// Every component is constructed once in main and injected; nothing here
// keeps package-level state.
//
// Errors returned to callers wrap ErrValidation, ErrNotFound,
// ErrAccessDenied or ErrUpstreamUnavailable.
package gateway
