// Package render draws an owner's legend symbols through an ordered list
// of levels, each attempted only if the previous one failed:
//
//  1. CacheLevel reads the cache.Store and draws Ready images, or typed
//     placeholders while generation is outstanding.
//  2. LegacyLevel enumerates and renders the host symbols synchronously,
//     with every host call guarded.
//  3. EmergencyLevel paints a fixed, precomputed safe-mode image and
//     cannot fail.
//
// A failure in any level, including a panic, is converted to an error
// wrapping symbol.ErrPipelineLevelFailed, logged, and the next level runs.
package render
