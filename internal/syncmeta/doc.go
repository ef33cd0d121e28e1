// Package syncmeta tracks the covered block range of a store.
//
// Metadata holds the oldest and newest block present in the store, the size
// budget, and the watermarks used by descending sync. The oldest/newest pair is
// always recomputed from surviving store contents after a merge, never from the
// requested window, because eviction may discard what was just written.
//
// Metadata is persisted as a full rewrite. A crash leaves it at most as fresh
// as the data it describes; stale metadata is safe because merges are
// idempotent.
package syncmeta
