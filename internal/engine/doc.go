// Package engine implements incremental, bounded contract sync.
//
// A sync moves records from a source.Source into a store.Sink while keeping
// the sink's metadata (covered block range and size budget) consistent with
// what the sink actually holds.
//
// ARCHITECTURE:
//
// Merge is the one routine that writes to a sink. It validates a batch,
// acquires the sink, inserts under the sink's conflict policy and enforces
// the size budget with one of two eviction strategies:
//   - TrimTail: insert everything, then drop the least recently added records
//     until the sink fits. A single record larger than the budget stays.
//   - Cutoff: stop inserting the moment the budget is reached. Nothing is
//     trimmed.
//
// Update (forward) and Descend (backward) decide which block windows to
// fetch and persist metadata recomputed from the sink after every merge.
// Scheduler repeats a round at an interval until a stop condition holds.
//
// CRITICAL PATTERNS:
//
// Single writer: one merge owns a sink at a time. Windows are processed
// strictly in sequence; there is no parallel fetching.
//
// No partial commit: a batch is validated before the sink is acquired, and
// every exit path releases the sink via Rollback.
//
// Cooperative cancellation: the scheduler checks for cancellation only
// between rounds and while waiting. A round in flight always completes.
package engine
