// Package store provides the bounded persistent sinks records are merged into.
//
// Two sinks implement the Sink interface:
//   - LogSink: a newline-delimited JSON log, most recent first, with a JSON
//     metadata document beside it. Every merge rewrites the whole file and
//     trims the oldest records while the file exceeds its size budget.
//   - SQLiteSink: a keyed contracts table plus a key/value meta table. It grows
//     until the budget is crossed and then refuses further inserts; nothing is
//     ever trimmed retroactively.
//
// # Batches
//
// All mutation goes through a Batch obtained from Sink.Begin. A batch owns the
// sink until Commit or Rollback, so one store has exactly one writer at a time.
// Rollback after Commit is a no-op; callers should always defer it.
//
// # Database Configuration (SQLiteSink)
//
//   - WAL mode: status readers do not block the writer
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Size is measured as page_count*page_size, which includes pages written by
// the open batch but not yet checkpointed into the main file.
package store
