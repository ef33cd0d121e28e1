// Package source provides the block-indexed record sources that feed a sync.
//
// Every source answers two questions: what is the latest block it knows
// about, and which records fall inside an inclusive block window. Variants:
//
//   - DatasetSource reads columnar parquet dumps through DuckDB, from a local
//     file, a local directory tree or an s3:// prefix.
//   - WarehouseSource queries a Postgres-wire analytics warehouse with pgx,
//     retrying the whole query with exponential backoff.
//   - ExplorerSource calls a block-explorer HTTP API.
//   - RPCSource walks blocks over an Ethereum node's JSON-RPC.
//
// Fetch results are not validated here beyond field presence; the engine
// validates every record before merging.
package source
