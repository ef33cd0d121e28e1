package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/contractsync/internal/record"
)

// Querier is the subset of *pgxpool.Pool used by WarehouseSource.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WarehouseOptions shapes the warehouse query.
type WarehouseOptions struct {
	// Table is the contracts table, optionally schema-qualified.
	Table string

	// MinCodeSize skips contracts whose hex bytecode text is not longer
	// than this many characters. Zero keeps everything.
	MinCodeSize int

	// SkipMinimalProxies drops EIP-1167 style clone stubs.
	SkipMinimalProxies bool

	// DedupBytecode keeps one address per distinct bytecode.
	DedupBytecode bool

	Retry RetryPolicy
}

const minimalProxyPattern = `^0x363d3d373d3d3d363d73|^0x3660008037600080`

// WarehouseSource queries a Postgres-wire analytics warehouse.
type WarehouseSource struct {
	q     Querier
	table string
	opts  WarehouseOptions
}

// NewWarehouse builds a source over q. A zero Retry uses DefaultRetry.
func NewWarehouse(q Querier, opts WarehouseOptions) *WarehouseSource {
	if opts.Table == "" {
		opts.Table = "contracts"
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetry
	}
	return &WarehouseSource{
		q:     q,
		table: pgx.Identifier(strings.Split(opts.Table, ".")).Sanitize(),
		opts:  opts,
	}
}

// ConnectWarehouse opens a pool for dsn and returns a source over it.
// The caller closes the pool.
func ConnectWarehouse(ctx context.Context, dsn string, opts WarehouseOptions) (*WarehouseSource, *pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("warehouse: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("warehouse: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("warehouse: ping: %w", err)
	}
	return NewWarehouse(pool, opts), pool, nil
}

func (w *WarehouseSource) String() string { return "warehouse " + w.table }

// LatestBlock returns max(block_number) of the table.
func (w *WarehouseSource) LatestBlock(ctx context.Context) (uint64, error) {
	var latest *int64
	err := Retry(ctx, w.opts.Retry, "warehouse latest block", func(ctx context.Context) error {
		return w.q.QueryRow(ctx, fmt.Sprintf("SELECT MAX(block_number) FROM %s", w.table)).Scan(&latest)
	})
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, fmt.Errorf("warehouse latest block: %s is empty", w.table)
	}
	if *latest < 0 {
		return 0, fmt.Errorf("warehouse latest block: negative block %d", *latest)
	}
	return uint64(*latest), nil
}

// Fetch runs the window query. A failure while reading rows retries the
// whole query.
func (w *WarehouseSource) Fetch(ctx context.Context, start, end uint64) ([]record.Record, error) {
	query, args := w.fetchQuery(start, end)

	var recs []record.Record
	err := Retry(ctx, w.opts.Retry, "warehouse fetch", func(ctx context.Context) error {
		var err error
		recs, err = w.fetchOnce(ctx, query, args)
		return err
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (w *WarehouseSource) fetchQuery(start, end uint64) (string, []any) {
	args := []any{int64(start), int64(end)}
	where := []string{"block_number BETWEEN $1 AND $2"}
	if w.opts.MinCodeSize > 0 {
		args = append(args, w.opts.MinCodeSize)
		where = append(where, fmt.Sprintf("length(bytecode) > $%d", len(args)))
	}
	if w.opts.SkipMinimalProxies {
		args = append(args, minimalProxyPattern)
		where = append(where, fmt.Sprintf("bytecode !~ $%d", len(args)))
	}

	sel := "SELECT address, bytecode, block_number"
	order := "ORDER BY block_number, address"
	if w.opts.DedupBytecode {
		sel = "SELECT DISTINCT ON (bytecode) address, bytecode, block_number"
		order = "ORDER BY bytecode, block_number, address"
	}
	query := fmt.Sprintf("%s FROM %s WHERE %s %s", sel, w.table, strings.Join(where, " AND "), order)
	return query, args
}

func (w *WarehouseSource) fetchOnce(ctx context.Context, query string, args []any) ([]record.Record, error) {
	rows, err := w.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []record.Record
	for rows.Next() {
		var (
			address  *string
			bytecode *string
			block    int64
		)
		if err := rows.Scan(&address, &bytecode, &block); err != nil {
			return nil, err
		}
		if block < 0 {
			return nil, Permanent(fmt.Errorf("%w: warehouse row has negative block %d", record.ErrIntegrity, block))
		}
		r := record.Record{Block: uint64(block)}
		if address != nil {
			r.Address = *address
		}
		if bytecode != nil {
			code, err := record.ParseBytecode(*bytecode)
			if err != nil {
				return nil, Permanent(fmt.Errorf("warehouse row %s: %w", r.Address, err))
			}
			r.Bytecode = code
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}
