package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/contractsync/internal/record"
	"github.com/roach88/contractsync/internal/syncmeta"
)

// Begin opens a transaction that holds the single connection until Commit
// or Rollback.
func (s *SQLiteSink) Begin(ctx context.Context) (Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	return &sqliteBatch{tx: tx}, nil
}

// SaveMetadata rewrites the meta table in one transaction.
func (s *SQLiteSink) SaveMetadata(ctx context.Context, m syncmeta.Metadata) error {
	if err := m.Check(); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save metadata: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM meta`); err != nil {
		return fmt.Errorf("save metadata: clear: %w", err)
	}
	for _, kv := range marshalMeta(m) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meta(key, value) VALUES (?, ?)`, kv.key, kv.value,
		); err != nil {
			return fmt.Errorf("save metadata: %s: %w", kv.key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save metadata: commit: %w", err)
	}
	return nil
}

// MarkChecked flags a contract as scanned.
func (s *SQLiteSink) MarkChecked(ctx context.Context, address string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE contracts SET checked = 1 WHERE address = ?`, address,
	); err != nil {
		return fmt.Errorf("mark checked %s: %w", address, err)
	}
	return nil
}

type sqliteBatch struct {
	tx *sql.Tx
}

// Insert uses ON CONFLICT(address) for idempotency. Under KeepLatest the row
// is updated only when the observation differs, so replaying a window does
// not count as a change.
func (b *sqliteBatch) Insert(ctx context.Context, r record.Record, c Conflict) (bool, error) {
	if err := r.Validate(); err != nil {
		return false, err
	}

	query := `
		INSERT INTO contracts (address, bytecode, block_number)
		VALUES (?, ?, ?)
		ON CONFLICT(address) DO NOTHING
	`
	if c == KeepLatest {
		query = `
			INSERT INTO contracts (address, bytecode, block_number)
			VALUES (?, ?, ?)
			ON CONFLICT(address) DO UPDATE SET
				bytecode = excluded.bytecode,
				block_number = excluded.block_number
			WHERE contracts.bytecode != excluded.bytecode
			   OR contracts.block_number != excluded.block_number
		`
	}

	result, err := b.tx.ExecContext(ctx, query, r.Address, record.EncodeBytecode(r.Bytecode), int64(r.Block))
	if err != nil {
		return false, fmt.Errorf("insert contract %s: %w", r.Address, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert contract %s: rows affected: %w", r.Address, err)
	}
	return n > 0, nil
}

func (b *sqliteBatch) Size(ctx context.Context) (int64, error) {
	return pageBytes(ctx, b.tx)
}

func (b *sqliteBatch) Len(ctx context.Context) (int, error) {
	var n int
	if err := b.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM contracts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count contracts: %w", err)
	}
	return n, nil
}

func (b *sqliteBatch) EvictOldest(context.Context) (record.Record, error) {
	return record.Record{}, ErrEvictionUnsupported
}

func (b *sqliteBatch) Bounds(ctx context.Context) (uint64, uint64, bool, error) {
	return bounds(ctx, b.tx)
}

func (b *sqliteBatch) Commit(context.Context) error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (b *sqliteBatch) Rollback() error {
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback batch: %w", err)
	}
	return nil
}
