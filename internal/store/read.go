package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/contractsync/internal/record"
	"github.com/roach88/contractsync/internal/syncmeta"
)

// LoadMetadata reads the meta table. A store without a size_limit key gets
// the sink's default budget.
func (s *SQLiteSink) LoadMetadata(ctx context.Context) (syncmeta.Metadata, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return syncmeta.Metadata{}, fmt.Errorf("load metadata: %w", err)
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return syncmeta.Metadata{}, fmt.Errorf("load metadata: scan: %w", err)
		}
		if value.Valid {
			kv[key] = value.String
		}
	}
	if err := rows.Err(); err != nil {
		return syncmeta.Metadata{}, fmt.Errorf("load metadata: iterate: %w", err)
	}

	m, err := unmarshalMeta(kv, s.defaultLimit)
	if err != nil {
		return syncmeta.Metadata{}, fmt.Errorf("load metadata: %w", err)
	}
	return m, nil
}

// Head returns the first n contracts ordered by block, then address.
func (s *SQLiteSink) Head(ctx context.Context, n int) ([]record.Record, error) {
	return s.list(ctx, "head", "", n)
}

// Unchecked returns up to n contracts no scan has marked, ordered by block,
// then address.
func (s *SQLiteSink) Unchecked(ctx context.Context, n int) ([]record.Record, error) {
	return s.list(ctx, "unchecked", "WHERE "+uncheckedFilter, n)
}

// uncheckedFilter matches rows written before the checked column existed
// (NULL) and rows never scanned (0).
const uncheckedFilter = `checked IS NULL OR checked = 0`

func (s *SQLiteSink) list(ctx context.Context, op, where string, n int) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, bytecode, block_number
		FROM contracts
		`+where+`
		ORDER BY block_number ASC, address COLLATE BINARY ASC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", op, err)
	}
	defer rows.Close()

	recs := []record.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", op, err)
	}
	return recs, nil
}

// Each visits every contract ordered by block, then address.
func (s *SQLiteSink) Each(ctx context.Context, fn func(record.Record) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, bytecode, block_number
		FROM contracts
		ORDER BY block_number ASC, address COLLATE BINARY ASC
	`)
	if err != nil {
		return fmt.Errorf("query contracts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate contracts: %w", err)
	}
	return nil
}

// CountUnchecked returns the number of contracts no scan has marked.
func (s *SQLiteSink) CountUnchecked(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contracts WHERE `+uncheckedFilter).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unchecked: %w", err)
	}
	return n, nil
}

// Count returns the number of stored contracts.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contracts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count contracts: %w", err)
	}
	return n, nil
}

func bounds(ctx context.Context, q queryer) (uint64, uint64, bool, error) {
	var oldest, newest sql.NullInt64
	err := q.QueryRowContext(ctx,
		`SELECT MIN(block_number), MAX(block_number) FROM contracts`,
	).Scan(&oldest, &newest)
	if err != nil {
		return 0, 0, false, fmt.Errorf("query bounds: %w", err)
	}
	if !oldest.Valid || !newest.Valid {
		return 0, 0, false, nil
	}
	return uint64(oldest.Int64), uint64(newest.Int64), true, nil
}

func scanRecord(rows *sql.Rows) (record.Record, error) {
	var (
		address  string
		bytecode string
		block    int64
	)
	if err := rows.Scan(&address, &bytecode, &block); err != nil {
		return record.Record{}, fmt.Errorf("scan contract: %w", err)
	}
	code, err := record.ParseBytecode(bytecode)
	if err != nil {
		return record.Record{}, fmt.Errorf("scan contract %s: %w", address, err)
	}
	return record.Record{Address: address, Bytecode: code, Block: uint64(block)}, nil
}
