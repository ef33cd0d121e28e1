package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/roach88/contractsync/internal/record"
)

// DatasetOptions configures object-storage access for s3:// datasets.
type DatasetOptions struct {
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Endpoint        string
}

// DatasetSource reads parquet files with address, bytecode and block_number
// columns. Bytecode may be stored as hex text or raw bytes.
type DatasetSource struct {
	db   *sql.DB
	uri  string
	scan string // read_parquet(...) table expression
}

// OpenDataset opens an in-memory DuckDB and points it at uri, which may be a
// parquet file, a directory (searched recursively) or an s3:// prefix.
func OpenDataset(ctx context.Context, uri string, opts DatasetOptions) (*DatasetSource, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	remote := strings.HasPrefix(uri, "s3://")
	if remote {
		if err := configureS3(ctx, db, opts); err != nil {
			db.Close()
			return nil, err
		}
	}

	pattern, err := parquetPattern(uri, remote)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DatasetSource{
		db:   db,
		uri:  uri,
		scan: fmt.Sprintf("read_parquet(%s)", quoteLiteral(pattern)),
	}, nil
}

func configureS3(ctx context.Context, db *sql.DB, opts DatasetOptions) error {
	for _, stmt := range []string{"INSTALL httpfs", "LOAD httpfs"} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("dataset: %s: %w", stmt, err)
		}
	}

	params := []string{"TYPE S3"}
	if opts.S3AccessKeyID != "" {
		params = append(params,
			"KEY_ID "+quoteLiteral(opts.S3AccessKeyID),
			"SECRET "+quoteLiteral(opts.S3SecretAccessKey))
	} else {
		params = append(params, "PROVIDER credential_chain")
	}
	if opts.S3Region != "" {
		params = append(params, "REGION "+quoteLiteral(opts.S3Region))
	}
	if opts.S3Endpoint != "" {
		params = append(params, "ENDPOINT "+quoteLiteral(opts.S3Endpoint))
	}

	stmt := fmt.Sprintf("CREATE OR REPLACE SECRET contractsync_s3 (%s)", strings.Join(params, ", "))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("dataset: create s3 secret: %w", err)
	}
	return nil
}

// parquetPattern turns a directory into a recursive glob.
func parquetPattern(uri string, remote bool) (string, error) {
	if remote {
		if strings.HasSuffix(uri, "/") {
			return uri + "**/*.parquet", nil
		}
		return uri, nil
	}

	info, err := os.Stat(uri)
	if err != nil {
		return "", fmt.Errorf("dataset: %w", err)
	}
	if info.IsDir() {
		return filepath.Join(uri, "**", "*.parquet"), nil
	}
	return uri, nil
}

// quoteLiteral renders s as a single-quoted SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (d *DatasetSource) String() string { return "dataset " + d.uri }

// Close releases the DuckDB connection.
func (d *DatasetSource) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// LatestBlock returns the highest block_number in the dataset.
func (d *DatasetSource) LatestBlock(ctx context.Context) (uint64, error) {
	var latest sql.NullInt64
	query := fmt.Sprintf("SELECT MAX(CAST(block_number AS BIGINT)) FROM %s", d.scan)
	if err := d.db.QueryRowContext(ctx, query).Scan(&latest); err != nil {
		return 0, fmt.Errorf("dataset latest block: %w", err)
	}
	if !latest.Valid {
		return 0, errors.New("dataset latest block: dataset is empty")
	}
	if latest.Int64 < 0 {
		return 0, fmt.Errorf("dataset latest block: negative block %d", latest.Int64)
	}
	return uint64(latest.Int64), nil
}

// Fetch returns the rows with block_number in [start, end].
func (d *DatasetSource) Fetch(ctx context.Context, start, end uint64) ([]record.Record, error) {
	query := fmt.Sprintf(`
		SELECT CAST(address AS VARCHAR), bytecode, CAST(block_number AS BIGINT)
		FROM %s
		WHERE block_number BETWEEN ? AND ?
		ORDER BY block_number`, d.scan)

	rows, err := d.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("dataset fetch [%d,%d]: %w", start, end, err)
	}
	defer rows.Close()

	var recs []record.Record
	for rows.Next() {
		var (
			address  sql.NullString
			bytecode any
			block    int64
		)
		if err := rows.Scan(&address, &bytecode, &block); err != nil {
			return nil, fmt.Errorf("dataset fetch: scan: %w", err)
		}
		if block < 0 {
			return nil, fmt.Errorf("%w: dataset row %s has negative block %d", record.ErrIntegrity, address.String, block)
		}
		r := record.Record{Address: address.String, Block: uint64(block)}
		switch v := bytecode.(type) {
		case nil:
		case string:
			code, err := record.ParseBytecode(v)
			if err != nil {
				return nil, fmt.Errorf("dataset fetch: %s: %w", r.Address, err)
			}
			r.Bytecode = code
		case []byte:
			r.Bytecode = append([]byte{}, v...)
		default:
			return nil, fmt.Errorf("%w: dataset bytecode column has type %T", record.ErrIntegrity, v)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dataset fetch: %w", err)
	}

	slog.Debug("dataset fetch", "uri", d.uri, "start", start, "end", end, "records", len(recs))
	return recs, nil
}
