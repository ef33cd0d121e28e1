package config

import (
	"context"
	"fmt"

	"github.com/roach88/contractsync/internal/source"
	"github.com/roach88/contractsync/internal/store"
)

// OpenSink opens the configured store.
func (c Config) OpenSink() (store.Sink, error) {
	var opts []store.Option
	if c.Store.Conflict != "" {
		conflict, err := store.ParseConflict(c.Store.Conflict)
		if err != nil {
			return nil, err
		}
		opts = append(opts, store.WithConflict(conflict))
	}
	if c.Store.SizeLimitMB > 0 {
		opts = append(opts, store.WithDefaultLimit(SizeLimitBytes(c.Store.SizeLimitMB)))
	}

	switch c.Store.Kind {
	case StoreSQLite:
		s, err := store.Open(c.Store.Path, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoreLog:
		if c.Store.MetadataPath != "" {
			opts = append(opts, store.WithMetadataPath(c.Store.MetadataPath))
		}
		s, err := store.OpenLog(c.Store.Path, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", c.Store.Kind)
	}
}

// OpenSource connects to the configured source. The returned close function
// releases its connections and is never nil.
func (c Config) OpenSource(ctx context.Context) (source.Source, func(), error) {
	nop := func() {}
	s := c.Source

	switch s.Kind {
	case SourceDataset:
		src, err := source.OpenDataset(ctx, s.Dataset.URI, source.DatasetOptions{
			S3Region:          s.Dataset.S3Region,
			S3AccessKeyID:     s.Dataset.S3AccessKeyID,
			S3SecretAccessKey: s.Dataset.S3SecretAccessKey,
			S3Endpoint:        s.Dataset.S3Endpoint,
		})
		if err != nil {
			return nil, nop, err
		}
		return src, func() { src.Close() }, nil

	case SourceWarehouse:
		src, pool, err := source.ConnectWarehouse(ctx, s.Warehouse.DSN, source.WarehouseOptions{
			Table:              s.Warehouse.Table,
			MinCodeSize:        s.Warehouse.MinCodeSize,
			SkipMinimalProxies: s.Warehouse.SkipMinimalProxies,
			DedupBytecode:      s.Warehouse.DedupBytecode,
			Retry:              source.DefaultRetry,
		})
		if err != nil {
			return nil, nop, err
		}
		return src, pool.Close, nil

	case SourceExplorer:
		src, err := source.NewExplorer(s.Explorer.URL, source.ExplorerOptions{
			APIKey:       s.Explorer.APIKey,
			VerifiedOnly: s.Explorer.VerifiedOnly,
			Timeout:      s.Explorer.Timeout,
		})
		if err != nil {
			return nil, nop, err
		}
		return src, nop, nil

	case SourceRPC:
		client, err := source.DialEth(ctx, s.RPC.URL)
		if err != nil {
			return nil, nop, err
		}
		return source.NewRPC(client, s.RPC.Name), client.Close, nil

	case "":
		return nil, nop, fmt.Errorf("no source configured (set source.kind)")
	default:
		return nil, nop, fmt.Errorf("unknown source kind %q", s.Kind)
	}
}
