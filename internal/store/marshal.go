package store

import (
	"fmt"
	"strconv"

	"github.com/roach88/contractsync/internal/syncmeta"
)

// Metadata keys of the meta table.
const (
	metaOldest  = "oldest_block"
	metaNewest  = "newest_block"
	metaLimit   = "size_limit"
	metaLowest  = "lowest_block"
	metaHighest = "highest_block"
)

type metaEntry struct {
	key   string
	value string
}

// marshalMeta flattens metadata into key/value rows. Unset watermarks are
// omitted rather than stored as NULL.
func marshalMeta(m syncmeta.Metadata) []metaEntry {
	entries := []metaEntry{{metaLimit, strconv.FormatInt(m.SizeLimit, 10)}}
	add := func(key string, v *uint64) {
		if v != nil {
			entries = append(entries, metaEntry{key, strconv.FormatUint(*v, 10)})
		}
	}
	add(metaOldest, m.OldestBlock)
	add(metaNewest, m.NewestBlock)
	add(metaLowest, m.LowestBlock)
	add(metaHighest, m.HighestBlock)
	return entries
}

// unmarshalMeta parses key/value rows. Unknown keys are ignored.
func unmarshalMeta(kv map[string]string, defaultLimit int64) (syncmeta.Metadata, error) {
	m := syncmeta.New(defaultLimit)
	if v, ok := kv[metaLimit]; ok {
		limit, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return syncmeta.Metadata{}, fmt.Errorf("%s: %w", metaLimit, err)
		}
		m.SizeLimit = limit
	}

	parse := func(key string, dst **uint64) error {
		v, ok := kv[key]
		if !ok {
			return nil
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = syncmeta.Block(n)
		return nil
	}
	for key, dst := range map[string]**uint64{
		metaOldest:  &m.OldestBlock,
		metaNewest:  &m.NewestBlock,
		metaLowest:  &m.LowestBlock,
		metaHighest: &m.HighestBlock,
	} {
		if err := parse(key, dst); err != nil {
			return syncmeta.Metadata{}, err
		}
	}

	if err := m.Check(); err != nil {
		return syncmeta.Metadata{}, err
	}
	return m, nil
}
