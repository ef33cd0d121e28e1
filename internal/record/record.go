package record

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrIntegrity marks a malformed or incomplete record.
// It is fatal for the fetch that produced it.
var ErrIntegrity = errors.New("data integrity")

// Record is a contract observed at a block.
type Record struct {
	Address  string
	Bytecode []byte // nil means the source reported no bytecode
	Block    uint64
}

// Validate checks that the record carries an address and non-null bytecode.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Address) == "" {
		return fmt.Errorf("%w: record at block %d has no address", ErrIntegrity, r.Block)
	}
	if r.Bytecode == nil {
		return fmt.Errorf("%w: record %s at block %d has null bytecode", ErrIntegrity, r.Address, r.Block)
	}
	return nil
}

// ValidateRange validates every record and checks that each block lies in
// [start, end]. The first violation is returned.
func ValidateRange(recs []Record, start, end uint64) error {
	for i, r := range recs {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if r.Block < start || r.Block > end {
			return fmt.Errorf("%w: record %s at block %d outside window [%d,%d]",
				ErrIntegrity, r.Address, r.Block, start, end)
		}
	}
	return nil
}

// ParseBytecode decodes hex bytecode with or without a 0x prefix.
// The empty string decodes to an empty, non-nil slice.
func ParseBytecode(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bytecode: %v", ErrIntegrity, err)
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

// EncodeBytecode renders bytecode as 0x-prefixed lowercase hex.
func EncodeBytecode(b []byte) string {
	return hexutil.Encode(b)
}
