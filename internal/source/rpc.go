package source

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/roach88/contractsync/internal/record"
)

// Tx is the part of a transaction the RPC walk needs. To is nil for
// contract creations.
type Tx struct {
	Hash common.Hash
	To   *common.Address
}

// ChainReader is the narrow node interface used by RPCSource.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockTransactions(ctx context.Context, number uint64) ([]Tx, error)
	// CodeAt returns the code currently deployed at addr.
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	// CreatedAddress returns the contract address from a creation receipt.
	CreatedAddress(ctx context.Context, tx common.Hash) (common.Address, error)
}

// EthClient adapts *ethclient.Client to ChainReader.
type EthClient struct {
	*ethclient.Client
}

// DialEth connects to a node at rawurl.
func DialEth(ctx context.Context, rawurl string) (*EthClient, error) {
	c, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("rpc dial: %w", err)
	}
	return &EthClient{Client: c}, nil
}

func (c *EthClient) BlockTransactions(ctx context.Context, number uint64) ([]Tx, error) {
	block, err := c.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, err
	}
	txs := block.Transactions()
	out := make([]Tx, len(txs))
	for i, tx := range txs {
		out[i] = Tx{Hash: tx.Hash(), To: tx.To()}
	}
	return out, nil
}

func (c *EthClient) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	return c.Client.CodeAt(ctx, addr, nil)
}

func (c *EthClient) CreatedAddress(ctx context.Context, tx common.Hash) (common.Address, error) {
	receipt, err := c.TransactionReceipt(ctx, tx)
	if err != nil {
		return common.Address{}, err
	}
	return receipt.ContractAddress, nil
}

// RPCSource finds contracts by walking blocks one at a time. A transaction
// contributes its recipient, or for a creation the deployed address, when
// that address currently holds code.
type RPCSource struct {
	chain ChainReader
	name  string
}

// NewRPC returns a source over chain.
func NewRPC(chain ChainReader, name string) *RPCSource {
	if name == "" {
		name = "node"
	}
	return &RPCSource{chain: chain, name: name}
}

func (s *RPCSource) String() string { return "rpc " + s.name }

func (s *RPCSource) LatestBlock(ctx context.Context) (uint64, error) {
	n, err := s.chain.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("rpc latest block: %w", err)
	}
	return n, nil
}

// Fetch walks [start, end]. An address seen more than once keeps its
// first observation.
func (s *RPCSource) Fetch(ctx context.Context, start, end uint64) ([]record.Record, error) {
	var recs []record.Record
	seen := make(map[common.Address]struct{})

	for n := start; n <= end; n++ {
		txs, err := s.chain.BlockTransactions(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("rpc block %d: %w", n, err)
		}
		for _, tx := range txs {
			addr, err := s.candidate(ctx, tx)
			if err != nil {
				return nil, fmt.Errorf("rpc block %d tx %s: %w", n, tx.Hash.Hex(), err)
			}
			if _, dup := seen[addr]; dup || addr == (common.Address{}) {
				continue
			}

			code, err := s.chain.CodeAt(ctx, addr)
			if err != nil {
				return nil, fmt.Errorf("rpc code at %s: %w", addr.Hex(), err)
			}
			if len(code) == 0 {
				continue
			}
			seen[addr] = struct{}{}
			recs = append(recs, record.Record{
				Address:  strings.ToLower(addr.Hex()),
				Bytecode: code,
				Block:    n,
			})
		}
		if n == end {
			break // end may be MaxUint64
		}
	}

	slog.Debug("rpc fetch", "source", s.name, "start", start, "end", end, "records", len(recs))
	return recs, nil
}

func (s *RPCSource) candidate(ctx context.Context, tx Tx) (common.Address, error) {
	if tx.To != nil {
		return *tx.To, nil
	}
	return s.chain.CreatedAddress(ctx, tx.Hash)
}
