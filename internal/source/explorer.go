package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/roach88/contractsync/internal/record"
)

// ExplorerOptions configures an ExplorerSource.
type ExplorerOptions struct {
	APIKey       string
	VerifiedOnly bool
	Timeout      time.Duration // default 10s; ignored when Client is set
	Client       *http.Client
}

// ExplorerSource reads contract listings from an Etherscan-style HTTP API.
type ExplorerSource struct {
	base     *url.URL
	apiKey   string
	verified bool
	client   *http.Client
}

// NewExplorer returns a source for the API at baseURL.
func NewExplorer(baseURL string, opts ExplorerOptions) (*ExplorerSource, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("explorer: base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("explorer: base url %q: scheme must be http or https", baseURL)
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &ExplorerSource{
		base:     base,
		apiKey:   opts.APIKey,
		verified: opts.VerifiedOnly,
		client:   client,
	}, nil
}

func (e *ExplorerSource) String() string { return "explorer " + e.base.Host }

// envelope is the explorer's response wrapper. Proxy calls omit status and
// carry a bare hex string in result.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type listedContract struct {
	ContractAddress *string `json:"ContractAddress"`
	Bytecode        *string `json:"Bytecode"`
	BlockNumber     *string `json:"BlockNumber"`
}

// LatestBlock asks the explorer's node proxy for eth_blockNumber.
func (e *ExplorerSource) LatestBlock(ctx context.Context) (uint64, error) {
	env, err := e.get(ctx, url.Values{"module": {"proxy"}, "action": {"eth_blockNumber"}})
	if err != nil {
		return 0, err
	}
	var hex string
	if err := json.Unmarshal(env.Result, &hex); err != nil {
		return 0, fmt.Errorf("explorer latest block: result: %w", err)
	}
	n, err := hexutil.DecodeUint64(hex)
	if err != nil {
		return 0, fmt.Errorf("explorer latest block: %q: %w", hex, err)
	}
	return n, nil
}

// Fetch lists contracts created in [start, end].
func (e *ExplorerSource) Fetch(ctx context.Context, start, end uint64) ([]record.Record, error) {
	params := url.Values{
		"module":     {"contract"},
		"action":     {"listcontracts"},
		"startblock": {strconv.FormatUint(start, 10)},
		"endblock":   {strconv.FormatUint(end, 10)},
	}
	if e.verified {
		params.Set("verified", "1")
	}

	env, err := e.get(ctx, params)
	if err != nil {
		return nil, err
	}
	if env.Status == "0" {
		if strings.Contains(strings.ToLower(env.Message), "no records found") {
			return nil, nil
		}
		return nil, fmt.Errorf("explorer fetch [%d,%d]: %s: %s", start, end, env.Message, strings.Trim(string(env.Result), `"`))
	}

	var listed []listedContract
	if err := json.Unmarshal(env.Result, &listed); err != nil {
		return nil, fmt.Errorf("%w: explorer fetch: result: %v", record.ErrIntegrity, err)
	}

	recs := make([]record.Record, 0, len(listed))
	for i, c := range listed {
		r, err := c.record()
		if err != nil {
			return nil, fmt.Errorf("explorer fetch [%d,%d]: entry %d: %w", start, end, i, err)
		}
		recs = append(recs, r)
	}
	return recs, nil
}

func (c listedContract) record() (record.Record, error) {
	switch {
	case c.ContractAddress == nil:
		return record.Record{}, fmt.Errorf("%w: missing ContractAddress", record.ErrIntegrity)
	case c.Bytecode == nil:
		return record.Record{}, fmt.Errorf("%w: missing Bytecode", record.ErrIntegrity)
	case c.BlockNumber == nil:
		return record.Record{}, fmt.Errorf("%w: missing BlockNumber", record.ErrIntegrity)
	}

	block, err := parseBlockNumber(*c.BlockNumber)
	if err != nil {
		return record.Record{}, fmt.Errorf("%w: BlockNumber %q: %v", record.ErrIntegrity, *c.BlockNumber, err)
	}
	code, err := record.ParseBytecode(*c.Bytecode)
	if err != nil {
		return record.Record{}, err
	}
	return record.Record{Address: *c.ContractAddress, Bytecode: code, Block: block}, nil
}

// parseBlockNumber accepts decimal or 0x-prefixed hex.
func parseBlockNumber(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return hexutil.DecodeUint64(strings.ToLower(s))
	}
	return strconv.ParseUint(s, 10, 64)
}

func (e *ExplorerSource) get(ctx context.Context, params url.Values) (envelope, error) {
	if e.apiKey != "" {
		params.Set("apikey", e.apiKey)
	}
	u := *e.base
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return envelope{}, fmt.Errorf("explorer %s: %w", params.Get("action"), err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("explorer %s: %w", params.Get("action"), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return envelope{}, fmt.Errorf("explorer %s: http %d: %s", params.Get("action"), resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return envelope{}, fmt.Errorf("explorer %s: decode: %w", params.Get("action"), err)
	}
	return env, nil
}
