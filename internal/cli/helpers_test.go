package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/contractsync/internal/record"
	"github.com/roach88/contractsync/internal/testutil"
)

// explorerServer serves contracts the way a block explorer API does,
// filtering listcontracts by startblock/endblock.
func explorerServer(t *testing.T, latest uint64, contracts ...record.Record) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("action") {
		case "eth_blockNumber":
			json.NewEncoder(w).Encode(map[string]any{"result": fmt.Sprintf("0x%x", latest)})
		case "listcontracts":
			start, _ := strconv.ParseUint(q.Get("startblock"), 10, 64)
			end, _ := strconv.ParseUint(q.Get("endblock"), 10, 64)
			listing := []map[string]string{}
			for _, c := range contracts {
				if c.Block < start || c.Block > end {
					continue
				}
				listing = append(listing, map[string]string{
					"ContractAddress": c.Address,
					"Bytecode":        record.EncodeBytecode(c.Bytecode),
					"BlockNumber":     strconv.FormatUint(c.Block, 10),
				})
			}
			if len(listing) == 0 {
				json.NewEncoder(w).Encode(map[string]any{"status": "0", "message": "No records found", "result": []any{}})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"status": "1", "message": "OK", "result": listing})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeConfig writes a config for a sqlite store fed by the explorer at url.
func writeConfig(t *testing.T, url string) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "contracts.db")
	cfgPath = filepath.Join(dir, "contractsync.yaml")
	doc := fmt.Sprintf(`store:
  kind: sqlite
  path: %s
source:
  kind: explorer
  explorer:
    url: %s/api
`, dbPath, url)
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))
	return cfgPath, dbPath
}

// fixture starts an explorer with contracts at blocks 1..latest and returns
// a config pointing at it.
func fixture(t *testing.T, latest uint64) string {
	t.Helper()
	srv := explorerServer(t, latest, testutil.Contracts(1, latest, 4)...)
	cfg, _ := writeConfig(t, srv.URL)
	return cfg
}

// execute runs the root command with args.
func execute(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

// decodeData decodes the data member of a JSON CLI response into v.
func decodeData(t *testing.T, stdout string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}
