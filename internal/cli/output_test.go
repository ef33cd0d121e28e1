package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contractsync/internal/engine"
	"github.com/roach88/contractsync/internal/record"
	"github.com/roach88/contractsync/internal/store"
	"github.com/roach88/contractsync/internal/syncmeta"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(HeadResult{Entries: []HeadEntry{{Address: "0xabc", Block: 7}}})
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   HeadResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, uint64(7), resp.Data.Entries[0].Block)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeSource, "explorer unreachable", nil)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeSource, resp.Error.Code)
	assert.Equal(t, "explorer unreachable", resp.Error.Message)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	require.NoError(t, formatter.Success("nothing to do"))
	assert.Equal(t, "nothing to do\n", buf.String())
}

func TestOutputFormatter_TextRenderer(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success(StatusResult{
		Kind:      "sqlite",
		Path:      "contracts.db",
		Eviction:  "cutoff",
		Conflict:  "first",
		Records:   12345,
		SizeBytes: 1048576,
		Metadata: syncmeta.Metadata{
			OldestBlock: syncmeta.Block(17000000),
			NewestBlock: syncmeta.Block(17000100),
			SizeLimit:   41943040,
		},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "records: 12,345")
	assert.Contains(t, out, "size: 1,048,576 / 41,943,040 bytes")
	assert.Contains(t, out, "covered: blocks 17000000-17000100")
	assert.Contains(t, out, "cutoff, first-write-wins")
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	err := formatter.Error("E001", "sync failed", map[string]string{"range": "[1,2]"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]: sync failed")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			errBuf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    buf,
				ErrWriter: errBuf,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("fetching %s", "[1,2]")

			assert.Empty(t, buf.String())
			if tt.wantLog {
				assert.Equal(t, "fetching [1,2]\n", errBuf.String())
			} else {
				assert.Empty(t, errBuf.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "open", errors.New("denied")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"integrity", fmt.Errorf("fetch: %w", record.ErrIntegrity), ErrCodeIntegrity},
		{"truncated", fmt.Errorf("commit: %w", store.ErrTruncated), ErrCodeTruncated},
		{"sync error", &engine.SyncError{Code: engine.ErrCodeSource, Message: "fetch"}, ErrCodeSource},
		{"store error", &engine.SyncError{Code: engine.ErrCodeStore, Message: "merge"}, ErrCodeStore},
		{"other", errors.New("boom"), ErrCodeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}
