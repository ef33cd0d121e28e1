// Package config loads contractsync settings from a YAML file.
//
// Loading happens in four steps: start from Default, decode the file over it
// (unknown keys are rejected), apply credential overrides from the
// environment, then validate the result against an embedded CUE schema.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override credentials from the file.
const (
	EnvExplorerAPIKey = "CONTRACTSYNC_EXPLORER_API_KEY"
	EnvWarehouseDSN   = "CONTRACTSYNC_WAREHOUSE_DSN"
	EnvRPCURL         = "CONTRACTSYNC_RPC_URL"
)

// Store kinds.
const (
	StoreLog    = "log"
	StoreSQLite = "sqlite"
)

// Source kinds.
const (
	SourceDataset   = "dataset"
	SourceWarehouse = "warehouse"
	SourceExplorer  = "explorer"
	SourceRPC       = "rpc"
)

// Sync modes.
const (
	ModeForward = "forward"
	ModeDescend = "descend"
)

// Config is the complete contractsync configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" json:"store"`
	Source  SourceConfig  `yaml:"source" json:"source"`
	Sync    SyncConfig    `yaml:"sync" json:"sync"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// StoreConfig selects the sink.
type StoreConfig struct {
	// Kind is "log" (evicting JSONL log) or "sqlite" (growing store).
	Kind string `yaml:"kind" json:"kind"`

	Path string `yaml:"path" json:"path"`

	// MetadataPath is where the log sink keeps its metadata document.
	// Defaults to metadata.json next to the log.
	MetadataPath string `yaml:"metadata_path" json:"metadata_path"`

	// SizeLimitMB is the budget used before any limit has been persisted.
	// Zero uses the sink's default.
	SizeLimitMB float64 `yaml:"size_limit_mb" json:"size_limit_mb"`

	// Conflict is "first" or "latest". Empty uses the sink's default.
	Conflict string `yaml:"conflict" json:"conflict"`
}

// SourceConfig selects and configures the upstream source.
type SourceConfig struct {
	Kind string `yaml:"kind" json:"kind"`

	Dataset   DatasetConfig   `yaml:"dataset" json:"dataset"`
	Warehouse WarehouseConfig `yaml:"warehouse" json:"warehouse"`
	Explorer  ExplorerConfig  `yaml:"explorer" json:"explorer"`
	RPC       RPCConfig       `yaml:"rpc" json:"rpc"`
}

// DatasetConfig points at a parquet dataset: a file, a directory or an
// s3:// URI.
type DatasetConfig struct {
	URI               string `yaml:"uri" json:"uri"`
	S3Region          string `yaml:"s3_region" json:"s3_region"`
	S3AccessKeyID     string `yaml:"s3_access_key_id" json:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key" json:"s3_secret_access_key"`
	S3Endpoint        string `yaml:"s3_endpoint" json:"s3_endpoint"`
}

type WarehouseConfig struct {
	DSN                string `yaml:"dsn" json:"dsn"`
	Table              string `yaml:"table" json:"table"`
	MinCodeSize        int    `yaml:"min_code_size" json:"min_code_size"`
	SkipMinimalProxies bool   `yaml:"skip_minimal_proxies" json:"skip_minimal_proxies"`
	DedupBytecode      bool   `yaml:"dedup_bytecode" json:"dedup_bytecode"`
}

type ExplorerConfig struct {
	URL          string        `yaml:"url" json:"url"`
	APIKey       string        `yaml:"api_key" json:"api_key"`
	VerifiedOnly bool          `yaml:"verified_only" json:"verified_only"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
}

type RPCConfig struct {
	URL  string `yaml:"url" json:"url"`
	Name string `yaml:"name" json:"name"`
}

// SyncConfig tunes Descend and the continuous scheduler.
type SyncConfig struct {
	Mode      string        `yaml:"mode" json:"mode"`
	PageRows  int           `yaml:"page_rows" json:"page_rows"`
	Interval  time.Duration `yaml:"interval" json:"interval"`
	MaxRounds int64         `yaml:"max_rounds" json:"max_rounds"`

	// RoundWindows bounds the descend windows of one watch round. Zero lets a
	// round run to block 0 or the size cap.
	RoundWindows int `yaml:"round_windows" json:"round_windows"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics and /healthz. Empty disables.
	Addr string `yaml:"addr" json:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Kind: StoreSQLite,
		},
		Source: SourceConfig{
			Warehouse: WarehouseConfig{Table: "contracts"},
			Explorer:  ExplorerConfig{Timeout: 10 * time.Second},
			RPC:       RPCConfig{Name: "node"},
		},
		Sync: SyncConfig{
			Mode:     ModeForward,
			PageRows:     2000,
			Interval:     5 * time.Second,
			RoundWindows: 10,
		},
	}
}

// Load reads path, applies environment overrides and validates the result.
// An empty path loads the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if cfg, err = Parse(bytes.NewReader(data)); err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults. Unknown keys are rejected so typos
// fail loudly.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides credentials with non-empty environment values.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvExplorerAPIKey); v != "" {
		c.Source.Explorer.APIKey = v
	}
	if v := getenv(EnvWarehouseDSN); v != "" {
		c.Source.Warehouse.DSN = v
	}
	if v := getenv(EnvRPCURL); v != "" {
		c.Source.RPC.URL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		switch c.Store.Kind {
		case StoreLog:
			c.Store.Path = "contracts.jsonl"
		case StoreSQLite:
			c.Store.Path = "contracts.db"
		}
	}
}

// SizeLimitBytes converts a size in megabytes to bytes.
func SizeLimitBytes(mb float64) int64 {
	return int64(mb * (1 << 20))
}
