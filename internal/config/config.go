// Package config holds the indexbridge runtime configuration.
//
// Values are bound from flags, environment variables and an optional INI
// file through github.com/jessevdk/go-flags struct tags. Default() builds
// the same configuration without parsing anything, for tests and for
// library callers that wire components by hand.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// IniFilename is looked up in the working directory and in
// ~/.config/indexbridge when parsing configuration.
const IniFilename = "indexbridge.ini"

// WALConfig configures the write-ahead log and its background tasks.
type WALConfig struct {
	LogFile          string        `long:"log-file" env:"LOG_FILE" default:"wal.jsonl" description:"Journal file name, relative to the data directory"`
	RecoveryInterval time.Duration `long:"recovery-interval" env:"RECOVERY_INTERVAL" default:"5m" description:"Interval between recovery runs"`
	CleanupInterval  time.Duration `long:"cleanup-interval" env:"CLEANUP_INTERVAL" default:"24h" description:"Interval between cleanup runs"`
	RetentionDays    int           `long:"retention-days" env:"RETENTION_DAYS" default:"7" description:"Successful entries older than this are purged"`
	RecoveryBatch    int           `long:"recovery-batch" env:"RECOVERY_BATCH" default:"10" description:"Maximum failed operations retried per recovery run"`
}

// IndexConfig configures the vector and graph indexes.
type IndexConfig struct {
	Collection   string `long:"collection" env:"COLLECTION" default:"code_embeddings" description:"Vector collection name"`
	UserID       string `long:"user-id" env:"USER_ID" default:"default" description:"User the indexes are maintained for"`
	Dimensions   int    `long:"dimensions" env:"DIMENSIONS" default:"256" description:"Embedding dimensions"`
	ChunkLines   int    `long:"chunk-lines" env:"CHUNK_LINES" default:"40" description:"Lines per embedded chunk"`
	ApplyRetries uint64 `long:"apply-retries" env:"APPLY_RETRIES" default:"2" description:"Immediate retries of a failed index mutation before it is left to recovery"`
}

// OpsConfig configures the operational HTTP surface.
type OpsConfig struct {
	Addr string `long:"addr" env:"ADDR" description:"Listen address of the ops HTTP server (disabled if empty)"`
}

// Config is the top-level configuration of indexbridge.
type Config struct {
	DataDir string `long:"data-dir" env:"DATA_DIR" default:"data" description:"Directory holding the WAL and index databases"`

	WAL   WALConfig   `group:"WAL" namespace:"wal" env-namespace:"WAL"`
	Index IndexConfig `group:"Index" namespace:"index" env-namespace:"INDEX"`
	Ops   OpsConfig   `group:"Ops" namespace:"ops" env-namespace:"OPS"`
	Log   LogConfig   `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

// Default returns the configuration with every default applied.
func Default() Config {
	return Config{
		DataDir: "data",
		WAL: WALConfig{
			LogFile:          "wal.jsonl",
			RecoveryInterval: 5 * time.Minute,
			CleanupInterval:  24 * time.Hour,
			RetentionDays:    7,
			RecoveryBatch:    10,
		},
		Index: IndexConfig{
			Collection:   "code_embeddings",
			UserID:       "default",
			Dimensions:   256,
			ChunkLines:   40,
			ApplyRetries: 2,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Parse binds args (without the program and command name) into a Config.
// An INI file named IniFilename is applied first if one is found; flags
// and environment variables take precedence over it.
func Parse(args []string) (Config, []string, error) {
	var cfg Config
	var parser = flags.NewParser(&cfg, flags.Default&^flags.PrintErrors)

	parser.Options |= flags.IgnoreUnknown
	var ini = flags.NewIniParser(parser)
	for _, dir := range iniDirs() {
		if err := ini.ParseFile(filepath.Join(dir, IniFilename)); err == nil {
			break
		} else if !os.IsNotExist(err) {
			return cfg, nil, errors.WithMessage(err, "parsing "+IniFilename)
		}
	}
	parser.Options &^= flags.IgnoreUnknown

	rest, err := parser.ParseArgs(args)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, rest, nil
}

// Usage renders the flag help for Config.
func Usage() string {
	var cfg Config
	var parser = flags.NewParser(&cfg, flags.None)
	var b strings.Builder
	parser.WriteHelp(&b)
	return b.String()
}

// WALPath returns the absolute location of the journal file.
func (c Config) WALPath() string {
	if filepath.IsAbs(c.WAL.LogFile) {
		return c.WAL.LogFile
	}
	return filepath.Join(c.DataDir, c.WAL.LogFile)
}

// IndexDir returns the directory holding the SQLite index databases.
func (c Config) IndexDir() string {
	return filepath.Join(c.DataDir, "index")
}

func iniDirs() []string {
	var dirs = []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", "indexbridge"))
	}
	return dirs
}
