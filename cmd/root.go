package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/loadstone/api"
	"github.com/agentic-research/loadstone/internal/catalog"
	"github.com/agentic-research/loadstone/internal/ingest"
)

var (
	catalogPath string
	dataDir     string
	formatName  string
	rawOptions  []string
)

var rootCmd = &cobra.Command{
	Use:   "loadstone",
	Short: "Loadstone: idempotent file ingestion into versioned tables",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "Path to the catalog database")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for materialized data files")
}

// addFormatFlags registers the source-format flags shared by create and
// ingest.
func addFormatFlags(c *cobra.Command) {
	c.Flags().StringVarP(&formatName, "format", "f", string(api.FormatDelimited), "Source format: delimited, jsonl, parquet")
	c.Flags().StringArrayVarP(&rawOptions, "option", "o", nil, "Format option key=value (separator, hasHeader, failureMode, mergeSchema)")
}

// resolvePaths fills in the default ~/.agentic-research/loadstone layout
// when no explicit catalog or data dir was given.
func resolvePaths() error {
	if catalogPath != "" && dataDir != "" {
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home dir: %w", err)
	}
	base := filepath.Join(home, ".agentic-research", "loadstone")
	if catalogPath == "" {
		catalogPath = filepath.Join(base, "catalog.db")
	}
	if dataDir == "" {
		dataDir = filepath.Join(base, "data")
	}
	return nil
}

// openEngine builds the engine over the local filesystem. Callers must
// close the returned catalog.
func openEngine() (*ingest.Engine, *catalog.Catalog, error) {
	if err := resolvePaths(); err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(filepath.Dir(catalogPath), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create catalog dir: %w", err)
	}
	cat, err := catalog.Open(catalogPath)
	if err != nil {
		return nil, nil, err
	}
	return ingest.New(cat, osfs.New("/"), dataDir), cat, nil
}

// parseCLIOptions turns repeated --option key=value flags into validated
// ingestion options for the declared format.
func parseCLIOptions() (api.Options, error) {
	f, err := api.ParseFormat(formatName)
	if err != nil {
		return api.Options{}, err
	}
	raw := make(map[string]string, len(rawOptions))
	for _, kv := range rawOptions {
		key, val, ok := splitKV(kv)
		if !ok {
			return api.Options{}, fmt.Errorf("%w: option %q is not key=value", api.ErrInvalidOption, kv)
		}
		raw[key] = val
	}
	return api.ParseOptions(f, raw)
}

func splitKV(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

// absLocation canonicalizes a source location for the osfs-rooted engine.
func absLocation(location string) (string, error) {
	abs, err := filepath.Abs(location)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", location, err)
	}
	return abs, nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
