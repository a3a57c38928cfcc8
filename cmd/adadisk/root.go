package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hupe1980/adadisk/config"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	dataDir    string
	dataset    string
	engine     string
	logLevel   string
	noProgress bool
}

func (f *rootFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		// The journal follows the data directory unless it was placed explicitly.
		if cfg.Audit.Path == filepath.Join(cfg.DataDir, "audit.db") {
			cfg.Audit.Path = ""
		}
		cfg.DataDir = f.dataDir
	}
	if flags.Changed("dataset") {
		cfg.Dataset = f.dataset
	}
	if flags.Changed("engine") {
		cfg.Engine.Kind = f.engine
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}

	root := &cobra.Command{
		Use:   "adadisk",
		Short: "Dataset and index lifecycle coordinator",
		Long: `adadisk prepares synthetic vector datasets and disk-resident ANN indexes
for two roles sharing one data directory.

The ingest role always regenerates its dataset and rebuilds its index.
The query role reuses whatever exists, builds only what is missing,
then loads the index and runs a k-nearest-neighbor search.

Examples:
  adadisk init                 # Write adadisk.yaml with the defaults
  adadisk run                  # Run ingest and query concurrently
  adadisk query --k 10         # Run only the query role
  adadisk status               # Show what each role has on disk
  adadisk audit                # Show the run journal`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", config.DefaultPath, "configuration file")
	pf.StringVar(&f.dataDir, "data-dir", "", "data directory (overrides data_dir)")
	pf.StringVar(&f.dataset, "dataset", "", "dataset name (overrides dataset)")
	pf.StringVar(&f.engine, "engine", "", "index engine: vamana or cli (overrides engine.kind)")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.BoolVar(&f.noProgress, "no-progress", false, "disable the build spinner")

	root.AddCommand(
		newIngestCmd(f),
		newQueryCmd(f),
		newRunCmd(f),
		newStatusCmd(f),
		newAuditCmd(f),
		newInitCmd(f),
	)
	return root
}
