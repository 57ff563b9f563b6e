package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/agentic-research/gffload/api"
	"github.com/agentic-research/gffload/internal/ingest"
	"github.com/agentic-research/gffload/internal/lockfile"
	"github.com/agentic-research/gffload/internal/progress"
	"github.com/agentic-research/gffload/internal/store"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "gffload",
	Short:         "Load GFF3 genome annotations into a feature database",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// importRequest is one import as the CLI and the MCP tool describe it.
type importRequest struct {
	StorePath    string
	GFFPath      string
	AnalysisName string
	Config       api.ImportConfig
	Log          io.Writer
	Progress     *progress.Reporter
}

// runImport loads a GFF3 file into the store inside a single transaction,
// holding the store's lock for the duration.
func runImport(ctx context.Context, req importRequest) (*ingest.Summary, error) {
	lock, err := lockfile.Acquire(lockfile.PathFor(req.StorePath))
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	db, err := store.Open(req.StorePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	logOut := req.Log
	if logOut == nil {
		logOut = os.Stderr
	}
	logger := log.New(logOut, "gffload: ", log.LstdFlags)

	var summary *ingest.Summary
	err = db.RunInTx(ctx, func(tx *store.Tx) error {
		cfg := req.Config
		if req.AnalysisName != "" && cfg.AnalysisID == 0 {
			id, err := tx.EnsureAnalysis(ctx, req.AnalysisName, "gffload")
			if err != nil {
				return err
			}
			cfg.AnalysisID = id
		}
		im, err := ingest.New(tx, cfg, ingest.WithLogger(logger), ingest.WithProgress(req.Progress))
		if err != nil {
			return err
		}
		summary, err = im.ImportFile(ctx, req.GFFPath)
		return err
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}
