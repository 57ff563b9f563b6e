package cmd

import (
	"fmt"
	"os"

	"github.com/agentic-research/gffload/api"
	"github.com/agentic-research/gffload/internal/config"
	"github.com/agentic-research/gffload/internal/progress"
	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
)

var (
	storePath    string
	configPath   string
	analysisName string
	jsonOutput   bool
	quiet        bool

	// flagConfig receives flag values; only flags set on the command line
	// override the config file.
	flagConfig api.ImportConfig
)

func init() {
	f := importCmd.Flags()
	f.StringVarP(&storePath, "store", "d", "", "Path to the SQLite feature database (created if missing)")
	f.StringVarP(&configPath, "config", "c", "", "Import options file (.hcl, .yaml, .yml or .json)")
	f.StringVar(&analysisName, "analysis-name", "", "Link features to this analysis, creating it if needed")
	f.BoolVar(&jsonOutput, "json", false, "Print the run summary as JSON")
	f.BoolVarP(&quiet, "quiet", "q", false, "Suppress progress output")

	f.Int64Var(&flagConfig.OrganismID, "organism-id", 0, "Organism the features belong to")
	f.Int64Var(&flagConfig.AnalysisID, "analysis-id", 0, "Analysis to link every loaded feature to")
	f.BoolVar(&flagConfig.SkipProtein, "skip-protein", false, "Do not infer polypeptides for CDS-bearing transcripts")
	f.BoolVar(&flagConfig.CreateOrganism, "create-organism", false, "Create organisms named by organism attributes")
	f.BoolVar(&flagConfig.CreateTarget, "create-target", false, "Create alignment targets missing from the file and the database")
	f.StringVar(&flagConfig.LandmarkType, "landmark-type", "", "Type of landmarks created for undeclared sequences")
	f.StringVar(&flagConfig.AltIDAttr, "alt-id-attr", "", "Attribute used as identifier when ID and Name are absent")
	f.StringVar(&flagConfig.ReMRNA, "re-mrna", "", "Regular expression matching transcript uniquenames")
	f.StringVar(&flagConfig.ReProtein, "re-protein", "", "Replacement deriving inferred protein names")
	f.Int64Var(&flagConfig.TargetOrganismID, "target-organism-id", 0, "Organism of created alignment targets")
	f.StringVar(&flagConfig.TargetType, "target-type", "", "Type of created alignment targets")
	f.IntVar(&flagConfig.StartLine, "start-line", 0, "Skip feature lines before this line number")
	f.IntVar(&flagConfig.BatchSize, "batch-size", api.DefaultBatchSize, "Rows per multi-row write")
	f.StringVar(&flagConfig.CacheDir, "cache-dir", "", "Directory for the temporary feature cache")
	f.BoolVar(&flagConfig.SourceDbxref, "source-dbxref", false, "Add a GFF_source:<source> cross-reference to every feature")

	_ = importCmd.MarkFlagRequired("store")
	rootCmd.AddCommand(importCmd)
}

// mergeFlags copies every flag the user set over cfg.
func mergeFlags(cmd *cobra.Command, cfg *api.ImportConfig, flags *api.ImportConfig) {
	overrides := map[string]func(){
		"organism-id":        func() { cfg.OrganismID = flags.OrganismID },
		"analysis-id":        func() { cfg.AnalysisID = flags.AnalysisID },
		"skip-protein":       func() { cfg.SkipProtein = flags.SkipProtein },
		"create-organism":    func() { cfg.CreateOrganism = flags.CreateOrganism },
		"create-target":      func() { cfg.CreateTarget = flags.CreateTarget },
		"landmark-type":      func() { cfg.LandmarkType = flags.LandmarkType },
		"alt-id-attr":        func() { cfg.AltIDAttr = flags.AltIDAttr },
		"re-mrna":            func() { cfg.ReMRNA = flags.ReMRNA },
		"re-protein":         func() { cfg.ReProtein = flags.ReProtein },
		"target-organism-id": func() { cfg.TargetOrganismID = flags.TargetOrganismID },
		"target-type":        func() { cfg.TargetType = flags.TargetType },
		"start-line":         func() { cfg.StartLine = flags.StartLine },
		"batch-size":         func() { cfg.BatchSize = flags.BatchSize },
		"cache-dir":          func() { cfg.CacheDir = flags.CacheDir },
		"source-dbxref":      func() { cfg.SourceDbxref = flags.SourceDbxref },
	}
	for name, apply := range overrides {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
}

var importCmd = &cobra.Command{
	Use:   "import [file.gff3]",
	Short: "Import a GFF3 file into the feature database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		mergeFlags(cmd, cfg, &flagConfig)
		if err := cfg.Validate(); err != nil {
			return err
		}

		reporter := progress.New(os.Stderr)
		if quiet || jsonOutput {
			reporter = progress.Discard()
		}

		summary, err := runImport(cmd.Context(), importRequest{
			StorePath:    storePath,
			GFFPath:      args[0],
			AnalysisName: analysisName,
			Config:       *cfg,
			Log:          cmd.ErrOrStderr(),
			Progress:     reporter,
		})
		if err != nil {
			return fmt.Errorf("import %s: %w", args[0], err)
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			_, err = fmt.Fprintln(out, oj.JSON(summary.Map(), &ojg.Options{Indent: 2, Sort: true}))
			return err
		}
		_, err = fmt.Fprintln(out, summary.String())
		return err
	},
}
