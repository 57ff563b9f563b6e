package cmd

import (
	"context"
	"io"

	"github.com/agentic-research/gffload/api"
	"github.com/agentic-research/gffload/internal/progress"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the importer as an MCP tool over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.ServeStdio(newMCPServer(cmd.ErrOrStderr()))
	},
}

func newMCPServer(logOut io.Writer) *server.MCPServer {
	s := server.NewMCPServer("gffload", version, server.WithToolCapabilities(false))
	tool := mcp.NewTool("import_gff3",
		mcp.WithDescription("Import a GFF3 annotation file into a SQLite feature database and return the run summary"),
		mcp.WithString("store", mcp.Required(), mcp.Description("Path to the SQLite feature database")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the GFF3 file")),
		mcp.WithNumber("organism_id", mcp.Required(), mcp.Description("Organism the features belong to")),
		mcp.WithNumber("analysis_id", mcp.Description("Analysis to link loaded features to")),
		mcp.WithString("landmark_type", mcp.Description("Type of landmarks created for undeclared sequences")),
		mcp.WithString("target_type", mcp.Description("Type of created alignment targets")),
		mcp.WithBoolean("create_target", mcp.Description("Create alignment targets missing from the file and the database")),
		mcp.WithBoolean("create_organism", mcp.Description("Create organisms named by organism attributes")),
		mcp.WithBoolean("skip_protein", mcp.Description("Do not infer polypeptides")),
	)
	s.AddTool(tool, importToolHandler(logOut))
	return s
}

func importToolHandler(logOut io.Writer) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		storeArg, err := req.RequireString("store")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		path, err := req.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		organism, err := req.RequireFloat("organism_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		cfg := api.ImportConfig{
			OrganismID:     int64(organism),
			AnalysisID:     int64(req.GetFloat("analysis_id", 0)),
			LandmarkType:   req.GetString("landmark_type", ""),
			TargetType:     req.GetString("target_type", ""),
			CreateTarget:   req.GetBool("create_target", false),
			CreateOrganism: req.GetBool("create_organism", false),
			SkipProtein:    req.GetBool("skip_protein", false),
		}
		if err := cfg.Validate(); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		summary, err := runImport(ctx, importRequest{
			StorePath: storeArg,
			GFFPath:   path,
			Config:    cfg,
			Log:       logOut,
			Progress:  progress.Discard(),
		})
		if err != nil {
			return mcp.NewToolResultErrorFromErr("import failed", err), nil
		}
		return mcp.NewToolResultText(oj.JSON(summary.Map(), &ojg.Options{Indent: 2, Sort: true})), nil
	}
}
