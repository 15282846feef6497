package cmd

import (
	"github.com/spf13/cobra"

	"github.com/epo-tools/epoparquet/internal/orchestrator"
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Project extracted XML files into CSV and/or Parquet.",
	Long: `Walks the download directory for .xml files and writes one record
per exchange document to the configured outputs. A single unparseable
document aborts the whole run; the stage either produces a complete
dataset or none at all.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return orchestrator.RunParse(cmd.Context(), getConfig(), getDB(), getLogger(), nil)
	},
}
