package cmd

import (
	"github.com/spf13/cobra"

	"github.com/epo-tools/epoparquet/internal/orchestrator"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Unpack every archive under the download directory.",
	Long: `Recursively unpacks gz, tar, tar.gz and zip archives under the
download directory, including archives that only appear after another
archive has been extracted. A corrupt archive is logged and skipped; it
never stops its siblings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return orchestrator.RunExtract(cmd.Context(), getConfig(), getDB(), getLogger(), nil)
	},
}
