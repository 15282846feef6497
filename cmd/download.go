package cmd

import (
	"github.com/spf13/cobra"

	"github.com/epo-tools/epoparquet/internal/orchestrator"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Fetch the product catalog and download all items.",
	Long: `Fetches the catalog for the configured product and downloads every
delivery item into the download directory. Each file's SHA-1 digest is
verified against the catalog; mismatched files are deleted and reported.
Items already present on disk are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return orchestrator.RunDownload(cmd.Context(), getConfig(), getDB(), getLogger(), nil)
	},
}
