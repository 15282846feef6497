package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/epo-tools/epoparquet/internal/db"
)

var stateLimit int
var stateFilterEvent string

var stateCmd = &cobra.Command{
	Use:   "state [filetype]",
	Short: "View the event log history for tracked files.",
	Long: `Queries the DuckDB event log and displays the history for tracked
files. Specify 'items', 'archives' or 'xml' as an optional argument to
filter by file type. Use flags to filter by event and limit the output.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		fileTypeFilter := ""
		if len(args) > 0 {
			switch strings.ToLower(args[0]) {
			case "items", "item":
				fileTypeFilter = db.FileTypeItem
			case "archives", "archive":
				fileTypeFilter = db.FileTypeArchive
			case "xml", "xmls":
				fileTypeFilter = db.FileTypeXML
			default:
				return fmt.Errorf("invalid filetype filter: %s (use 'items', 'archives' or 'xml')", args[0])
			}
		}

		logger.Info("Querying database event log.",
			"type_filter", fileTypeFilter,
			"event_filter", stateFilterEvent,
			"limit", stateLimit,
		)
		return db.DisplayFileHistory(context.Background(), getDB(), fileTypeFilter, stateFilterEvent, stateLimit)
	},
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of log records displayed")
	stateCmd.Flags().StringVarP(&stateFilterEvent, "event", "e", "", "Filter records by event type (e.g. download_end, error, parse_start)")
}
