package cmd

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/epo-tools/epoparquet/internal/app"
	"github.com/epo-tools/epoparquet/internal/config"
	"github.com/epo-tools/epoparquet/internal/orchestrator"
	"github.com/epo-tools/epoparquet/internal/progress"
)

var (
	useTUI        bool
	stageDownload bool
	stageExtract  bool
	stageParse    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: download, extract, parse.",
	Long: `Fetches the product catalog, downloads and verifies every item,
extracts all archives, and projects the extracted XML into the configured
outputs. Stages can be skipped individually; skipped stages assume their
output already exists on disk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getConfig()
		cfg.Download = stageDownload
		cfg.Extract = stageExtract
		cfg.Parse = stageParse

		if !useTUI {
			return orchestrator.RunPipeline(cmd.Context(), cfg, getDB(), getLogger(), nil)
		}
		return runWithTUI(cmd.Context(), cfg)
	},
}

// runWithTUI runs the pipeline in a goroutine and renders its progress
// events until the pipeline finishes or the user aborts.
func runWithTUI(ctx context.Context, cfg config.Config) error {
	model := app.NewModel()
	program := tea.NewProgram(model, tea.WithOutput(os.Stderr))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reporter := progress.NewReporter(program.Send)
	go func() {
		err := orchestrator.RunPipeline(ctx, cfg, getDB(), getLogger(), reporter)
		program.Send(app.PipelineDoneMsg{Err: err})
	}()

	finalModel, err := program.Run()
	cancel()
	if err != nil {
		return err
	}
	if m, ok := finalModel.(*app.Model); ok {
		return m.Err
	}
	return nil
}

func init() {
	runCmd.Flags().BoolVar(&useTUI, "tui", false, "Render progress as a terminal UI instead of log lines")
	runCmd.Flags().BoolVar(&stageDownload, "download", true, "Run the download stage")
	runCmd.Flags().BoolVar(&stageExtract, "extract", true, "Run the extract stage")
	runCmd.Flags().BoolVar(&stageParse, "parse", true, "Run the parse stage")
}
