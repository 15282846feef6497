// Package app renders pipeline progress as a terminal UI. The pipeline
// runs in its own goroutine and feeds the model through tea.Program.Send
// via a progress.Reporter; the UI never drives the pipeline.
package app

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	prog "github.com/epo-tools/epoparquet/internal/progress"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	headerStyle = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	barStyle    = lipgloss.NewStyle().Padding(0, 1)

	fileStatusStyle = map[string]lipgloss.Style{
		prog.StatusQueued:      lipgloss.NewStyle().Foreground(lipgloss.Color("248")),
		prog.StatusDownloading: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		prog.StatusExtracting:  lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		prog.StatusParsing:     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		prog.StatusComplete:    lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		prog.StatusSkipped:     lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		prog.StatusError:       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// PipelineDoneMsg ends the UI once the pipeline goroutine returns.
type PipelineDoneMsg struct {
	Err error
}

type fileProgress struct {
	fileName string
	status   string
	percent  float64
	errMsg   string
	start    time.Time
	elapsed  time.Duration
}

// Model is the bubbletea model for a pipeline run.
type Model struct {
	spinner    spinner.Model
	stageBar   progress.Model
	stageName  string
	activity   string
	current    int64
	total      int64
	finishedAt []string

	mu           sync.RWMutex
	fileProgress map[string]*fileProgress
	fileOrder    []string

	// Err carries the pipeline result out of the UI loop.
	Err      error
	done     bool
	quitting bool

	termWidth  int
	termHeight int
}

// NewModel builds the run view.
func NewModel() *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &Model{
		spinner:      s,
		stageBar:     progress.New(progress.WithDefaultGradient()),
		fileProgress: make(map[string]*fileProgress),
	}
}

func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		if w := m.termWidth - 4; w > 0 {
			m.stageBar.Width = w
		}

	case prog.StageMsg:
		m.stageName = msg.Stage
		m.activity = msg.Activity
		m.current = msg.Current
		m.total = msg.Total
		var percent float64
		if msg.Total > 0 {
			percent = float64(msg.Current) / float64(msg.Total)
		}
		cmds = append(cmds, m.stageBar.SetPercent(percent))

	case prog.FileMsg:
		m.applyFileMsg(msg)

	case prog.StageDoneMsg:
		line := fmt.Sprintf("%s finished in %s", msg.Stage, msg.EndTime.Sub(msg.StartTime).Round(time.Millisecond))
		if msg.Err != nil {
			line = errorStyle.Render(fmt.Sprintf("%s failed: %v", msg.Stage, msg.Err))
		}
		m.finishedAt = append(m.finishedAt, line)
		m.mu.Lock()
		m.fileProgress = make(map[string]*fileProgress)
		m.fileOrder = nil
		m.mu.Unlock()

	case PipelineDoneMsg:
		m.Err = msg.Err
		m.done = true
		return m, tea.Quit

	case spinner.TickMsg:
		if !m.done {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case progress.FrameMsg:
		barModel, cmd := m.stageBar.Update(msg)
		if newBar, ok := barModel.(progress.Model); ok {
			m.stageBar = newBar
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) applyFileMsg(msg prog.FileMsg) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fp, exists := m.fileProgress[msg.FileID]
	if !exists {
		fp = &fileProgress{fileName: msg.FileName, status: prog.StatusQueued, start: time.Now()}
		m.fileProgress[msg.FileID] = fp
		m.fileOrder = append(m.fileOrder, msg.FileID)
	}
	fp.status = msg.Status
	fp.errMsg = msg.ErrMsg
	if msg.Total > 0 {
		fp.percent = float64(msg.Current) / float64(msg.Total)
	} else if msg.Status == prog.StatusComplete || msg.Status == prog.StatusSkipped {
		fp.percent = 1.0
	}
	if msg.Elapsed > 0 {
		fp.elapsed = msg.Elapsed
	} else if terminalStatus(msg.Status) && fp.elapsed == 0 {
		fp.elapsed = time.Since(fp.start)
	}
}

func terminalStatus(status string) bool {
	switch status {
	case prog.StatusComplete, prog.StatusSkipped, prog.StatusError:
		return true
	}
	return false
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("--- EPO Bulk Data Pipeline ---"))
	b.WriteString("\n\n")

	for _, line := range m.finishedAt {
		b.WriteString(line)
		b.WriteString("\n")
	}

	if m.quitting {
		b.WriteString(infoStyle.Render("Aborting..."))
		return b.String()
	}
	if m.done {
		if m.Err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Pipeline failed: %v", m.Err)))
		} else {
			b.WriteString(infoStyle.Render("Pipeline complete."))
		}
		b.WriteString("\n")
		return b.String()
	}

	if m.stageName != "" {
		b.WriteString(fmt.Sprintf("%s Stage: %s %s\n", m.spinner.View(), m.stageName, m.activity))
		b.WriteString(barStyle.Render(m.stageBar.View()))
		if m.total > 0 {
			b.WriteString(fmt.Sprintf(" (%d/%d)", m.current, m.total))
		}
		b.WriteString("\n\n")
	} else {
		b.WriteString(fmt.Sprintf("%s Starting...\n\n", m.spinner.View()))
	}

	b.WriteString(m.viewFiles())
	b.WriteString("\n")
	b.WriteString(infoStyle.Render("'q' or Ctrl+C to abort."))
	return b.String()
}

func (m *Model) viewFiles() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.fileOrder) == 0 {
		return ""
	}

	maxLines := m.termHeight - 10
	if maxLines < 1 {
		maxLines = 1
	}
	startIdx := 0
	if len(m.fileOrder) > maxLines {
		startIdx = len(m.fileOrder) - maxLines
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-40s | %-12s | %s", "File", "Status", "Elapsed")))
	b.WriteString("\n")
	for i := startIdx; i < len(m.fileOrder); i++ {
		fp := m.fileProgress[m.fileOrder[i]]
		if fp == nil {
			continue
		}
		style, ok := fileStatusStyle[fp.status]
		if !ok {
			style = infoStyle
		}

		elapsed := ""
		if fp.elapsed > 0 {
			elapsed = fp.elapsed.Round(time.Millisecond).String()
		} else if !terminalStatus(fp.status) && fp.status != prog.StatusQueued {
			elapsed = time.Since(fp.start).Round(time.Second).String() + "..."
		}

		name := fp.fileName
		if len(name) > 40 {
			name = name[:37] + "..."
		}
		b.WriteString(fmt.Sprintf("%-40s | %-12s | %s\n", name, style.Render(fp.status), elapsed))
		if fp.status == prog.StatusError && fp.errMsg != "" {
			b.WriteString(errorStyle.Render("  -> " + fp.errMsg))
			b.WriteString("\n")
		}
	}
	return b.String()
}
