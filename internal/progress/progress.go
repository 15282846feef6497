// Package progress carries best-effort progress events from pipeline
// stages to whoever wants to display them. Events are observability
// only; dropping or ignoring them never affects pipeline correctness.
package progress

import "time"

// File statuses used in FileMsg.
const (
	StatusQueued      = "Queued"
	StatusDownloading = "Downloading"
	StatusExtracting  = "Extracting"
	StatusParsing     = "Parsing"
	StatusComplete    = "Complete"
	StatusSkipped     = "Skipped"
	StatusError       = "Error"
)

// StageMsg updates the overall progress of a pipeline stage.
type StageMsg struct {
	Stage    string // "Download", "Extract", "Parse"
	Current  int64
	Total    int64
	Activity string
}

// FileMsg updates the progress of a single file within a stage.
type FileMsg struct {
	FileID   string
	FileName string
	Status   string
	Current  int64 // e.g. bytes downloaded
	Total    int64 // e.g. declared size, -1 if unknown
	Elapsed  time.Duration
	ErrMsg   string
}

// StageDoneMsg signals the completion of a whole stage.
type StageDoneMsg struct {
	Stage     string
	Err       error
	StartTime time.Time
	EndTime   time.Time
	Message   string
}

// Reporter fans events out to a consumer-supplied sink. A nil Reporter
// discards everything, so stages never need to guard their calls.
type Reporter struct {
	send func(msg any)
}

// NewReporter wraps a sink function, typically tea.Program.Send or a
// logging drain.
func NewReporter(send func(msg any)) *Reporter {
	return &Reporter{send: send}
}

// Stage reports overall stage progress.
func (r *Reporter) Stage(stage string, current, total int64, activity string) {
	if r == nil || r.send == nil {
		return
	}
	r.send(StageMsg{Stage: stage, Current: current, Total: total, Activity: activity})
}

// File reports per-file progress.
func (r *Reporter) File(fileID, fileName, status string, current, total int64, elapsed time.Duration, errMsg string) {
	if r == nil || r.send == nil {
		return
	}
	r.send(FileMsg{
		FileID:   fileID,
		FileName: fileName,
		Status:   status,
		Current:  current,
		Total:    total,
		Elapsed:  elapsed,
		ErrMsg:   errMsg,
	})
}

// StageDone reports a stage finishing, successfully or not.
func (r *Reporter) StageDone(stage string, start time.Time, err error, message string) {
	if r == nil || r.send == nil {
		return
	}
	r.send(StageDoneMsg{
		Stage:     stage,
		Err:       err,
		StartTime: start,
		EndTime:   time.Now(),
		Message:   message,
	})
}
