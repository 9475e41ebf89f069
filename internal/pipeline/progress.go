package pipeline

import (
	"time"

	"github.com/ad-scout/internal/logging"
)

// PhaseReport summarizes one pipeline phase
type PhaseReport struct {
	Phase    int           `json:"phase"`
	Name     string        `json:"name"`
	In       int           `json:"in"`  // units entering the phase
	Out      int           `json:"out"` // units surviving it
	Duration time.Duration `json:"duration"`
}

// ProgressReporter receives phase lifecycle events. Implementations must be
// cheap; they are called inline between phases.
type ProgressReporter interface {
	PhaseStarted(phase int, name string, in int)
	PhaseCompleted(report PhaseReport)
}

// LogProgress reports phase progress through the logger
type LogProgress struct {
	logger *logging.Logger
}

// NewLogProgress creates a logging progress reporter
func NewLogProgress(logger *logging.Logger) *LogProgress {
	return &LogProgress{logger: logger}
}

// PhaseStarted logs the phase entry
func (p *LogProgress) PhaseStarted(phase int, name string, in int) {
	p.logger.WithFields(map[string]interface{}{
		"phase": phase,
		"name":  name,
		"in":    in,
	}).Info("phase started")
}

// PhaseCompleted logs the phase outcome
func (p *LogProgress) PhaseCompleted(report PhaseReport) {
	p.logger.WithFields(map[string]interface{}{
		"phase":    report.Phase,
		"name":     report.Name,
		"in":       report.In,
		"out":      report.Out,
		"duration": report.Duration.String(),
	}).Info("phase completed")
}

// NoopProgress discards progress events
type NoopProgress struct{}

// PhaseStarted does nothing
func (NoopProgress) PhaseStarted(phase int, name string, in int) {}

// PhaseCompleted does nothing
func (NoopProgress) PhaseCompleted(report PhaseReport) {}
