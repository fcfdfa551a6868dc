package domain

import "time"

type OutcomeStatus string

const (
	OutcomeOK       OutcomeStatus = "ok"
	OutcomeSkipped  OutcomeStatus = "skipped"
	OutcomeDegraded OutcomeStatus = "degraded"
	OutcomeFailed   OutcomeStatus = "failed"
)

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunDegraded  RunStatus = "degraded"
	RunFailed    RunStatus = "failed"
)

type RunTrigger string

const (
	TriggerUpload RunTrigger = "upload"
	TriggerRerun  RunTrigger = "rerun"
)

type StageOutcome struct {
	Name         string        `json:"name"`
	Status       OutcomeStatus `json:"status"`
	DurationMS   float64       `json:"duration_ms"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// RunRecord describes one orchestrator invocation. It is appended to the project history and never edited.
type RunRecord struct {
	RunID      string         `json:"run_id"`
	ProjectID  string         `json:"project_id"`
	Trigger    RunTrigger     `json:"trigger"`
	Status     RunStatus      `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Outcomes   []StageOutcome `json:"outcomes"`
}

// ProjectStatus maps a finished run onto the user visible project status.
func (s RunStatus) ProjectStatus() ProjectStatus {
	switch s {
	case RunCompleted:
		return ProjectReady
	case RunFailed:
		return ProjectFailed
	default:
		return ProjectPartial
	}
}

func (r RunRecord) clone() RunRecord {
	out := r
	out.Outcomes = append([]StageOutcome(nil), r.Outcomes...)
	return out
}
