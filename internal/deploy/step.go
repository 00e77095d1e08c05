package deploy

import "time"

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// Terminal reports whether a step in this status is immutable.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// StepError is the structured failure carried on a failed step.
type StepError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Step is one unit of provisioning work within a phase. Status only ever
// moves pending -> in_progress -> completed|failed; once terminal the step
// is never mutated again.
type Step struct {
	ID          string                 `json:"id"`
	Phase       PhaseName              `json:"phase"`
	Name        string                 `json:"name"`
	Status      StepStatus             `json:"status"`
	Progress    int                    `json:"progress"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Error       *StepError             `json:"error,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

func (s *Step) clone() Step {
	out := *s
	if s.Details != nil {
		out.Details = make(map[string]interface{}, len(s.Details))
		for k, v := range s.Details {
			out.Details[k] = v
		}
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	return out
}
