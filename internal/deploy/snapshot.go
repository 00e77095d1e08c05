package deploy

import "time"

// GateResult is one evaluated quality gate of a completed phase.
type GateResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// PhaseState is the per-phase view in the snapshot.
type PhaseState struct {
	Progress int          `json:"progress"`
	Status   PhaseStatus  `json:"status"`
	Gates    []GateResult `json:"gates"`
}

// Decision is one append-only ledger entry.
type Decision struct {
	Decision   string    `json:"decision"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence string    `json:"confidence"`
}

// Snapshot is the complete, transport-agnostic state of a deployment at one
// instant. Push subscribers and pollers receive this exact shape; there is
// no second derivation.
type Snapshot struct {
	DeploymentID    string                    `json:"deployment_id"`
	OverallProgress int                       `json:"overall_progress"`
	CurrentPhase    PhaseName                 `json:"current_phase"`
	QualityScore    int                       `json:"quality_score"`
	Phases          map[PhaseName]*PhaseState `json:"phases"`
	Steps           []Step                    `json:"steps"`
	Endpoints       map[string]string         `json:"endpoints,omitempty"`
	Success         bool                      `json:"success"`
	DecisionsMade   []Decision                `json:"decisions_made"`
	TechnicalDebt   []string                  `json:"technical_debt"`
}
