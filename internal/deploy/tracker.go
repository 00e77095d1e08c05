package deploy

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stackdeploy-io/stackdeploy/internal/logger"
	"github.com/stackdeploy-io/stackdeploy/internal/provision"
)

// Outcome is the tri-state deployment result.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Hooks are invoked on every tracker mutation, under the tracker lock, so
// that snapshots never observe a torn mid-update state and every observer
// sees the same ordered sequence.
type Hooks struct {
	// Publish pushes a fresh snapshot to subscribers and pollers.
	Publish func(Snapshot)
	// AppendResource durably records a created resource the moment its
	// create call is acknowledged.
	AppendResource func(provision.Handle)
}

// Tracker owns all mutable state of one deployment. Every mutation happens
// under a single per-deployment lock, recomputes derived progress, and
// triggers a broadcast. Cross-deployment trackers share nothing.
type Tracker struct {
	mu sync.Mutex

	id        string
	userID    string
	name      string
	createdAt time.Time

	currentPhase PhaseName
	overall      int
	quality      int
	outcome      Outcome
	endpoints    map[string]string
	resources    []provision.Handle
	debt         []string
	ledger       *Ledger

	steps       []*Step
	byID        map[string]*Step
	planned     map[PhaseName]int
	phaseStatus map[PhaseName]PhaseStatus
	gates       map[PhaseName][]GateResult

	hooks Hooks
	log   *logger.Logger
}

func NewTracker(id, userID, name string, hooks Hooks, log *logger.Logger) *Tracker {
	t := &Tracker{
		id:           id,
		userID:       userID,
		name:         name,
		createdAt:    time.Now().UTC(),
		currentPhase: PhaseOrder[0].Name,
		outcome:      OutcomePending,
		ledger:       NewLedger(),
		byID:         make(map[string]*Step),
		planned:      make(map[PhaseName]int),
		phaseStatus:  make(map[PhaseName]PhaseStatus),
		gates:        make(map[PhaseName][]GateResult),
		hooks:        hooks,
		log:          log,
	}
	for _, spec := range PhaseOrder {
		t.phaseStatus[spec.Name] = PhasePending
	}
	return t
}

// ID returns the deployment id.
func (t *Tracker) ID() string { return t.id }

// EnterPhase moves the deployment into the given phase. The current phase
// only ever advances forward through the fixed order.
func (t *Tracker) EnterPhase(phase PhaseName, plannedSteps int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if PhaseIndex(phase) < PhaseIndex(t.currentPhase) {
		t.log.Warn("refusing backward phase transition",
			zap.String("deployment_id", t.id),
			zap.String("from", string(t.currentPhase)),
			zap.String("to", string(phase)))
		return
	}
	t.currentPhase = phase
	t.planned[phase] = plannedSteps
	t.phaseStatus[phase] = PhaseInProgress
	t.recomputeLocked()
	t.broadcastLocked()
}

// Begin records a new in-progress step and returns its id.
func (t *Tracker) Begin(phase PhaseName, name string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	step := &Step{
		ID:        uuid.NewString(),
		Phase:     phase,
		Name:      name,
		Status:    StepInProgress,
		StartedAt: &now,
	}
	t.steps = append(t.steps, step)
	t.byID[step.ID] = step
	if len(t.stepsInPhaseLocked(phase)) > t.planned[phase] {
		t.planned[phase] = len(t.stepsInPhaseLocked(phase))
	}
	t.recomputeLocked()
	t.broadcastLocked()
	return step.ID
}

// Update sets a step's local progress. Terminal steps are immutable and
// progress never moves backward.
func (t *Tracker) Update(stepID string, progress int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	step, ok := t.byID[stepID]
	if !ok || step.Status.Terminal() {
		return
	}
	if progress > 100 {
		progress = 100
	}
	if progress > step.Progress {
		step.Progress = progress
	}
	t.recomputeLocked()
	t.broadcastLocked()
}

// Complete marks a step completed with optional diagnostic details.
func (t *Tracker) Complete(stepID string, details map[string]interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()

	step, ok := t.byID[stepID]
	if !ok || step.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	step.Status = StepCompleted
	step.Progress = 100
	step.CompletedAt = &now
	step.Details = details
	t.recomputeLocked()
	t.broadcastLocked()
}

// Fail marks a step failed. Terminal and irreversible.
func (t *Tracker) Fail(stepID string, kind ErrorKind, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	step, ok := t.byID[stepID]
	if !ok || step.Status.Terminal() {
		return
	}
	now := time.Now().UTC()
	step.Status = StepFailed
	step.CompletedAt = &now
	step.Error = &StepError{Kind: kind, Message: message}
	t.recomputeLocked()
	t.broadcastLocked()
}

// CompletePhase closes a phase and attaches its evaluated quality gates.
// Overall progress lands exactly on the phase's upper bound.
func (t *Tracker) CompletePhase(phase PhaseName, gates []GateResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.phaseStatus[phase] = PhaseCompleted
	t.gates[phase] = gates
	t.recomputeLocked()
	t.broadcastLocked()
}

// AppendResource records a created resource. The list is append-only during
// provisioning so teardown is always complete.
func (t *Tracker) AppendResource(h provision.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resources = append(t.resources, h)
	if t.hooks.AppendResource != nil {
		t.hooks.AppendResource(h)
	}
}

// Resources returns the created resources in creation order.
func (t *Tracker) Resources() []provision.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]provision.Handle, len(t.resources))
	copy(out, t.resources)
	return out
}

// RecordDecision appends to the decision ledger.
func (t *Tracker) RecordDecision(decision, confidence string) {
	t.ledger.Record(decision, confidence)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broadcastLocked()
}

// AddDebt records a documented shortcut taken by the orchestrator.
func (t *Tracker) AddDebt(item string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.debt = append(t.debt, item)
	t.broadcastLocked()
}

// SetEndpoints attaches the service endpoints. Only surfaced on the wire
// once the deployment succeeds.
func (t *Tracker) SetEndpoints(endpoints map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endpoints = endpoints
	t.broadcastLocked()
}

// Finish resolves the tri-state outcome. On success overall progress is
// pinned to 100.
func (t *Tracker) Finish(success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if success {
		t.outcome = OutcomeSucceeded
		t.overall = 100
	} else {
		t.outcome = OutcomeFailed
	}
	t.broadcastLocked()
}

// Outcome returns the current tri-state result.
func (t *Tracker) Outcome() Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome
}

// Snapshot returns a deep copy of the deployment state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) stepsInPhaseLocked(phase PhaseName) []*Step {
	var out []*Step
	for _, s := range t.steps {
		if s.Phase == phase {
			out = append(out, s)
		}
	}
	return out
}

// recomputeLocked derives overall progress from the current phase's step
// completion fraction, and the quality score from gates of completed
// phases. Overall progress is monotonically non-decreasing.
func (t *Tracker) recomputeLocked() {
	spec := phaseSpec(t.currentPhase)
	f := t.phaseFractionLocked(t.currentPhase)
	candidate := int(math.Round(float64(spec.Min) + f*float64(spec.Max-spec.Min)))
	if candidate > 100 {
		candidate = 100
	}
	if candidate > t.overall {
		t.overall = candidate
	}

	defined, passed := 0, 0
	for phase, status := range t.phaseStatus {
		if status != PhaseCompleted {
			continue
		}
		for _, g := range t.gates[phase] {
			defined++
			if g.Passed {
				passed++
			}
		}
	}
	if defined > 0 {
		t.quality = int(math.Round(100 * float64(passed) / float64(defined)))
	}
}

func (t *Tracker) phaseFractionLocked(phase PhaseName) float64 {
	if t.phaseStatus[phase] == PhaseCompleted {
		return 1
	}
	n := t.planned[phase]
	if n == 0 {
		return 0
	}
	sum := 0
	for _, s := range t.stepsInPhaseLocked(phase) {
		sum += s.Progress
	}
	f := float64(sum) / float64(100*n)
	if f > 1 {
		f = 1
	}
	return f
}

func (t *Tracker) snapshotLocked() Snapshot {
	snap := Snapshot{
		DeploymentID:    t.id,
		OverallProgress: t.overall,
		CurrentPhase:    t.currentPhase,
		QualityScore:    t.quality,
		Phases:          make(map[PhaseName]*PhaseState, len(PhaseOrder)),
		Steps:           make([]Step, 0, len(t.steps)),
		Success:         t.outcome == OutcomeSucceeded,
		DecisionsMade:   t.ledger.Entries(),
		TechnicalDebt:   append([]string(nil), t.debt...),
	}

	for _, spec := range PhaseOrder {
		status := t.phaseStatus[spec.Name]
		progress := 0
		switch status {
		case PhaseCompleted:
			progress = 100
		case PhaseInProgress:
			progress = int(math.Round(100 * t.phaseFractionLocked(spec.Name)))
		}
		gates := make([]GateResult, len(t.gates[spec.Name]))
		copy(gates, t.gates[spec.Name])
		snap.Phases[spec.Name] = &PhaseState{
			Progress: progress,
			Status:   status,
			Gates:    gates,
		}
	}

	for _, s := range t.steps {
		snap.Steps = append(snap.Steps, s.clone())
	}

	if t.outcome == OutcomeSucceeded && len(t.endpoints) > 0 {
		snap.Endpoints = make(map[string]string, len(t.endpoints))
		for k, v := range t.endpoints {
			snap.Endpoints[k] = v
		}
	}

	return snap
}

func (t *Tracker) broadcastLocked() {
	if t.hooks.Publish != nil {
		t.hooks.Publish(t.snapshotLocked())
	}
}
