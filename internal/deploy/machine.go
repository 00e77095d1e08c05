package deploy

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stackdeploy-io/stackdeploy/internal/logger"
	"github.com/stackdeploy-io/stackdeploy/internal/metrics"
)

// StepDef is one planned unit of provisioning work. Run is expected to be a
// long blocking call into a provisioner; the runner enforces Timeout and
// records the terminal status.
type StepDef struct {
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context, t *Tracker, stepID string) error
}

// Gate is a named boolean check evaluated once all steps of its phase have
// completed.
type Gate struct {
	Name  string
	Check func() bool
}

// PhasePlan binds a phase to its steps and quality gates.
type PhasePlan struct {
	Phase PhaseName
	Steps []StepDef
	Gates []Gate
}

// Machine drives a deployment through its phases strictly in order. Within
// a phase, steps run concurrently under a bounded semaphore; the phase
// completes only when every step reaches a terminal status. Any step
// failure fails the phase and stops the pipeline.
type Machine struct {
	tracker       *Tracker
	plans         []PhasePlan
	maxConcurrent int
	cancelled     func() bool
	log           *logger.Logger
}

func NewMachine(tracker *Tracker, plans []PhasePlan, maxConcurrent int, cancelled func() bool, log *logger.Logger) *Machine {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	return &Machine{
		tracker:       tracker,
		plans:         plans,
		maxConcurrent: maxConcurrent,
		cancelled:     cancelled,
		log:           log,
	}
}

// Run executes all phases. It returns nil only when every phase completed;
// the caller resolves the deployment outcome and triggers teardown on error.
func (m *Machine) Run(ctx context.Context) error {
	for _, plan := range m.plans {
		if m.cancelled() {
			return ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		m.log.Info("entering phase",
			zap.String("deployment_id", m.tracker.ID()),
			zap.String("phase", string(plan.Phase)))
		m.tracker.EnterPhase(plan.Phase, len(plan.Steps))

		if err := m.runSteps(ctx, plan); err != nil {
			return err
		}

		results := make([]GateResult, 0, len(plan.Gates))
		for _, g := range plan.Gates {
			passed := true
			if g.Check != nil {
				passed = g.Check()
			}
			results = append(results, GateResult{Name: g.Name, Passed: passed})
		}
		m.tracker.CompletePhase(plan.Phase, results)
	}
	return nil
}

// runSteps launches the phase's steps under the concurrency bound and
// blocks until all of them reach a terminal status.
func (m *Machine) runSteps(ctx context.Context, plan PhasePlan) error {
	var wg sync.WaitGroup
	sem := make(chan struct{}, m.maxConcurrent)
	errCh := make(chan error, len(plan.Steps))

	for _, def := range plan.Steps {
		wg.Add(1)
		go func(def StepDef) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := m.runStep(ctx, plan.Phase, def); err != nil {
				errCh <- err
			}
		}(def)
	}

	wg.Wait()
	close(errCh)

	// First failure wins; the rest already reached a terminal status on
	// their own steps.
	for err := range errCh {
		return err
	}
	return nil
}

func (m *Machine) runStep(ctx context.Context, phase PhaseName, def StepDef) error {
	stepID := m.tracker.Begin(phase, def.Name)
	start := time.Now()

	stepCtx := ctx
	cancel := func() {}
	if def.Timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, def.Timeout)
	}
	defer cancel()

	err := def.Run(stepCtx, m.tracker, stepID)

	if metrics.StepDuration != nil {
		metrics.StepDuration.WithLabelValues(string(phase), def.Name).
			Observe(time.Since(start).Seconds())
	}

	if err != nil {
		kind := KindOf(err)
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			kind = ErrKindTimeout
		}
		m.tracker.Fail(stepID, kind, err.Error())
		m.log.Error("step failed", err,
			zap.String("deployment_id", m.tracker.ID()),
			zap.String("phase", string(phase)),
			zap.String("step", def.Name),
			zap.String("kind", string(kind)))
		if kind == ErrKindTimeout {
			return NewTimeoutError(def.Name, err)
		}
		return NewProvisioningError(def.Name, err)
	}

	// Steps may complete themselves to attach details; this is a no-op
	// for steps already terminal.
	m.tracker.Complete(stepID, nil)
	return nil
}
