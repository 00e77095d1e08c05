package deploy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdeploy-io/stackdeploy/internal/logger"
	"github.com/stackdeploy-io/stackdeploy/internal/provision"
	"github.com/stackdeploy-io/stackdeploy/internal/provision/sim"
)

func testTimeouts() Timeouts {
	return Timeouts{
		Secret:      5 * time.Second,
		Database:    5 * time.Second,
		Graph:       5 * time.Second,
		AppService:  5 * time.Second,
		HealthCheck: 5 * time.Second,
	}
}

func testRequest() Request {
	return Request{
		Name:   "demo",
		UserID: "alice",
		APIKey: "sk-test",
	}
}

func runPlan(t *testing.T, backend *sim.Backend, req Request) (*Tracker, error) {
	t.Helper()
	require.NoError(t, req.Validate())

	tr := NewTracker("11112222-3333-4444-5555-666677778888", req.UserID, req.Name, Hooks{}, logger.NewNop())
	plans := BuildPlan(tr.ID(), req, backend, testTimeouts(), SimProbes())
	machine := NewMachine(tr, plans, 4, nil, logger.NewNop())
	return tr, machine.Run(context.Background())
}

func TestMachineFullRunSucceeds(t *testing.T) {
	backend := sim.New()
	tr, err := runPlan(t, backend, testRequest())
	require.NoError(t, err)
	tr.Finish(true)

	snap := tr.Snapshot()
	assert.True(t, snap.Success)
	assert.Equal(t, 100, snap.OverallProgress)
	assert.Equal(t, PhaseProduction, snap.CurrentPhase)
	assert.Equal(t, 100, snap.QualityScore)

	for _, spec := range PhaseOrder {
		state := snap.Phases[spec.Name]
		require.NotNil(t, state, "phase %s missing from snapshot", spec.Name)
		assert.Equal(t, PhaseCompleted, state.Status, "phase %s", spec.Name)
		assert.Equal(t, 100, state.Progress, "phase %s", spec.Name)
	}

	for _, step := range snap.Steps {
		assert.Equal(t, StepCompleted, step.Status, "step %q", step.Name)
	}

	require.NotEmpty(t, snap.Endpoints)
	assert.Contains(t, snap.Endpoints, "app")
	assert.Contains(t, snap.Endpoints, "relational_store")
	assert.Contains(t, snap.Endpoints, "graph_store")
	assert.Contains(t, snap.Endpoints, "playground")

	// Self-hosted graph: api key, db password, graph password, database,
	// graph store, app service.
	assert.Equal(t, 6, backend.Count())
	assert.NotEmpty(t, snap.TechnicalDebt)
}

func TestMachineManagedGraphSkipsContainerStore(t *testing.T) {
	backend := sim.New()
	req := testRequest()
	req.GraphURI = "bolt://graph.managed.example.com:7687"
	req.GraphUser = "neo4j"
	req.GraphPassword = "s3cret"

	tr, err := runPlan(t, backend, req)
	require.NoError(t, err)
	tr.Finish(true)

	snap := tr.Snapshot()
	assert.Equal(t, req.GraphURI, snap.Endpoints["graph_store"])
	assert.Empty(t, snap.TechnicalDebt)
	// No container graph store, so one resource fewer.
	assert.Equal(t, 5, backend.Count())

	require.NotEmpty(t, snap.DecisionsMade)
	assert.Contains(t, snap.DecisionsMade[0].Decision, "managed graph store")
	assert.Equal(t, ConfidenceHigh, snap.DecisionsMade[0].Confidence)
}

func TestMachineGraphFailureStopsPipelineAndTeardownCleans(t *testing.T) {
	backend := sim.New()
	backend.FailKinds = map[provision.Kind]error{
		provision.KindGraphStore: errors.New("container runtime rejected the task"),
	}

	tr, err := runPlan(t, backend, testRequest())
	require.Error(t, err)
	assert.Equal(t, ErrKindProvisioning, KindOf(err))
	tr.Finish(false)

	snap := tr.Snapshot()
	assert.False(t, snap.Success)
	assert.Less(t, snap.OverallProgress, 40)
	assert.Empty(t, snap.Endpoints)

	var failed *Step
	for i := range snap.Steps {
		if snap.Steps[i].Status == StepFailed {
			failed = &snap.Steps[i]
		}
	}
	require.NotNil(t, failed, "exactly the graph step should have failed")
	require.NotNil(t, failed.Error)
	assert.Equal(t, ErrKindProvisioning, failed.Error.Kind)
	assert.Contains(t, failed.Error.Message, "container runtime rejected the task")

	// Everything created before the failure is released.
	report := Teardown(context.Background(), backend, tr.Resources(), logger.NewNop())
	assert.True(t, report.Clean())
	assert.Equal(t, 0, backend.Count())
}

func TestMachineStepTimeoutIsClassified(t *testing.T) {
	backend := sim.New()
	backend.Latency = 200 * time.Millisecond

	req := testRequest()
	require.NoError(t, req.Validate())

	timeouts := testTimeouts()
	timeouts.Secret = 20 * time.Millisecond

	tr := NewTracker("timeout-test", req.UserID, req.Name, Hooks{}, logger.NewNop())
	plans := BuildPlan(tr.ID(), req, backend, timeouts, SimProbes())
	machine := NewMachine(tr, plans, 4, nil, logger.NewNop())

	err := machine.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrKindTimeout, KindOf(err))

	snap := tr.Snapshot()
	require.NotEmpty(t, snap.Steps)
	require.NotNil(t, snap.Steps[0].Error)
	assert.Equal(t, ErrKindTimeout, snap.Steps[0].Error.Kind)
}

func TestMachineCancellationStopsBetweenPhases(t *testing.T) {
	backend := sim.New()
	req := testRequest()
	require.NoError(t, req.Validate())

	calls := 0
	cancelled := func() bool {
		calls++
		return calls > 1 // allow Discovery, cancel before Architecture
	}

	tr := NewTracker("cancel-test", req.UserID, req.Name, Hooks{}, logger.NewNop())
	plans := BuildPlan(tr.ID(), req, backend, testTimeouts(), SimProbes())
	machine := NewMachine(tr, plans, 4, cancelled, logger.NewNop())

	err := machine.Run(context.Background())
	require.ErrorIs(t, err, ErrCancelled)

	snap := tr.Snapshot()
	assert.Equal(t, PhaseDiscovery, snap.CurrentPhase)
	// The in-flight step finished cleanly before the cancellation landed.
	for _, step := range snap.Steps {
		assert.Equal(t, StepCompleted, step.Status)
	}
	assert.Equal(t, 1, backend.Count())
}
