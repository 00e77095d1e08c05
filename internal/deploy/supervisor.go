package deploy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/stackdeploy-io/stackdeploy/internal/logger"
	"github.com/stackdeploy-io/stackdeploy/internal/metrics"
	"github.com/stackdeploy-io/stackdeploy/internal/provision"
)

// Lifecycle states of a deployment, driven by the supervisor's FSM.
const (
	StatePending    = "pending"
	StateRunning    = "running"
	StateCancelling = "cancelling"
	StateCompleted  = "completed"
	StateFailed     = "failed"
	StateDestroying = "destroying"
	StateDestroyed  = "destroyed"
)

// ErrDeploymentNotFound is returned for unknown deployment ids.
var ErrDeploymentNotFound = errors.New("deployment not found")

// Record is the persisted form of a deployment.
type Record struct {
	ID        string
	UserID    string
	Name      string
	State     string
	Request   Request
	Snapshot  Snapshot
	Resources []provision.Handle
	CreatedAt time.Time
	DeletedAt *time.Time
}

// Store persists deployments so a restarted supervisor can replay them.
type Store interface {
	CreateDeployment(ctx context.Context, rec *Record) error
	SaveSnapshot(ctx context.Context, id, state string, snap Snapshot) error
	AppendResource(ctx context.Context, id string, h provision.Handle) error
	GetDeployment(ctx context.Context, id string) (*Record, error)
	ListDeployments(ctx context.Context) ([]*Record, error)
	ListByStates(ctx context.Context, states ...string) ([]*Record, error)
	MarkDeleted(ctx context.Context, id string) error
}

// Publisher fans the canonical snapshot out to push subscribers and keeps
// it available to pollers.
type Publisher interface {
	Publish(snap Snapshot)
}

// SupervisorOptions wires the supervisor's collaborators.
type SupervisorOptions struct {
	Store              Store
	Publisher          Publisher
	Provisioner        provision.Provisioner
	Probes             Probes
	Backend            string
	Timeouts           Timeouts
	MaxConcurrentSteps int
	Logger             *logger.Logger
}

// Supervisor owns the lifecycle of every deployment end to end: it accepts
// requests, drives the phase state machine, persists snapshots, and runs
// teardown. One orchestration goroutine per deployment; deployments share
// no mutable state.
type Supervisor struct {
	opts SupervisorOptions
	log  *logger.Logger

	mu     sync.Mutex
	active map[string]*session
}

type session struct {
	tracker   *Tracker
	machine   *fsm.FSM
	cancelled atomic.Bool
	done      chan struct{}
}

func NewSupervisor(opts SupervisorOptions) *Supervisor {
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Supervisor{
		opts:   opts,
		log:    opts.Logger,
		active: make(map[string]*session),
	}
}

func (s *Supervisor) newLifecycle(id string) *fsm.FSM {
	return fsm.NewFSM(
		StatePending,
		fsm.Events{
			{Name: "start", Src: []string{StatePending}, Dst: StateRunning},
			{Name: "cancel", Src: []string{StateRunning}, Dst: StateCancelling},
			{Name: "complete", Src: []string{StateRunning}, Dst: StateCompleted},
			{Name: "fail", Src: []string{StateRunning}, Dst: StateFailed},
			{Name: "destroy", Src: []string{StateCompleted, StateFailed, StateCancelling}, Dst: StateDestroying},
			{Name: "destroyed", Src: []string{StateDestroying}, Dst: StateDestroyed},
		},
		fsm.Callbacks{
			"enter_state": func(ctx context.Context, e *fsm.Event) {
				s.log.Info("deployment lifecycle transition",
					zap.String("deployment_id", id),
					zap.String("event", e.Event),
					zap.String("src", e.Src),
					zap.String("dst", e.Dst),
				)
			},
		},
	)
}

// StartDeployment validates the request, creates the deployment record and
// launches the orchestration goroutine. The returned snapshot is the
// initial state; progress flows through the Publisher.
func (s *Supervisor) StartDeployment(ctx context.Context, req Request) (*Record, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	return s.launch(ctx, id, req, nil, true)
}

// Resume re-enters a deployment that did not reach a terminal state before
// a restart. The provisioner's deterministic naming guarantees no resource
// is created twice.
func (s *Supervisor) Resume(ctx context.Context, id string) (*Record, error) {
	rec, err := s.opts.Store.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	switch rec.State {
	case StatePending, StateRunning:
	default:
		return nil, NewValidationError("deployment %s is %s, not resumable", id, rec.State)
	}
	s.log.Info("resuming deployment", zap.String("deployment_id", id))
	return s.launch(ctx, id, rec.Request, rec.Resources, false)
}

// ResumeAll replays every non-terminal deployment. Called once at startup.
func (s *Supervisor) ResumeAll(ctx context.Context) error {
	recs, err := s.opts.Store.ListByStates(ctx, StatePending, StateRunning)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if _, err := s.Resume(ctx, rec.ID); err != nil {
			s.log.Error("resume failed", err, zap.String("deployment_id", rec.ID))
		}
	}
	return nil
}

func (s *Supervisor) launch(ctx context.Context, id string, req Request, seed []provision.Handle, isNew bool) (*Record, error) {
	sess := &session{
		machine: s.newLifecycle(id),
		done:    make(chan struct{}),
	}

	sess.tracker = NewTracker(id, req.UserID, req.Name, Hooks{
		Publish: func(snap Snapshot) {
			if s.opts.Publisher != nil {
				s.opts.Publisher.Publish(snap)
			}
			s.persistSnapshot(id, sess.machine.Current(), snap)
		},
		AppendResource: func(h provision.Handle) {
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.opts.Store.AppendResource(cctx, id, h); err != nil {
				s.log.Error("persist resource failed", err, zap.String("deployment_id", id))
			}
		},
	}, s.log)

	// Seed resources recorded before a crash so teardown stays complete
	// even if the resumed run fails before re-acknowledging them.
	for _, h := range seed {
		sess.tracker.AppendResource(h)
	}

	if isNew {
		rec := &Record{
			ID:        id,
			UserID:    req.UserID,
			Name:      req.Name,
			State:     StatePending,
			Request:   req,
			Snapshot:  sess.tracker.Snapshot(),
			CreatedAt: time.Now().UTC(),
		}
		if err := s.opts.Store.CreateDeployment(ctx, rec); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	if _, exists := s.active[id]; exists {
		s.mu.Unlock()
		return nil, NewValidationError("deployment %s is already running", id)
	}
	s.active[id] = sess
	s.mu.Unlock()

	if metrics.DeploymentsTotal != nil {
		metrics.DeploymentsTotal.WithLabelValues(s.opts.Backend).Inc()
		metrics.DeploymentsActive.WithLabelValues(s.opts.Backend).Inc()
	}

	go s.run(sess, id, req)

	return &Record{
		ID:        id,
		UserID:    req.UserID,
		Name:      req.Name,
		State:     StatePending,
		Snapshot:  sess.tracker.Snapshot(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// run is the orchestration task for one deployment.
func (s *Supervisor) run(sess *session, id string, req Request) {
	defer close(sess.done)
	defer func() {
		if metrics.DeploymentsActive != nil {
			metrics.DeploymentsActive.WithLabelValues(s.opts.Backend).Dec()
		}
	}()

	ctx := context.Background()
	tracer := otel.Tracer("stackdeploy/supervisor")
	ctx, span := tracer.Start(ctx, "RunDeployment")
	span.SetAttributes(
		attribute.String("deployment.id", id),
		attribute.String("deployment.backend", s.opts.Backend),
	)
	defer span.End()

	_ = sess.machine.Event(ctx, "start")

	plans := BuildPlan(id, req, s.opts.Provisioner, s.opts.Timeouts, s.opts.Probes)
	machine := NewMachine(sess.tracker, plans, s.opts.MaxConcurrentSteps, sess.cancelled.Load, s.log)

	err := machine.Run(ctx)
	switch {
	case err == nil:
		sess.tracker.Finish(true)
		_ = sess.machine.Event(ctx, "complete")
		s.log.Info("deployment completed", zap.String("deployment_id", id))

	case errors.Is(err, ErrCancelled):
		sess.tracker.Finish(false)
		s.log.Info("deployment cancelled, tearing down", zap.String("deployment_id", id))
		s.teardownSession(ctx, sess, id)

	default:
		sess.tracker.Finish(false)
		_ = sess.machine.Event(ctx, "fail")
		if metrics.DeploymentsFailed != nil {
			metrics.DeploymentsFailed.WithLabelValues(s.opts.Backend).Inc()
		}
		s.log.Error("deployment failed, tearing down", err, zap.String("deployment_id", id))
		s.teardownSession(ctx, sess, id)
	}

	s.persistSnapshot(id, sess.machine.Current(), sess.tracker.Snapshot())

	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

func (s *Supervisor) teardownSession(ctx context.Context, sess *session, id string) {
	_ = sess.machine.Event(ctx, "destroy")
	report := Teardown(ctx, s.opts.Provisioner, sess.tracker.Resources(), s.log)
	if report.Clean() {
		_ = sess.machine.Event(ctx, "destroyed")
		if err := s.opts.Store.MarkDeleted(ctx, id); err != nil {
			s.log.Error("soft delete failed", err, zap.String("deployment_id", id))
		}
	} else {
		s.log.Warn("teardown left resources behind",
			zap.String("deployment_id", id),
			zap.Int("failed", len(report.Failed)))
	}
}

// Delete cancels a provisioning deployment or tears down a finished one.
// Idempotent: deleting an already-destroyed deployment is a no-op.
func (s *Supervisor) Delete(ctx context.Context, id string) (*TeardownReport, string, error) {
	s.mu.Lock()
	sess, running := s.active[id]
	s.mu.Unlock()

	if running {
		// In-flight steps are allowed to reach a terminal status; the
		// phase runner stops at the next checkpoint and tears down.
		sess.cancelled.Store(true)
		_ = sess.machine.Event(ctx, "cancel")
		return nil, StateCancelling, nil
	}

	rec, err := s.opts.Store.GetDeployment(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if rec.State == StateDestroyed {
		return &TeardownReport{}, StateDestroyed, nil
	}

	report := Teardown(ctx, s.opts.Provisioner, rec.Resources, s.log)
	state := StateDestroying
	if report.Clean() {
		state = StateDestroyed
		if err := s.opts.Store.MarkDeleted(ctx, id); err != nil {
			return &report, state, err
		}
	}
	s.persistSnapshot(id, state, rec.Snapshot)
	return &report, state, nil
}

// Snapshot returns the canonical snapshot for a deployment, live if it is
// provisioning, persisted otherwise.
func (s *Supervisor) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	s.mu.Lock()
	sess, running := s.active[id]
	s.mu.Unlock()

	if running {
		return sess.tracker.Snapshot(), nil
	}

	rec, err := s.opts.Store.GetDeployment(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return rec.Snapshot, nil
}

// Get returns the stored record for a deployment.
func (s *Supervisor) Get(ctx context.Context, id string) (*Record, error) {
	return s.opts.Store.GetDeployment(ctx, id)
}

// List returns all stored deployments.
func (s *Supervisor) List(ctx context.Context) ([]*Record, error) {
	return s.opts.Store.ListDeployments(ctx)
}

// Wait blocks until the deployment's orchestration task ends. For tests.
func (s *Supervisor) Wait(id string) {
	s.mu.Lock()
	sess, ok := s.active[id]
	s.mu.Unlock()
	if ok {
		<-sess.done
	}
}

func (s *Supervisor) persistSnapshot(id, state string, snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.opts.Store.SaveSnapshot(ctx, id, state, snap); err != nil {
		s.log.Error("persist snapshot failed", err, zap.String("deployment_id", id))
	}
}
