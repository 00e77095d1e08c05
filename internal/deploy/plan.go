package deploy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/stackdeploy-io/stackdeploy/internal/provision"
)

// Request is a validated deploy request.
type Request struct {
	Name   string `json:"name"`
	UserID string `json:"user_id"`
	APIKey string `json:"api_key"`

	// Optional managed graph store credentials. When present the graph
	// step configures the managed service instead of provisioning a
	// container-hosted one.
	GraphURI      string `json:"graph_uri,omitempty"`
	GraphUser     string `json:"graph_user,omitempty"`
	GraphPassword string `json:"graph_password,omitempty"`

	// AppImage overrides the application container image.
	AppImage string `json:"app_image,omitempty"`
}

const defaultAppImage = "memmachine/memmachine:latest"

// Validate rejects a malformed request before any resource is touched.
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return NewValidationError("name is required")
	}
	if strings.TrimSpace(r.UserID) == "" {
		return NewValidationError("user_id is required")
	}
	if strings.TrimSpace(r.APIKey) == "" {
		return NewValidationError("api_key is required")
	}
	managed := r.GraphURI != "" || r.GraphUser != "" || r.GraphPassword != ""
	if managed && (r.GraphURI == "" || r.GraphUser == "" || r.GraphPassword == "") {
		return NewValidationError("graph_uri, graph_user and graph_password must be provided together")
	}
	if r.AppImage == "" {
		r.AppImage = defaultAppImage
	}
	return nil
}

func (r *Request) managedGraph() bool {
	return r.GraphURI != ""
}

// Timeouts bounds each step kind so a hung provisioner call cannot block a
// deployment indefinitely.
type Timeouts struct {
	Secret      time.Duration
	Database    time.Duration
	Graph       time.Duration
	AppService  time.Duration
	HealthCheck time.Duration
}

// Probes are the post-provisioning validation hooks. Backends get matching
// probes wired by the supervisor: real HTTP and SQL probes against cloud
// resources, always-pass probes for the sim backend.
type Probes struct {
	// HTTPHealth probes the application health endpoint and reports the
	// observed latency.
	HTTPHealth func(ctx context.Context, url string) (time.Duration, error)
	// Database verifies connectivity to the relational store.
	Database func(ctx context.Context, dsn string) error
}

// stackState is shared by the steps of one deployment. Steps within a phase
// run concurrently, so access goes through the mutex.
type stackState struct {
	mu sync.Mutex

	apiKeySecret     string
	dbPassword       string
	dbPasswordSecret string
	dbAddress        string
	graphSecret      string
	graphAddress     string
	graphManaged     bool
	appURL           string
	healthLatency    time.Duration
}

func (s *stackState) set(fn func(*stackState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *stackState) get() stackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stackState{
		apiKeySecret:     s.apiKeySecret,
		dbPassword:       s.dbPassword,
		dbPasswordSecret: s.dbPasswordSecret,
		dbAddress:        s.dbAddress,
		graphSecret:      s.graphSecret,
		graphAddress:     s.graphAddress,
		graphManaged:     s.graphManaged,
		appURL:           s.appURL,
		healthLatency:    s.healthLatency,
	}
}

// BuildPlan lays out the fixed three-tier stack as phase plans: secrets in
// Discovery, the relational store in Architecture, the graph store in
// MvpCore, the application service in MvpPolish, validation in Beta and
// finalization in Production.
func BuildPlan(deploymentID string, req Request, p provision.Provisioner, timeouts Timeouts, probes Probes) []PhasePlan {
	st := &stackState{}

	secretBase := provision.ResourceName(deploymentID, provision.KindSecret)

	discovery := PhasePlan{
		Phase: PhaseDiscovery,
		Steps: []StepDef{{
			Name:    "Storing API key in secret manager",
			Timeout: timeouts.Secret,
			Run: func(ctx context.Context, t *Tracker, stepID string) error {
				t.Update(stepID, 40)
				h, err := p.Create(ctx, provision.KindSecret, secretBase+"-api-key", provision.Params{
					"value": req.APIKey,
				})
				if err != nil {
					return err
				}
				t.AppendResource(h)
				st.set(func(s *stackState) { s.apiKeySecret = h.SecretRef })
				t.Complete(stepID, map[string]interface{}{"secret_name": h.ProviderID})
				return nil
			},
		}},
		Gates: []Gate{{
			Name:  "Credentials",
			Check: func() bool { return st.get().apiKeySecret != "" },
		}},
	}

	architecture := PhasePlan{
		Phase: PhaseArchitecture,
		Steps: []StepDef{{
			Name:    "Creating relational PostgreSQL store",
			Timeout: timeouts.Database,
			Run: func(ctx context.Context, t *Tracker, stepID string) error {
				password, err := randomToken(32)
				if err != nil {
					return fmt.Errorf("generate database password: %w", err)
				}

				t.Update(stepID, 10)
				sec, err := p.Create(ctx, provision.KindSecret, secretBase+"-db-pass", provision.Params{
					"value": password,
				})
				if err != nil {
					return err
				}
				t.AppendResource(sec)
				st.set(func(s *stackState) {
					s.dbPassword = password
					s.dbPasswordSecret = sec.SecretRef
				})

				t.Update(stepID, 30)
				db, err := p.Create(ctx, provision.KindDatabase, provision.ResourceName(deploymentID, provision.KindDatabase), provision.Params{
					"engine":   "postgres-16",
					"username": "postgres",
					"password": password,
				})
				if err != nil {
					return err
				}
				t.AppendResource(db)
				st.set(func(s *stackState) { s.dbAddress = db.Address })
				t.Complete(stepID, map[string]interface{}{"address": db.Address})
				return nil
			},
		}},
		Gates: []Gate{{
			// Database credentials live in the secret manager, never
			// inline in service configuration.
			Name:  "Security",
			Check: func() bool { return st.get().dbPasswordSecret != "" },
		}},
	}

	graphStep := StepDef{
		Name:    "Deploying graph store",
		Timeout: timeouts.Graph,
		Run: func(ctx context.Context, t *Tracker, stepID string) error {
			if req.managedGraph() {
				t.Update(stepID, 30)
				sec, err := p.Create(ctx, provision.KindSecret, secretBase+"-graph-pass", provision.Params{
					"value": req.GraphPassword,
				})
				if err != nil {
					return err
				}
				t.AppendResource(sec)
				st.set(func(s *stackState) {
					s.graphSecret = sec.SecretRef
					s.graphAddress = req.GraphURI
					s.graphManaged = true
				})
				t.RecordDecision("chose managed graph store (user-provided credentials)", ConfidenceHigh)
				t.Complete(stepID, map[string]interface{}{
					"graph_url":  req.GraphURI,
					"graph_type": "managed",
				})
				return nil
			}

			password, err := randomToken(32)
			if err != nil {
				return fmt.Errorf("generate graph password: %w", err)
			}
			t.Update(stepID, 20)
			sec, err := p.Create(ctx, provision.KindSecret, secretBase+"-graph-pass", provision.Params{
				"value": password,
			})
			if err != nil {
				return err
			}
			t.AppendResource(sec)

			t.Update(stepID, 40)
			h, err := p.Create(ctx, provision.KindGraphStore, provision.ResourceName(deploymentID, provision.KindGraphStore), provision.Params{
				"password": password,
			})
			if err != nil {
				return err
			}
			t.AppendResource(h)
			st.set(func(s *stackState) {
				s.graphSecret = sec.SecretRef
				s.graphAddress = h.Address
			})
			t.RecordDecision("chose self-hosted graph store on the container service", ConfidenceMedium)
			t.AddDebt("graph store runs on the container service; migrate to a managed offering for durability")
			t.Complete(stepID, map[string]interface{}{
				"graph_url":  h.Address,
				"graph_type": "container",
			})
			return nil
		},
	}

	imageStep := StepDef{
		Name:    "Validating application image",
		Timeout: timeouts.Secret,
		Run: func(ctx context.Context, t *Tracker, stepID string) error {
			t.Update(stepID, 50)
			if !strings.Contains(req.AppImage, ":") {
				return NewValidationError("application image %q has no tag", req.AppImage)
			}
			t.Complete(stepID, map[string]interface{}{"image": req.AppImage})
			return nil
		},
	}

	mvpCore := PhasePlan{
		Phase: PhaseMvpCore,
		Steps: []StepDef{graphStep, imageStep},
		Gates: []Gate{{
			Name:  "Connectivity",
			Check: func() bool { return st.get().graphAddress != "" },
		}},
	}

	mvpPolish := PhasePlan{
		Phase: PhaseMvpPolish,
		Steps: []StepDef{{
			Name:    "Deploying application service",
			Timeout: timeouts.AppService,
			Run: func(ctx context.Context, t *Tracker, stepID string) error {
				state := st.get()
				t.Update(stepID, 20)
				h, err := p.Create(ctx, provision.KindAppService, provision.ResourceName(deploymentID, provision.KindAppService), provision.Params{
					"image":           req.AppImage,
					"db_address":      state.dbAddress,
					"db_secret":       state.dbPasswordSecret,
					"graph_address":   state.graphAddress,
					"graph_secret":    state.graphSecret,
					"api_key_secret":  state.apiKeySecret,
					"default_user_id": req.UserID,
				})
				if err != nil {
					return err
				}
				t.AppendResource(h)
				st.set(func(s *stackState) { s.appURL = h.Address })
				t.Complete(stepID, map[string]interface{}{"url": h.Address})
				return nil
			},
		}},
		Gates: []Gate{{
			Name:  "Configuration",
			Check: func() bool { return st.get().appURL != "" },
		}},
	}

	beta := PhasePlan{
		Phase: PhaseBeta,
		Steps: []StepDef{
			{
				Name:    "Running health checks on the application service",
				Timeout: timeouts.HealthCheck,
				Run: func(ctx context.Context, t *Tracker, stepID string) error {
					t.Update(stepID, 25)
					latency, err := probes.HTTPHealth(ctx, st.get().appURL)
					if err != nil {
						return err
					}
					st.set(func(s *stackState) { s.healthLatency = latency })
					t.Complete(stepID, map[string]interface{}{
						"latency_ms": latency.Milliseconds(),
					})
					return nil
				},
			},
			{
				Name:    "Verifying relational store connectivity",
				Timeout: timeouts.HealthCheck,
				Run: func(ctx context.Context, t *Tracker, stepID string) error {
					state := st.get()
					t.Update(stepID, 25)
					dsn := fmt.Sprintf("postgres://postgres:%s@%s/postgres?sslmode=require&connect_timeout=10",
						state.dbPassword, state.dbAddress)
					return probes.Database(ctx, dsn)
				},
			},
		},
		Gates: []Gate{
			{
				Name:  "HealthCheck",
				Check: func() bool { return st.get().appURL != "" },
			},
			{
				Name:  "Performance",
				Check: func() bool { return st.get().healthLatency < 2*time.Second },
			},
		},
	}

	production := PhasePlan{
		Phase: PhaseProduction,
		Steps: []StepDef{{
			Name:    "Finalizing deployment",
			Timeout: timeouts.Secret,
			Run: func(ctx context.Context, t *Tracker, stepID string) error {
				state := st.get()
				endpoints := map[string]string{
					"app":              state.appURL,
					"relational_store": state.dbAddress,
					"graph_store":      state.graphAddress,
					"playground":       "/playground/" + deploymentID,
				}
				t.SetEndpoints(endpoints)
				t.RecordDecision(fmt.Sprintf("deployed three-tier stack for instance %s", deploymentID), ConfidenceHigh)
				t.Complete(stepID, map[string]interface{}{"endpoints": len(endpoints)})
				return nil
			},
		}},
		Gates: []Gate{{
			Name: "Tests",
			Check: func() bool {
				state := st.get()
				return state.appURL != "" && state.dbAddress != "" && state.graphAddress != ""
			},
		}},
	}

	return []PhasePlan{discovery, architecture, mvpCore, mvpPolish, beta, production}
}
