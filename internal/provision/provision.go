// Package provision defines the contract between the deployment
// orchestrator and the cloud backends that create external resources.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the class of external resource a backend can manage.
type Kind string

const (
	KindSecret     Kind = "secret"
	KindDatabase   Kind = "database"
	KindGraphStore Kind = "graph_store"
	KindAppService Kind = "app_service"
)

// Handle is the durable record of an externally created resource. It is
// recorded the moment a create call is acknowledged so that teardown can
// always find the resource, even after a crash mid-creation.
type Handle struct {
	Type       Kind   `json:"type"`
	ProviderID string `json:"provider_identifier"`
	Address    string `json:"external_address"`
	SecretRef  string `json:"secret_reference,omitempty"`
}

// Params carries backend-specific creation parameters.
type Params map[string]string

// ErrNotFound is returned by Destroy when the resource is already gone.
// Callers treat it as a successful no-op so that teardown stays idempotent.
var ErrNotFound = errors.New("resource not found")

// Provisioner creates and destroys one external resource per call.
//
// Create must be safe to call twice with the same name: a second call either
// returns the existing resource's handle or proceeds normally. This is what
// makes re-submission of a crashed deployment safe without duplicating
// billable resources.
type Provisioner interface {
	Create(ctx context.Context, kind Kind, name string, params Params) (Handle, error)
	Destroy(ctx context.Context, handle Handle) error
}

// ResourceName derives the deterministic external name for a resource of
// the given kind belonging to a deployment. Both halves of the idempotency
// contract depend on this being stable across re-submissions.
func ResourceName(deploymentID string, kind Kind) string {
	id := deploymentID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("sd-%s-%s", id, strings.ReplaceAll(string(kind), "_", "-"))
}
