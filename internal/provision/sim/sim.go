// Package sim is an in-memory provisioning backend. It is the reference
// implementation of the idempotency contract and the backend used by tests
// and local runs.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stackdeploy-io/stackdeploy/internal/provision"
)

type Backend struct {
	mu        sync.Mutex
	resources map[string]provision.Handle

	// Latency is applied to every Create call, to exercise timeouts and
	// concurrent phase execution in tests.
	Latency time.Duration

	// FailKinds maps a resource kind to the error its Create call returns.
	FailKinds map[provision.Kind]error
}

func New() *Backend {
	return &Backend{
		resources: make(map[string]provision.Handle),
	}
}

func (b *Backend) Create(ctx context.Context, kind provision.Kind, name string, params provision.Params) (provision.Handle, error) {
	b.mu.Lock()
	if existing, ok := b.resources[name]; ok {
		b.mu.Unlock()
		return existing, nil
	}
	b.mu.Unlock()

	if b.Latency > 0 {
		select {
		case <-time.After(b.Latency):
		case <-ctx.Done():
			return provision.Handle{}, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err, ok := b.FailKinds[kind]; ok && err != nil {
		return provision.Handle{}, err
	}
	if existing, ok := b.resources[name]; ok {
		return existing, nil
	}

	h := provision.Handle{
		Type:       kind,
		ProviderID: name,
		Address:    fmt.Sprintf("%s.sim.internal:5432", name),
	}
	switch kind {
	case provision.KindSecret:
		h.Address = ""
		h.SecretRef = "sim://" + name
	case provision.KindGraphStore:
		h.Address = fmt.Sprintf("bolt://%s.sim.internal:7687", name)
	case provision.KindAppService:
		h.Address = fmt.Sprintf("https://%s.sim.internal", name)
	}

	b.resources[name] = h
	return h, nil
}

func (b *Backend) Destroy(ctx context.Context, handle provision.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.resources[handle.ProviderID]; !ok {
		return provision.ErrNotFound
	}
	delete(b.resources, handle.ProviderID)
	return nil
}

// Exists reports whether a resource with the given provider id is live.
func (b *Backend) Exists(providerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.resources[providerID]
	return ok
}

// Count returns the number of live resources.
func (b *Backend) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.resources)
}
