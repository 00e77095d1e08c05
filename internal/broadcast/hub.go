// Package broadcast fans deployment snapshots out to push subscribers and
// serves the identical snapshot to pollers. There is exactly one snapshot
// producer; push and poll can never diverge.
package broadcast

import (
	"sync"

	"github.com/stackdeploy-io/stackdeploy/internal/deploy"
)

// Relay mirrors every published snapshot to an external transport.
type Relay interface {
	Relay(snap deploy.Snapshot)
}

// Hub holds the latest snapshot per deployment and the set of subscribers.
type Hub struct {
	mu     sync.Mutex
	latest map[string]deploy.Snapshot
	subs   map[string][]chan deploy.Snapshot
	relay  Relay
}

func NewHub() *Hub {
	return &Hub{
		latest: make(map[string]deploy.Snapshot),
		subs:   make(map[string][]chan deploy.Snapshot),
	}
}

// SetRelay attaches an optional external relay (e.g. NATS). Call before
// serving traffic.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	h.relay = r
	h.mu.Unlock()
}

// Publish stores the snapshot as the canonical latest state and pushes it
// to every subscriber. Slow subscribers are skipped, not blocked on; they
// catch up on the next publish or fall back to polling.
func (h *Hub) Publish(snap deploy.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.latest[snap.DeploymentID] = snap
	for _, ch := range h.subs[snap.DeploymentID] {
		select {
		case ch <- snap:
		default:
			// drop slow clients
		}
	}
	if h.relay != nil {
		h.relay.Relay(snap)
	}
}

// Subscribe registers a push subscriber for a deployment. The returned
// channel receives every subsequent snapshot; call the cancel func to
// unregister.
func (h *Hub) Subscribe(deploymentID string) (<-chan deploy.Snapshot, func()) {
	ch := make(chan deploy.Snapshot, 16)

	h.mu.Lock()
	h.subs[deploymentID] = append(h.subs[deploymentID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		channels := h.subs[deploymentID]
		for i, c := range channels {
			if c == ch {
				close(c)
				h.subs[deploymentID] = append(channels[:i], channels[i+1:]...)
				break
			}
		}
		if len(h.subs[deploymentID]) == 0 {
			delete(h.subs, deploymentID)
		}
	}
	return ch, cancel
}

// Latest answers a point-in-time poll with the same snapshot push
// subscribers last received.
func (h *Hub) Latest(deploymentID string) (deploy.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap, ok := h.latest[deploymentID]
	return snap, ok
}
