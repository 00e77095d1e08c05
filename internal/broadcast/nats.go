package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/stackdeploy-io/stackdeploy/internal/deploy"
	"github.com/stackdeploy-io/stackdeploy/internal/logger"
)

// NATSRelay mirrors every snapshot onto a NATS subject so other systems
// (billing, audit, a second dashboard) can follow deployments without
// holding a WebSocket against the supervisor.
type NATSRelay struct {
	conn *nats.Conn
	log  *logger.Logger
}

func NewNATSRelay(url string, log *logger.Logger) (*NATSRelay, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSRelay{conn: nc, log: log}, nil
}

func (r *NATSRelay) Relay(snap deploy.Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		r.log.Error("marshal snapshot for relay", err, zap.String("deployment_id", snap.DeploymentID))
		return
	}
	subj := "stackdeploy.deployments." + snap.DeploymentID
	if err := r.conn.Publish(subj, data); err != nil {
		r.log.Error("relay publish failed", err, zap.String("subject", subj))
	}
}

func (r *NATSRelay) Close() {
	if r.conn != nil {
		r.conn.Close()
	}
}
