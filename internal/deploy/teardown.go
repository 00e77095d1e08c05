package deploy

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/stackdeploy-io/stackdeploy/internal/logger"
	"github.com/stackdeploy-io/stackdeploy/internal/metrics"
	"github.com/stackdeploy-io/stackdeploy/internal/provision"
)

// TeardownFailure records one resource that could not be destroyed and
// still requires manual or retried cleanup.
type TeardownFailure struct {
	Handle provision.Handle `json:"handle"`
	Error  string           `json:"error"`
}

// TeardownReport accounts for every resource handed to Teardown: each one
// is either in Destroyed or in Failed, never silently dropped.
type TeardownReport struct {
	Destroyed []provision.Handle `json:"destroyed"`
	Failed    []TeardownFailure  `json:"failed"`
}

// Clean reports whether every resource was destroyed.
func (r TeardownReport) Clean() bool {
	return len(r.Failed) == 0
}

// Teardown destroys the given resources in reverse creation order, so the
// application service goes before the stores it depends on. It is
// best-effort: a failed destroy is recorded and the remaining resources are
// still attempted. Already-absent resources count as destroyed, which makes
// a second call a safe no-op.
func Teardown(ctx context.Context, p provision.Provisioner, resources []provision.Handle, log *logger.Logger) TeardownReport {
	var report TeardownReport

	for i := len(resources) - 1; i >= 0; i-- {
		h := resources[i]
		err := p.Destroy(ctx, h)
		if err != nil && !errors.Is(err, provision.ErrNotFound) {
			log.Error("teardown destroy failed", err,
				zap.String("kind", string(h.Type)),
				zap.String("provider_id", h.ProviderID))
			if metrics.TeardownFailures != nil {
				metrics.TeardownFailures.WithLabelValues(string(h.Type)).Inc()
			}
			report.Failed = append(report.Failed, TeardownFailure{
				Handle: h,
				Error:  (&Error{Kind: ErrKindTeardown, Msg: h.ProviderID, Err: err}).Error(),
			})
			continue
		}
		log.Info("resource destroyed",
			zap.String("kind", string(h.Type)),
			zap.String("provider_id", h.ProviderID),
			zap.Bool("already_absent", err != nil))
		report.Destroyed = append(report.Destroyed, h)
	}

	return report
}
