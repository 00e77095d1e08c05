package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdeploy-io/stackdeploy/internal/provision"
)

func TestCreateIsIdempotent(t *testing.T) {
	b := New()
	ctx := context.Background()

	first, err := b.Create(ctx, provision.KindDatabase, "sd-abc-database", provision.Params{})
	require.NoError(t, err)

	second, err := b.Create(ctx, provision.KindDatabase, "sd-abc-database", provision.Params{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, b.Count())
}

func TestCreateShapesHandleByKind(t *testing.T) {
	b := New()
	ctx := context.Background()

	secret, err := b.Create(ctx, provision.KindSecret, "sd-abc-secret", provision.Params{"value": "sk"})
	require.NoError(t, err)
	assert.Empty(t, secret.Address)
	assert.Equal(t, "sim://sd-abc-secret", secret.SecretRef)

	graph, err := b.Create(ctx, provision.KindGraphStore, "sd-abc-graph-store", provision.Params{})
	require.NoError(t, err)
	assert.Contains(t, graph.Address, "bolt://")

	app, err := b.Create(ctx, provision.KindAppService, "sd-abc-app-service", provision.Params{})
	require.NoError(t, err)
	assert.Contains(t, app.Address, "https://")
}

func TestDestroyMissingResource(t *testing.T) {
	b := New()
	err := b.Destroy(context.Background(), provision.Handle{ProviderID: "never-created"})
	assert.ErrorIs(t, err, provision.ErrNotFound)
}

func TestDestroyRemovesResource(t *testing.T) {
	b := New()
	ctx := context.Background()

	h, err := b.Create(ctx, provision.KindDatabase, "sd-abc-database", provision.Params{})
	require.NoError(t, err)

	require.NoError(t, b.Destroy(ctx, h))
	assert.False(t, b.Exists("sd-abc-database"))
	assert.ErrorIs(t, b.Destroy(ctx, h), provision.ErrNotFound)
}

func TestInjectedFailures(t *testing.T) {
	b := New()
	b.FailKinds = map[provision.Kind]error{
		provision.KindGraphStore: errors.New("no capacity"),
	}
	ctx := context.Background()

	_, err := b.Create(ctx, provision.KindGraphStore, "sd-abc-graph-store", provision.Params{})
	assert.Error(t, err)

	_, err = b.Create(ctx, provision.KindSecret, "sd-abc-secret", provision.Params{})
	assert.NoError(t, err)
}

func TestLatencyRespectsContext(t *testing.T) {
	b := New()
	b.Latency = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Create(ctx, provision.KindDatabase, "sd-abc-database", provision.Params{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, b.Count())
}
