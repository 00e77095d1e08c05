package provision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceNameIsDeterministic(t *testing.T) {
	id := "aaaabbbb-cccc-dddd-eeee-ffff00001111"

	first := ResourceName(id, KindDatabase)
	second := ResourceName(id, KindDatabase)
	assert.Equal(t, first, second)
	assert.Equal(t, "sd-aaaabbbb-database", first)
}

func TestResourceNameUsesDashes(t *testing.T) {
	assert.Equal(t, "sd-short-graph-store", ResourceName("short", KindGraphStore))
	assert.Equal(t, "sd-short-app-service", ResourceName("short", KindAppService))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	backend := fakeProvisioner{}

	assert.NoError(t, reg.Register("sim", backend))
	assert.Error(t, reg.Register("sim", backend), "duplicate registration must fail")

	got, err := reg.Get("sim")
	assert.NoError(t, err)
	assert.Equal(t, backend, got)

	_, err = reg.Get("gcp")
	assert.Error(t, err)
}

type fakeProvisioner struct{ Provisioner }
