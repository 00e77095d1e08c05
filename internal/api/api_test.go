package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdeploy-io/stackdeploy/internal/broadcast"
	"github.com/stackdeploy-io/stackdeploy/internal/deploy"
	"github.com/stackdeploy-io/stackdeploy/internal/logger"
	"github.com/stackdeploy-io/stackdeploy/internal/provision/sim"
	"github.com/stackdeploy-io/stackdeploy/internal/store"
)

func newTestServer(t *testing.T) (*gin.Engine, *deploy.Supervisor) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	hub := broadcast.NewHub()
	sup := deploy.NewSupervisor(deploy.SupervisorOptions{
		Store:       db,
		Publisher:   hub,
		Provisioner: sim.New(),
		Probes:      deploy.SimProbes(),
		Backend:     "sim",
		Timeouts: deploy.Timeouts{
			Secret:      5 * time.Second,
			Database:    5 * time.Second,
			Graph:       5 * time.Second,
			AppService:  5 * time.Second,
			HealthCheck: 5 * time.Second,
		},
		MaxConcurrentSteps: 4,
		Logger:             logger.NewNop(),
	})

	return NewRouter(sup, hub, logger.NewNop()), sup
}

func postDeployment(t *testing.T, r *gin.Engine, body map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deployments", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func validBody() map[string]string {
	return map[string]string{
		"name":    "demo",
		"user_id": "alice",
		"api_key": "sk-test",
	}
}

func TestCreateDeployment(t *testing.T) {
	r, sup := newTestServer(t)

	w := postDeployment(t, r, validBody())
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		DeploymentID string `json:"deployment_id"`
		WebsocketURL string `json:"websocket_url"`
		Status       string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.DeploymentID)
	assert.Equal(t, "/api/v1/deployments/"+resp.DeploymentID+"/ws", resp.WebsocketURL)
	assert.Equal(t, "started", resp.Status)

	sup.Wait(resp.DeploymentID)
}

func TestCreateDeploymentRejectsInvalidRequest(t *testing.T) {
	r, _ := newTestServer(t)

	w := postDeployment(t, r, map[string]string{"name": "demo"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "user_id")
}

func TestStatusServesCanonicalSnapshot(t *testing.T) {
	r, sup := newTestServer(t)

	w := postDeployment(t, r, validBody())
	require.Equal(t, http.StatusAccepted, w.Code)
	var created struct {
		DeploymentID string `json:"deployment_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	sup.Wait(created.DeploymentID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/deployments/"+created.DeploymentID+"/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var snap deploy.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, created.DeploymentID, snap.DeploymentID)
	assert.True(t, snap.Success)
	assert.Equal(t, 100, snap.OverallProgress)
	assert.NotEmpty(t, snap.Endpoints)
}

func TestStatusUnknownDeployment(t *testing.T) {
	r, _ := newTestServer(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/deployments/missing/status", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListDeployments(t *testing.T) {
	r, sup := newTestServer(t)

	w := postDeployment(t, r, validBody())
	require.Equal(t, http.StatusAccepted, w.Code)
	var created struct {
		DeploymentID string `json:"deployment_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	sup.Wait(created.DeploymentID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/deployments", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Deployments []struct {
			DeploymentID string `json:"deployment_id"`
			State        string `json:"state"`
		} `json:"deployments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Deployments, 1)
	assert.Equal(t, created.DeploymentID, resp.Deployments[0].DeploymentID)
	assert.Equal(t, deploy.StateCompleted, resp.Deployments[0].State)
}

func TestDeleteDeployment(t *testing.T) {
	r, sup := newTestServer(t)

	w := postDeployment(t, r, validBody())
	require.Equal(t, http.StatusAccepted, w.Code)
	var created struct {
		DeploymentID string `json:"deployment_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	sup.Wait(created.DeploymentID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/deployments/"+created.DeploymentID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status   string `json:"status"`
		Teardown struct {
			Destroyed []json.RawMessage `json:"destroyed"`
			Failed    []json.RawMessage `json:"failed"`
		} `json:"teardown"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, deploy.StateDestroyed, resp.Status)
	assert.Len(t, resp.Teardown.Destroyed, 6)
	assert.Empty(t, resp.Teardown.Failed)

	// Deleting an unknown deployment is a 404, not a crash.
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/deployments/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	r, _ := newTestServer(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
