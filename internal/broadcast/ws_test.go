package broadcast

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackdeploy-io/stackdeploy/internal/deploy"
	"github.com/stackdeploy-io/stackdeploy/internal/logger"
)

func dialWS(t *testing.T, h *Hub, deploymentID string) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/deployments/:id/ws", ServeWS(h, logger.NewNop()))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/deployments/" + deploymentID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServeWSSendsCurrentSnapshotFirst(t *testing.T) {
	h := NewHub()
	h.Publish(snap("dep-1", 40))

	conn := dialWS(t, h, "dep-1")
	conn.SetReadDeadline(time.Now().Add(time.Second))

	var got deploy.Snapshot
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "dep-1", got.DeploymentID)
	assert.Equal(t, 40, got.OverallProgress)
}

func TestServeWSStreamsUpdates(t *testing.T) {
	h := NewHub()
	conn := dialWS(t, h, "dep-1")
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	// Give the handler a moment to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	h.Publish(snap("dep-1", 15))
	h.Publish(snap("dep-1", 40))

	var first, second deploy.Snapshot
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, 15, first.OverallProgress)
	assert.Equal(t, 40, second.OverallProgress)
}
