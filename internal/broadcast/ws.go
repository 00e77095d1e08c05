package broadcast

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stackdeploy-io/stackdeploy/internal/logger"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from a different origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the connection and streams every snapshot change for the
// deployment until the client disconnects. The first message is the current
// snapshot so late subscribers start from known state.
func ServeWS(h *Hub, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		deploymentID := c.Param("id")

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error("websocket upgrade failed", err, zap.String("deployment_id", deploymentID))
			return
		}
		defer conn.Close()

		ch, cancel := h.Subscribe(deploymentID)
		defer cancel()

		if snap, ok := h.Latest(deploymentID); ok {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
		}

		// Reader goroutine: we never expect client messages, but reading
		// is what surfaces close frames.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case snap, ok := <-ch:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(snap); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}
}
