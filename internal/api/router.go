package api

import (
	"github.com/gin-gonic/gin"

	"github.com/stackdeploy-io/stackdeploy/internal/api/handlers"
	"github.com/stackdeploy-io/stackdeploy/internal/api/middleware"
	"github.com/stackdeploy-io/stackdeploy/internal/broadcast"
	"github.com/stackdeploy-io/stackdeploy/internal/deploy"
	"github.com/stackdeploy-io/stackdeploy/internal/logger"
	"github.com/stackdeploy-io/stackdeploy/internal/metrics"
)

func NewRouter(supervisor *deploy.Supervisor, hub *broadcast.Hub, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware())

	deployments := handlers.NewDeployments(supervisor, hub, log)

	api := r.Group("/api/v1")
	{
		api.POST("/deployments", deployments.Create)
		api.GET("/deployments", deployments.List)
		api.GET("/deployments/:id", deployments.Get)
		api.GET("/deployments/:id/status", deployments.Status)
		api.GET("/deployments/:id/ws", broadcast.ServeWS(hub, log))
		api.DELETE("/deployments/:id", deployments.Delete)
	}

	r.GET("/healthz", handlers.HealthzHandler)
	r.GET("/metrics", metrics.Handler())

	return r
}
