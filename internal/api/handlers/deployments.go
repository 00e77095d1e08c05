package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stackdeploy-io/stackdeploy/internal/broadcast"
	"github.com/stackdeploy-io/stackdeploy/internal/deploy"
	"github.com/stackdeploy-io/stackdeploy/internal/logger"
)

// Deployments serves the deployment request/response and streaming surface.
type Deployments struct {
	supervisor *deploy.Supervisor
	hub        *broadcast.Hub
	log        *logger.Logger
}

func NewDeployments(supervisor *deploy.Supervisor, hub *broadcast.Hub, log *logger.Logger) *Deployments {
	return &Deployments{supervisor: supervisor, hub: hub, log: log}
}

// Create accepts a deploy request and starts the orchestration task.
func (h *Deployments) Create(c *gin.Context) {
	var req deploy.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	rec, err := h.supervisor.StartDeployment(c.Request.Context(), req)
	if err != nil {
		var de *deploy.Error
		if errors.As(err, &de) && de.Kind == deploy.ErrKindValidation {
			c.JSON(http.StatusBadRequest, gin.H{"error": de.Msg})
			return
		}
		h.log.Error("start deployment failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start deployment"})
		return
	}

	h.log.Info("deployment started",
		zap.String("deployment_id", rec.ID),
		zap.String("user_id", rec.UserID))

	c.JSON(http.StatusAccepted, gin.H{
		"deployment_id": rec.ID,
		"websocket_url": "/api/v1/deployments/" + rec.ID + "/ws",
		"status":        "started",
	})
}

// Status is the polling fallback. It serves the identical snapshot push
// subscribers receive.
func (h *Deployments) Status(c *gin.Context) {
	id := c.Param("id")

	if snap, ok := h.hub.Latest(id); ok {
		c.JSON(http.StatusOK, snap)
		return
	}

	snap, err := h.supervisor.Snapshot(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, deploy.ErrDeploymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "deployment not found"})
			return
		}
		h.log.Error("load snapshot failed", err, zap.String("deployment_id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load deployment"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// Get returns the stored deployment record.
func (h *Deployments) Get(c *gin.Context) {
	id := c.Param("id")

	rec, err := h.supervisor.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, deploy.ErrDeploymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "deployment not found"})
			return
		}
		h.log.Error("get deployment failed", err, zap.String("deployment_id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load deployment"})
		return
	}

	c.JSON(http.StatusOK, recordView(rec))
}

// List returns all deployments, newest first.
func (h *Deployments) List(c *gin.Context) {
	recs, err := h.supervisor.List(c.Request.Context())
	if err != nil {
		h.log.Error("list deployments failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list deployments"})
		return
	}

	out := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		out = append(out, recordView(rec))
	}
	c.JSON(http.StatusOK, gin.H{"deployments": out})
}

// Delete cancels a provisioning deployment or tears down a finished one.
// Safe to re-issue.
func (h *Deployments) Delete(c *gin.Context) {
	id := c.Param("id")

	report, state, err := h.supervisor.Delete(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, deploy.ErrDeploymentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "deployment not found"})
			return
		}
		h.log.Error("delete deployment failed", err, zap.String("deployment_id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete deployment"})
		return
	}

	if report == nil {
		// Still provisioning: in-flight steps finish, then teardown runs.
		c.JSON(http.StatusAccepted, gin.H{"status": state})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": state, "teardown": report})
}

func recordView(rec *deploy.Record) gin.H {
	return gin.H{
		"deployment_id": rec.ID,
		"user_id":       rec.UserID,
		"name":          rec.Name,
		"state":         rec.State,
		"snapshot":      rec.Snapshot,
		"created_at":    rec.CreatedAt.Format(time.RFC3339),
	}
}
