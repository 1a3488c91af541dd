package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/modelbench-go/internal/api/auth"
	"github.com/modelbench-go/internal/coordinator"
	"github.com/modelbench-go/internal/coordinator/dispatch"
	"github.com/modelbench-go/internal/plugins"
	"github.com/modelbench-go/pkg/logger"
)

// Handlers binds the REST surface to the coordinator facade and the plugin
// manager.
type Handlers struct {
	coord        *coordinator.Coordinator
	plugins      *plugins.Manager
	jwt          *auth.Manager
	operatorUser string
	operatorHash string
	logger       logger.Logger
}

func New(coord *coordinator.Coordinator, pluginManager *plugins.Manager, jwtManager *auth.Manager, operatorUser, operatorHash string, log logger.Logger) *Handlers {
	return &Handlers{
		coord:        coord,
		plugins:      pluginManager,
		jwt:          jwtManager,
		operatorUser: operatorUser,
		operatorHash: operatorHash,
		logger:       log,
	}
}

// writeError maps facade errors onto the HTTP status codes of the error
// taxonomy.
func (h *Handlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, coordinator.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, coordinator.ErrJobNotFound),
		errors.Is(err, coordinator.ErrWorkerNotFound),
		errors.Is(err, plugins.ErrPluginNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, coordinator.ErrJobTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, plugins.ErrPluginLimit):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, plugins.ErrPluginTimeout),
		errors.Is(err, plugins.ErrExecution):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// Token issues a JWT for the operator credential.
func (h *Handlers) Token(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Username != h.operatorUser || h.operatorHash == "" || !auth.CheckPassword(h.operatorHash, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	token, err := h.jwt.GenerateToken(req.Username)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// RegisterWorker handles POST /v1/workers.
func (h *Handlers) RegisterWorker(c *gin.Context) {
	var req coordinator.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.coord.RegisterWorker(req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeregisterWorker handles DELETE /v1/workers/{id}.
func (h *Handlers) DeregisterWorker(c *gin.Context) {
	resp, err := h.coord.DeregisterWorker(coordinator.DeregisterRequest{
		WorkerID: c.Param("id"),
		Reason:   c.Query("reason"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Heartbeat handles POST /v1/workers/{id}/heartbeat.
func (h *Handlers) Heartbeat(c *gin.Context) {
	var req coordinator.HeartbeatRequest
	// The body is optional; metadata may ride along.
	_ = c.ShouldBindJSON(&req)
	req.WorkerID = c.Param("id")

	c.JSON(http.StatusOK, h.coord.Heartbeat(req))
}

// PullTasks handles POST /v1/workers/{id}/pull?count=N.
func (h *Handlers) PullTasks(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "1"))
	if err != nil || count < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "count must be a positive integer"})
		return
	}

	resp := h.coord.PullTasks(coordinator.PullTaskRequest{
		WorkerID: c.Param("id"),
		Count:    count,
	})
	c.JSON(http.StatusOK, resp)
}

// CompleteTask handles POST /v1/tasks/{id}/complete.
func (h *Handlers) CompleteTask(c *gin.Context) {
	var result dispatch.Result
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result.TaskID = c.Param("id")

	if err := h.coord.CompleteTask(result); err != nil {
		if errors.Is(err, dispatch.ErrNoAssignment) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// SubmitJob handles POST /v1/jobs, answering 202 Accepted.
func (h *Handlers) SubmitJob(c *gin.Context) {
	var req coordinator.JobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.coord.SubmitJob(req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// GetJob handles GET /v1/jobs/{id}.
func (h *Handlers) GetJob(c *gin.Context) {
	resp, err := h.coord.GetJobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CancelJob handles DELETE /v1/jobs/{id}.
func (h *Handlers) CancelJob(c *gin.Context) {
	resp, err := h.coord.CancelJob(coordinator.CancelJobRequest{
		JobID:  c.Param("id"),
		Reason: c.Query("reason"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListWorkers handles GET /v1/workers.
func (h *Handlers) ListWorkers(c *gin.Context) {
	resp := h.coord.ListWorkers(coordinator.ListWorkersRequest{
		StatusFilter: c.Query("status"),
		TagFilter:    c.QueryArray("tag"),
	})
	c.JSON(http.StatusOK, resp)
}

// ClusterStats handles GET /v1/cluster/stats.
func (h *Handlers) ClusterStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.ClusterStats())
}

// LoadPlugin handles POST /v1/plugins with a base64-encoded module.
func (h *Handlers) LoadPlugin(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
		Wasm string `json:"wasm" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wasm, err := base64.StdEncoding.DecodeString(req.Wasm)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wasm must be base64-encoded"})
		return
	}

	pluginID, err := h.plugins.Load(c.Request.Context(), req.Name, wasm)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"pluginId": pluginID})
}

// ListPlugins handles GET /v1/plugins.
func (h *Handlers) ListPlugins(c *gin.Context) {
	infos := h.plugins.List()
	c.JSON(http.StatusOK, gin.H{"plugins": infos, "total": len(infos)})
}

// GetPlugin handles GET /v1/plugins/{id}.
func (h *Handlers) GetPlugin(c *gin.Context) {
	info, ok := h.plugins.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": plugins.ErrPluginNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// UnloadPlugin handles DELETE /v1/plugins/{id}.
func (h *Handlers) UnloadPlugin(c *gin.Context) {
	if err := h.plugins.Unload(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ExecutePlugin handles POST /v1/plugins/{id}/execute.
func (h *Handlers) ExecutePlugin(c *gin.Context) {
	var input plugins.Input
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	output, err := h.plugins.Execute(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, output)
}
