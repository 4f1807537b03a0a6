// Package webhooks exposes the inbound HTTP surface consumed by external
// workflow engines. Bodies are validated here; everything else is
// delegated to the channel, agent, and task services.
package webhooks

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	agentservice "github.com/BradA1878/model-exchange-framework-sub007/internal/agent/service"
	channelservice "github.com/BradA1878/model-exchange-framework-sub007/internal/channel/service"
	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	taskmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/task/models"
	taskservice "github.com/BradA1878/model-exchange-framework-sub007/internal/task/service"
)

// Handlers carries the service dependencies of the webhook routes.
type Handlers struct {
	tasks    *taskservice.Service
	channels *channelservice.Service
	agents   *agentservice.Service
	logger   *logger.Logger
}

// NewHandlers creates the webhook handler set.
func NewHandlers(tasks *taskservice.Service, channels *channelservice.Service, agents *agentservice.Service, log *logger.Logger) *Handlers {
	return &Handlers{
		tasks:    tasks,
		channels: channels,
		agents:   agents,
		logger:   log.WithFields(zap.String("component", "webhook-handlers")),
	}
}

// RegisterRoutes mounts the webhook surface on the router.
func RegisterRoutes(router *gin.Engine, tasks *taskservice.Service, channels *channelservice.Service, agents *agentservice.Service, log *logger.Logger) {
	h := NewHandlers(tasks, channels, agents, log)
	group := router.Group("/api/webhooks/n8n")
	group.POST("/task", h.createTask)
	group.POST("/task/batch", h.createTaskBatch)
	group.POST("/event", h.postEvent)
	group.POST("/message", h.postMessage)
	group.GET("/health", h.health)
}

type taskRequest struct {
	ChannelID        string                 `json:"channelId" binding:"required"`
	Title            string                 `json:"title" binding:"required"`
	Description      string                 `json:"description" binding:"required"`
	AssignTo         string                 `json:"assignTo"`
	Priority         string                 `json:"priority"`
	CoordinationMode string                 `json:"coordinationMode"`
	Metadata         map[string]interface{} `json:"metadata"`
}

type batchTaskRequest struct {
	taskRequest
	Items []interface{} `json:"items" binding:"required"`
}

type eventRequest struct {
	ChannelID string                 `json:"channelId" binding:"required"`
	EventType string                 `json:"eventType" binding:"required"`
	Data      map[string]interface{} `json:"data"`
}

type messageRequest struct {
	ChannelID string                 `json:"channelId" binding:"required"`
	Message   string                 `json:"message" binding:"required"`
	AgentID   string                 `json:"agentId"`
	Metadata  map[string]interface{} `json:"metadata"`
}

func (h *Handlers) createTask(c *gin.Context) {
	var body taskRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, apperrors.InvalidRequest(err.Error()))
		return
	}
	task, err := h.acceptTask(c, body, nil)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "taskId": task.GetID()})
}

// createTaskBatch creates one task carrying the batch items verbatim
// under metadata.items.
func (h *Handlers) createTaskBatch(c *gin.Context) {
	var body batchTaskRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, apperrors.InvalidRequest(err.Error()))
		return
	}
	task, err := h.acceptTask(c, body.taskRequest, body.Items)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "taskId": task.GetID(), "itemCount": len(body.Items)})
}

func (h *Handlers) acceptTask(c *gin.Context, body taskRequest, items []interface{}) (*taskmodels.Task, error) {
	ctx := c.Request.Context()

	if _, err := h.channels.Get(ctx, body.ChannelID); err != nil {
		return nil, err
	}
	if body.AssignTo != "" {
		if _, err := h.agents.Get(ctx, body.AssignTo); err != nil {
			return nil, err
		}
	}

	metadata := body.Metadata
	if items != nil {
		if metadata == nil {
			metadata = make(map[string]interface{})
		}
		metadata["items"] = items
	}

	return h.tasks.Create(ctx, taskservice.CreateRequest{
		ChannelID:        body.ChannelID,
		Title:            body.Title,
		Description:      body.Description,
		Priority:         taskmodels.TaskPriority(body.Priority),
		AssignTo:         body.AssignTo,
		CoordinationMode: taskmodels.CoordinationMode(body.CoordinationMode),
		Metadata:         metadata,
		CreatedBy:        "n8n-webhook",
	})
}

func (h *Handlers) postEvent(c *gin.Context) {
	var body eventRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, apperrors.InvalidRequest(err.Error()))
		return
	}
	if err := h.channels.PostEvent(c.Request.Context(), body.ChannelID, body.EventType, body.Data); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) postMessage(c *gin.Context) {
	var body messageRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.fail(c, apperrors.InvalidRequest(err.Error()))
		return
	}
	if err := h.channels.PostMessage(c.Request.Context(), body.ChannelID, body.AgentID, body.Message, body.Metadata); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"status":    "healthy",
		"service":   "mxf-webhooks",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// fail renders the uniform error body with the status mapped from the
// error kind.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := apperrors.GetHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("Webhook request failed", zap.String("path", c.FullPath()))
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   apperrors.GetKind(err),
		"message": err.Error(),
	})
}
