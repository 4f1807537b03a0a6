package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway fronts trusted workflow tooling; origin policy is
	// enforced upstream.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP connections onto the hub.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler creates the upgrade handler.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{hub: hub, logger: log}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws/events", h.serve)
}

func (h *Handler) serve(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(uuid.New().String(), conn, h.hub, h.logger)
	if channelID := c.Query("channelId"); channelID != "" {
		client.applyControl(controlMessage{Action: "subscribe", ChannelID: channelID})
	}

	h.hub.register <- client
	go client.WritePump()
	go client.ReadPump()
}
