// Package websocket streams bus events to connected observers. Clients
// subscribe to channels; the hub fans matching events out and drops
// consumers that cannot keep up.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/events/bus"
)

// Hub manages all WebSocket client connections and the bus subscriptions
// feeding them.
type Hub struct {
	eventBus bus.EventBus

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *bus.Event

	subs []bus.Subscription

	mu     sync.RWMutex
	logger *logger.Logger
}

// NewHub creates a hub over the event bus.
func NewHub(eventBus bus.EventBus, log *logger.Logger) *Hub {
	return &Hub{
		eventBus:   eventBus,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *bus.Event, 256),
		logger:     log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Run subscribes to the bus and processes client traffic until the
// context ends.
func (h *Hub) Run(ctx context.Context) {
	if err := h.subscribeAll(); err != nil {
		h.logger.WithError(err).Error("Failed to subscribe hub to event bus")
		return
	}
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.removeClient(client)

		case event := <-h.broadcast:
			h.fanOut(event)
		}
	}
}

// subscribeAll wires the hub to every observable event family.
func (h *Hub) subscribeAll() error {
	subjects := []string{
		events.BuildChannelWildcardSubject(events.TaskCreated),
		events.BuildChannelWildcardSubject(events.TaskStatusChanged),
		events.BuildChannelWildcardSubject(events.TaskAssigned),
		events.BuildChannelWildcardSubject(events.TaskDeleted),
		events.BuildChannelWildcardSubject(events.ChannelEvent),
		events.BuildChannelWildcardSubject(events.ChannelMessage),
		events.BuildChannelWildcardSubject(events.LoopStarted),
		events.BuildChannelWildcardSubject(events.LoopStopped),
		events.BuildChannelWildcardSubject(events.CycleComplete),
		events.BuildPhaseWildcardSubject(),
		events.BuildChannelWildcardSubject(events.EntityCreated),
		events.BuildChannelWildcardSubject(events.EntitiesMerged),
	}
	for _, subject := range subjects {
		sub, err := h.eventBus.Subscribe(subject, func(_ context.Context, event *bus.Event) error {
			select {
			case h.broadcast <- event:
			default:
				h.logger.Warn("Hub broadcast buffer full; event dropped",
					zap.String("type", event.Type))
			}
			return nil
		})
		if err != nil {
			return err
		}
		h.subs = append(h.subs, sub)
	}
	return nil
}

// fanOut delivers one event to every client whose channel filter admits
// it. A client with a full send buffer is dropped rather than allowed to
// stall the hub.
func (h *Hub) fanOut(event *bus.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal event for broadcast")
		return
	}
	channelID, _ := event.Data["channelId"].(string)

	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		if !client.wants(channelID) {
			continue
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warn("Dropping slow websocket consumer", zap.String("client_id", client.ID))
		h.removeClient(client)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
	}
}

func (h *Hub) closeAll() {
	for _, sub := range h.subs {
		_ = sub.Unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// Unregister detaches a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	default:
		h.removeClient(client)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
