package handlers

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rhizomelab/rhizome-backend/internal/logger"
	pkgerrors "github.com/rhizomelab/rhizome-backend/internal/pkg/errors"
	"github.com/rhizomelab/rhizome-backend/internal/sse"
)

type SSEHandler struct {
	log     *logger.Logger
	hub     *sse.SSEHub
	mu      sync.Mutex
	clients map[uuid.UUID]*sse.SSEClient
}

func NewSSEHandler(log *logger.Logger, hub *sse.SSEHub) *SSEHandler {
	return &SSEHandler{
		log:     log.With("handler", "SSEHandler"),
		hub:     hub,
		clients: make(map[uuid.UUID]*sse.SSEClient),
	}
}

// GET /sse/stream
// Every client starts subscribed to its own user channel; detection and
// tuning events are broadcast there. Extra channels come and go through
// subscribe/unsubscribe.
func (h *SSEHandler) SSEStream(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	client := h.hub.NewSSEClient(userID)
	h.hub.AddChannel(client, userID.String())

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, client.ID)
		h.mu.Unlock()
		h.hub.CloseClient(client)
	}()

	c.Header("X-SSE-Client-ID", client.ID.String())
	h.hub.ServeHTTP(c.Writer, c.Request, client)
}

type sseChannelRequest struct {
	ClientID string `json:"client_id"`
	Channel  string `json:"channel"`
}

// POST /sse/subscribe
func (h *SSEHandler) SSESubscribe(c *gin.Context) {
	client, channel, ok := h.resolveChannelRequest(c)
	if !ok {
		return
	}
	h.hub.AddChannel(client, channel)
	RespondOK(c, gin.H{"subscribed": channel})
}

// POST /sse/unsubscribe
func (h *SSEHandler) SSEUnsubscribe(c *gin.Context) {
	client, channel, ok := h.resolveChannelRequest(c)
	if !ok {
		return
	}
	h.hub.RemoveChannel(client, channel)
	RespondOK(c, gin.H{"unsubscribed": channel})
}

func (h *SSEHandler) resolveChannelRequest(c *gin.Context) (*sse.SSEClient, string, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return nil, "", false
	}
	var req sseChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Channel == "" {
		RespondError(c, http.StatusBadRequest, "invalid_argument", fmt.Errorf("client_id and channel required: %w", pkgerrors.ErrInvalidArgument))
		return nil, "", false
	}
	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", fmt.Errorf("invalid client id: %w", pkgerrors.ErrInvalidArgument))
		return nil, "", false
	}

	h.mu.Lock()
	client := h.clients[clientID]
	h.mu.Unlock()
	if client == nil || client.UserID != userID {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("sse client %s: %w", clientID, pkgerrors.ErrNotFound))
		return nil, "", false
	}
	return client, req.Channel, true
}
