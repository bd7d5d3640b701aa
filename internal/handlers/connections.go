package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	pkgerrors "github.com/rhizomelab/rhizome-backend/internal/pkg/errors"
	"github.com/rhizomelab/rhizome-backend/internal/services"
)

type ConnectionHandler struct {
	svc services.RankingService
}

func NewConnectionHandler(svc services.RankingService) *ConnectionHandler {
	return &ConnectionHandler{svc: svc}
}

// POST /api/connections/ranked
func (h *ConnectionHandler) GetRanked(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req services.RankedConnectionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", fmt.Errorf("invalid request body: %w", pkgerrors.ErrInvalidArgument))
		return
	}

	ranked, err := h.svc.GetRankedForChunks(c.Request.Context(), userID, req)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"connections": ranked, "count": len(ranked)})
}
