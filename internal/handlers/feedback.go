package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	pkgerrors "github.com/rhizomelab/rhizome-backend/internal/pkg/errors"
	"github.com/rhizomelab/rhizome-backend/internal/services"
)

type FeedbackHandler struct {
	svc services.FeedbackService
}

func NewFeedbackHandler(svc services.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{svc: svc}
}

// POST /api/connections/:id/feedback
func (h *FeedbackHandler) RecordFeedback(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", fmt.Errorf("invalid connection id: %w", pkgerrors.ErrInvalidArgument))
		return
	}
	var in services.FeedbackInput
	if err := c.ShouldBindJSON(&in); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", fmt.Errorf("invalid request body: %w", pkgerrors.ErrInvalidArgument))
		return
	}

	record, err := h.svc.RecordFeedback(c.Request.Context(), userID, connectionID, in)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"feedback": record})
}
