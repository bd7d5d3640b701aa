package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	pkgerrors "github.com/rhizomelab/rhizome-backend/internal/pkg/errors"
	"github.com/rhizomelab/rhizome-backend/internal/services"
)

type DetectionHandler struct {
	svc services.DetectionService
}

func NewDetectionHandler(svc services.DetectionService) *DetectionHandler {
	return &DetectionHandler{svc: svc}
}

// POST /api/documents/:id/detect
func (h *DetectionHandler) EnqueueForDocument(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", fmt.Errorf("invalid document id: %w", pkgerrors.ErrInvalidArgument))
		return
	}

	run, err := h.svc.EnqueueForDocument(c.Request.Context(), userID, documentID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

// GET /api/runs/:id
func (h *DetectionHandler) GetRunByID(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", fmt.Errorf("invalid run id: %w", pkgerrors.ErrInvalidArgument))
		return
	}

	run, err := h.svc.GetRunByID(c.Request.Context(), userID, runID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"run": run})
}

// GET /api/documents/:id/runs/latest
func (h *DetectionHandler) GetLatestForDocument(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	documentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", fmt.Errorf("invalid document id: %w", pkgerrors.ErrInvalidArgument))
		return
	}

	run, err := h.svc.GetLatestForDocument(c.Request.Context(), userID, documentID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"run": run})
}
