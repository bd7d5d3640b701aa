package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	pkgerrors "github.com/rhizomelab/rhizome-backend/internal/pkg/errors"
	"github.com/rhizomelab/rhizome-backend/internal/services"
)

type WeightsHandler struct {
	cfgSvc   services.WeightConfigService
	tunerSvc services.WeightTunerService
}

func NewWeightsHandler(cfgSvc services.WeightConfigService, tunerSvc services.WeightTunerService) *WeightsHandler {
	return &WeightsHandler{cfgSvc: cfgSvc, tunerSvc: tunerSvc}
}

// GET /api/weights
func (h *WeightsHandler) GetWeights(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	cfg, err := h.cfgSvc.GetForUser(c.Request.Context(), nil, userID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"config": cfg})
}

// PUT /api/weights
func (h *WeightsHandler) UpdateWeights(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var patch services.WeightConfigUpdate
	if err := c.ShouldBindJSON(&patch); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_argument", fmt.Errorf("invalid request body: %w", pkgerrors.ErrInvalidArgument))
		return
	}

	cfg, err := h.cfgSvc.Update(c.Request.Context(), userID, patch)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"config": cfg})
}

// POST /api/weights/tune
func (h *WeightsHandler) TuneNow(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	changes, err := h.tunerSvc.TuneUser(c.Request.Context(), userID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"changes": changes})
}
