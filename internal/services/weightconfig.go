package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rhizomelab/rhizome-backend/internal/engines"
	"github.com/rhizomelab/rhizome-backend/internal/logger"
	pkgerrors "github.com/rhizomelab/rhizome-backend/internal/pkg/errors"
	"github.com/rhizomelab/rhizome-backend/internal/repos"
	"github.com/rhizomelab/rhizome-backend/internal/types"
)

const (
	MinEngineWeight = 0.1
	MaxEngineWeight = 1.0

	DefaultMaxConnectionsPerChunk  = 50
	DefaultMaxConnectionsPerEngine = 10
)

// ResolvedWeightConfig is the parsed, clamped view services work with; the
// jsonb row never leaves the repo layer.
type ResolvedWeightConfig struct {
	UserID                  uuid.UUID                    `json:"user_id"`
	Weights                 map[types.EngineType]float64 `json:"weights"`
	EngineOrder             []types.EngineType           `json:"engine_order"`
	MaxConnectionsPerChunk  int                          `json:"max_connections_per_chunk"`
	MaxConnectionsPerEngine int                          `json:"max_connections_per_engine"`
}

type WeightConfigUpdate struct {
	Weights                 map[types.EngineType]float64 `json:"weights,omitempty"`
	EngineOrder             []types.EngineType           `json:"engine_order,omitempty"`
	MaxConnectionsPerChunk  *int                         `json:"max_connections_per_chunk,omitempty"`
	MaxConnectionsPerEngine *int                         `json:"max_connections_per_engine,omitempty"`
}

type WeightConfigService interface {
	GetForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*ResolvedWeightConfig, error)
	Update(ctx context.Context, userID uuid.UUID, patch WeightConfigUpdate) (*ResolvedWeightConfig, error)
	SaveWeights(ctx context.Context, tx *gorm.DB, cfg *ResolvedWeightConfig) error
}

type weightConfigService struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.WeightConfigRepo
}

func NewWeightConfigService(db *gorm.DB, baseLog *logger.Logger, repo repos.WeightConfigRepo) WeightConfigService {
	return &weightConfigService{
		db:   db,
		log:  baseLog.With("service", "WeightConfigService"),
		repo: repo,
	}
}

func DefaultWeightConfig(userID uuid.UUID) *ResolvedWeightConfig {
	return &ResolvedWeightConfig{
		UserID:                  userID,
		Weights:                 engines.DefaultWeights(),
		EngineOrder:             engines.EngineTypes(),
		MaxConnectionsPerChunk:  DefaultMaxConnectionsPerChunk,
		MaxConnectionsPerEngine: DefaultMaxConnectionsPerEngine,
	}
}

func (s *weightConfigService) GetForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*ResolvedWeightConfig, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user id: %w", pkgerrors.ErrInvalidArgument)
	}
	row, err := s.repo.GetByUserID(ctx, tx, userID)
	if err != nil {
		return nil, fmt.Errorf("load weight config: %w", err)
	}
	if row == nil {
		return DefaultWeightConfig(userID), nil
	}
	return resolveWeightConfigRow(row), nil
}

func (s *weightConfigService) Update(ctx context.Context, userID uuid.UUID, patch WeightConfigUpdate) (*ResolvedWeightConfig, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user id: %w", pkgerrors.ErrInvalidArgument)
	}
	for engine, w := range patch.Weights {
		if !engines.IsKnownEngineType(engine) {
			return nil, fmt.Errorf("unknown engine type %q: %w", engine, pkgerrors.ErrInvalidArgument)
		}
		if w < MinEngineWeight || w > MaxEngineWeight {
			return nil, fmt.Errorf("weight %.3f for %q outside [%.1f, %.1f]: %w", w, engine, MinEngineWeight, MaxEngineWeight, pkgerrors.ErrInvalidArgument)
		}
	}
	for _, engine := range patch.EngineOrder {
		if !engines.IsKnownEngineType(engine) {
			return nil, fmt.Errorf("unknown engine type %q in engine_order: %w", engine, pkgerrors.ErrInvalidArgument)
		}
	}
	if patch.MaxConnectionsPerChunk != nil && *patch.MaxConnectionsPerChunk <= 0 {
		return nil, fmt.Errorf("max_connections_per_chunk must be positive: %w", pkgerrors.ErrInvalidArgument)
	}
	if patch.MaxConnectionsPerEngine != nil && *patch.MaxConnectionsPerEngine <= 0 {
		return nil, fmt.Errorf("max_connections_per_engine must be positive: %w", pkgerrors.ErrInvalidArgument)
	}

	cfg, err := s.GetForUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	for engine, w := range patch.Weights {
		cfg.Weights[engine] = w
	}
	if len(patch.EngineOrder) > 0 {
		cfg.EngineOrder = normalizeEngineOrder(patch.EngineOrder)
	}
	if patch.MaxConnectionsPerChunk != nil {
		cfg.MaxConnectionsPerChunk = *patch.MaxConnectionsPerChunk
	}
	if patch.MaxConnectionsPerEngine != nil {
		cfg.MaxConnectionsPerEngine = *patch.MaxConnectionsPerEngine
	}

	if err := s.SaveWeights(ctx, nil, cfg); err != nil {
		return nil, err
	}
	s.log.Info("Weight config updated", "user_id", userID, "weights", cfg.Weights)
	return cfg, nil
}

// SaveWeights persists the whole resolved config as one upsert, so readers
// never see a partial weight vector.
func (s *weightConfigService) SaveWeights(ctx context.Context, tx *gorm.DB, cfg *ResolvedWeightConfig) error {
	if cfg == nil || cfg.UserID == uuid.Nil {
		return fmt.Errorf("missing user id: %w", pkgerrors.ErrInvalidArgument)
	}
	weightsJSON, err := json.Marshal(cfg.Weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	orderJSON, err := json.Marshal(cfg.EngineOrder)
	if err != nil {
		return fmt.Errorf("marshal engine order: %w", err)
	}
	now := time.Now()
	row := &types.WeightConfig{
		UserID:                  cfg.UserID,
		Weights:                 datatypes.JSON(weightsJSON),
		EngineOrder:             datatypes.JSON(orderJSON),
		MaxConnectionsPerChunk:  cfg.MaxConnectionsPerChunk,
		MaxConnectionsPerEngine: cfg.MaxConnectionsPerEngine,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := s.repo.Upsert(ctx, tx, row); err != nil {
		return fmt.Errorf("upsert weight config: %w", err)
	}
	return nil
}

func resolveWeightConfigRow(row *types.WeightConfig) *ResolvedWeightConfig {
	cfg := DefaultWeightConfig(row.UserID)
	var stored map[types.EngineType]float64
	if len(row.Weights) > 0 {
		if err := json.Unmarshal(row.Weights, &stored); err == nil {
			for engine, w := range stored {
				if !engines.IsKnownEngineType(engine) {
					continue
				}
				cfg.Weights[engine] = ClampWeight(w)
			}
		}
	}
	var order []types.EngineType
	if len(row.EngineOrder) > 0 {
		if err := json.Unmarshal(row.EngineOrder, &order); err == nil && len(order) > 0 {
			cfg.EngineOrder = normalizeEngineOrder(order)
		}
	}
	if row.MaxConnectionsPerChunk > 0 {
		cfg.MaxConnectionsPerChunk = row.MaxConnectionsPerChunk
	}
	if row.MaxConnectionsPerEngine > 0 {
		cfg.MaxConnectionsPerEngine = row.MaxConnectionsPerEngine
	}
	return cfg
}

// normalizeEngineOrder keeps the caller's priority order but drops unknown
// entries and appends any engine the caller left out, so the order always
// covers the full registry.
func normalizeEngineOrder(order []types.EngineType) []types.EngineType {
	seen := make(map[types.EngineType]bool, len(order))
	out := make([]types.EngineType, 0, len(order))
	for _, engine := range order {
		if !engines.IsKnownEngineType(engine) || seen[engine] {
			continue
		}
		seen[engine] = true
		out = append(out, engine)
	}
	for _, engine := range engines.EngineTypes() {
		if !seen[engine] {
			out = append(out, engine)
		}
	}
	return out
}
