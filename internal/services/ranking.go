package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rhizomelab/rhizome-backend/internal/engines"
	"github.com/rhizomelab/rhizome-backend/internal/logger"
	pkgerrors "github.com/rhizomelab/rhizome-backend/internal/pkg/errors"
	"github.com/rhizomelab/rhizome-backend/internal/repos"
	"github.com/rhizomelab/rhizome-backend/internal/types"
)

const (
	RankScopeAll      = "all"
	RankScopeInternal = "internal"
	RankScopeExternal = "external"
)

type RankFilters struct {
	MinStrength   float64            `json:"min_strength"`
	EngineTypes   []types.EngineType `json:"engine_types,omitempty"`
	Scope         string             `json:"scope,omitempty"`
	IncludeHidden bool               `json:"include_hidden,omitempty"`
	Limit         int                `json:"limit,omitempty"`
}

// RankInput carries everything Rank needs; Rank itself touches no clock, no
// database, and no globals, so identical inputs always produce identical
// output.
type RankInput struct {
	Connections []*types.Connection
	Weights     map[types.EngineType]float64
	Contexts    []*types.WeightContext
	Filters     RankFilters
	Now         time.Time
}

type ScoredConnection struct {
	*types.Connection
	WeightedScore float64 `json:"weighted_score"`
}

// Rank filters, scores, and orders a connection set. Ordering is weighted
// score descending with connection id as the tiebreak.
func Rank(in RankInput) []*ScoredConnection {
	multipliers := ContextMultipliers(in.Contexts, in.Now)

	var allowed map[types.EngineType]bool
	if len(in.Filters.EngineTypes) > 0 {
		allowed = make(map[types.EngineType]bool, len(in.Filters.EngineTypes))
		for _, engine := range in.Filters.EngineTypes {
			allowed[engine] = true
		}
	}

	out := make([]*ScoredConnection, 0, len(in.Connections))
	for _, conn := range in.Connections {
		if conn == nil {
			continue
		}
		if conn.UserHidden && !in.Filters.IncludeHidden {
			continue
		}
		if conn.Strength < in.Filters.MinStrength {
			continue
		}
		if allowed != nil && !allowed[conn.EngineType] {
			continue
		}
		switch in.Filters.Scope {
		case RankScopeInternal:
			if conn.SourceDocumentID != conn.TargetDocumentID {
				continue
			}
		case RankScopeExternal:
			if conn.SourceDocumentID == conn.TargetDocumentID {
				continue
			}
		}
		out = append(out, &ScoredConnection{
			Connection:    conn,
			WeightedScore: WeightedScore(conn.Strength, in.Weights, multipliers, conn.EngineType),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].WeightedScore != out[j].WeightedScore {
			return out[i].WeightedScore > out[j].WeightedScore
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if in.Filters.Limit > 0 && len(out) > in.Filters.Limit {
		out = out[:in.Filters.Limit]
	}
	return out
}

type RankedConnectionsRequest struct {
	ChunkIDs        []uuid.UUID                  `json:"chunk_ids"`
	WeightOverrides map[types.EngineType]float64 `json:"weight_overrides,omitempty"`
	Filters         RankFilters                  `json:"filters"`
}

type RankingService interface {
	GetRankedForChunks(ctx context.Context, userID uuid.UUID, req RankedConnectionsRequest) ([]*ScoredConnection, error)
}

type rankingService struct {
	db        *gorm.DB
	log       *logger.Logger
	connRepo  repos.ConnectionRepo
	wctxRepo  repos.WeightContextRepo
	weightCfg WeightConfigService
}

func NewRankingService(
	db *gorm.DB,
	baseLog *logger.Logger,
	connRepo repos.ConnectionRepo,
	wctxRepo repos.WeightContextRepo,
	weightCfg WeightConfigService,
) RankingService {
	return &rankingService{
		db:        db,
		log:       baseLog.With("service", "RankingService"),
		connRepo:  connRepo,
		wctxRepo:  wctxRepo,
		weightCfg: weightCfg,
	}
}

func (s *rankingService) GetRankedForChunks(ctx context.Context, userID uuid.UUID, req RankedConnectionsRequest) ([]*ScoredConnection, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user id: %w", pkgerrors.ErrInvalidArgument)
	}
	if len(req.ChunkIDs) == 0 {
		return nil, fmt.Errorf("chunk_ids required: %w", pkgerrors.ErrInvalidArgument)
	}
	for engine, w := range req.WeightOverrides {
		if !engines.IsKnownEngineType(engine) {
			return nil, fmt.Errorf("unknown engine type %q: %w", engine, pkgerrors.ErrInvalidArgument)
		}
		if w < MinEngineWeight || w > MaxEngineWeight {
			return nil, fmt.Errorf("weight override %.3f for %q outside [%.1f, %.1f]: %w", w, engine, MinEngineWeight, MaxEngineWeight, pkgerrors.ErrInvalidArgument)
		}
	}
	switch req.Filters.Scope {
	case "", RankScopeAll, RankScopeInternal, RankScopeExternal:
	default:
		return nil, fmt.Errorf("unknown scope %q: %w", req.Filters.Scope, pkgerrors.ErrInvalidArgument)
	}

	now := time.Now()
	conns, err := s.connRepo.GetByChunkIDs(ctx, nil, req.ChunkIDs)
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}

	cfg, err := s.weightCfg.GetForUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	// Overrides apply to this request only, never persisted.
	weights := make(map[types.EngineType]float64, len(cfg.Weights))
	for engine, w := range cfg.Weights {
		weights[engine] = w
	}
	for engine, w := range req.WeightOverrides {
		weights[engine] = w
	}

	contexts, err := s.wctxRepo.GetActiveByUserID(ctx, nil, userID, now)
	if err != nil {
		return nil, fmt.Errorf("load weight contexts: %w", err)
	}

	return Rank(RankInput{
		Connections: conns,
		Weights:     weights,
		Contexts:    contexts,
		Filters:     req.Filters,
		Now:         now,
	}), nil
}
