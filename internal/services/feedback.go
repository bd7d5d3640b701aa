package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rhizomelab/rhizome-backend/internal/logger"
	pkgerrors "github.com/rhizomelab/rhizome-backend/internal/pkg/errors"
	"github.com/rhizomelab/rhizome-backend/internal/repos"
	"github.com/rhizomelab/rhizome-backend/internal/types"
)

const (
	StarredBoostContext    = "starred_boost"
	StarredBoostMultiplier = 2.0
	StarredBoostTTL        = 24 * time.Hour
)

type FeedbackInput struct {
	Action  string         `json:"action"`
	Context map[string]any `json:"context,omitempty"`
	Note    string         `json:"note,omitempty"`
}

type FeedbackService interface {
	RecordFeedback(ctx context.Context, userID uuid.UUID, connectionID uuid.UUID, in FeedbackInput) (*types.FeedbackRecord, error)
	PurgeExpiredContexts(ctx context.Context) (int64, error)
}

type feedbackService struct {
	db           *gorm.DB
	log          *logger.Logger
	connRepo     repos.ConnectionRepo
	feedbackRepo repos.FeedbackRepo
	wctxRepo     repos.WeightContextRepo
}

func NewFeedbackService(
	db *gorm.DB,
	baseLog *logger.Logger,
	connRepo repos.ConnectionRepo,
	feedbackRepo repos.FeedbackRepo,
	wctxRepo repos.WeightContextRepo,
) FeedbackService {
	return &feedbackService{
		db:           db,
		log:          baseLog.With("service", "FeedbackService"),
		connRepo:     connRepo,
		feedbackRepo: feedbackRepo,
		wctxRepo:     wctxRepo,
	}
}

// RecordFeedback appends the feedback record and applies its side effects on
// the connection row in one transaction, so a crash can never leave feedback
// recorded without the flag flip (or vice versa).
func (s *feedbackService) RecordFeedback(ctx context.Context, userID uuid.UUID, connectionID uuid.UUID, in FeedbackInput) (*types.FeedbackRecord, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user id: %w", pkgerrors.ErrInvalidArgument)
	}
	if connectionID == uuid.Nil {
		return nil, fmt.Errorf("missing connection id: %w", pkgerrors.ErrInvalidArgument)
	}
	switch in.Action {
	case types.FeedbackActionValidated, types.FeedbackActionRejected, types.FeedbackActionStarred:
	default:
		return nil, fmt.Errorf("unknown feedback action %q: %w", in.Action, pkgerrors.ErrInvalidArgument)
	}

	var contextJSON datatypes.JSON
	if len(in.Context) > 0 {
		raw, err := json.Marshal(in.Context)
		if err != nil {
			return nil, fmt.Errorf("marshal feedback context: %w", err)
		}
		contextJSON = datatypes.JSON(raw)
	}

	now := time.Now()
	record := &types.FeedbackRecord{
		ID:           uuid.New(),
		UserID:       userID,
		ConnectionID: connectionID,
		Action:       in.Action,
		Context:      contextJSON,
		Note:         in.Note,
		CreatedAt:    now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conns, err := s.connRepo.GetByIDs(ctx, tx, []uuid.UUID{connectionID})
		if err != nil {
			return fmt.Errorf("load connection: %w", err)
		}
		if len(conns) == 0 {
			return fmt.Errorf("connection %s: %w", connectionID, pkgerrors.ErrNotFound)
		}
		conn := conns[0]

		if _, err := s.feedbackRepo.Create(ctx, tx, []*types.FeedbackRecord{record}); err != nil {
			return fmt.Errorf("create feedback record: %w", err)
		}

		switch in.Action {
		case types.FeedbackActionValidated:
			if err := s.connRepo.UpdateFlags(ctx, tx, conn.ID, map[string]interface{}{
				"user_confirmed": true,
				"user_hidden":    false,
			}); err != nil {
				return fmt.Errorf("confirm connection: %w", err)
			}
		case types.FeedbackActionRejected:
			if err := s.connRepo.UpdateFlags(ctx, tx, conn.ID, map[string]interface{}{
				"user_hidden": true,
			}); err != nil {
				return fmt.Errorf("hide connection: %w", err)
			}
		case types.FeedbackActionStarred:
			if err := s.connRepo.UpdateFlags(ctx, tx, conn.ID, map[string]interface{}{
				"user_confirmed": true,
				"user_hidden":    false,
			}); err != nil {
				return fmt.Errorf("confirm connection: %w", err)
			}
			if err := s.wctxRepo.Upsert(ctx, tx, starredBoost(userID, conn.EngineType, now)); err != nil {
				return fmt.Errorf("upsert starred boost: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Feedback recorded",
		"user_id", userID,
		"connection_id", connectionID,
		"action", in.Action)
	return record, nil
}

// starredBoost is the temporary weight context a starred connection earns
// for its engine. Scoped by (user, "starred_boost", engine), so re-starring
// refreshes the window instead of stacking.
func starredBoost(userID uuid.UUID, engine types.EngineType, now time.Time) *types.WeightContext {
	expires := now.Add(StarredBoostTTL)
	return &types.WeightContext{
		ID:         uuid.New(),
		UserID:     userID,
		Context:    StarredBoostContext,
		EngineType: engine,
		Multiplier: StarredBoostMultiplier,
		ExpiresAt:  &expires,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *feedbackService) PurgeExpiredContexts(ctx context.Context) (int64, error) {
	n, err := s.wctxRepo.DeleteExpired(ctx, nil, time.Now())
	if err != nil {
		return 0, fmt.Errorf("delete expired weight contexts: %w", err)
	}
	if n > 0 {
		s.log.Info("Purged expired weight contexts", "count", n)
	}
	return n, nil
}
