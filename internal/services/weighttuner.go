package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	redisbus "github.com/rhizomelab/rhizome-backend/internal/clients/redis"
	"github.com/rhizomelab/rhizome-backend/internal/logger"
	pkgerrors "github.com/rhizomelab/rhizome-backend/internal/pkg/errors"
	"github.com/rhizomelab/rhizome-backend/internal/repos"
	"github.com/rhizomelab/rhizome-backend/internal/sse"
	"github.com/rhizomelab/rhizome-backend/internal/types"
	"github.com/rhizomelab/rhizome-backend/internal/utils"
)

const (
	tuneWindow     = 30 * 24 * time.Hour
	tuneMinSamples = 5
	tuneStep       = 0.1
)

type EngineFeedbackStats struct {
	Validated int `json:"validated"`
	Rejected  int `json:"rejected"`
	Starred   int `json:"starred"`
}

func (s EngineFeedbackStats) Total() int {
	return s.Validated + s.Rejected + s.Starred
}

type WeightChange struct {
	Old     float64 `json:"old"`
	New     float64 `json:"new"`
	Samples int     `json:"samples"`
}

// ApplyFeedbackStats nudges each engine weight by feedback score times the
// tuning step. Engines under the sample floor are untouched; results are
// clamped to the allowed band. Pure so the arithmetic is testable on its own.
func ApplyFeedbackStats(weights map[types.EngineType]float64, stats map[types.EngineType]EngineFeedbackStats) (map[types.EngineType]float64, map[types.EngineType]WeightChange) {
	next := make(map[types.EngineType]float64, len(weights))
	for engine, w := range weights {
		next[engine] = w
	}
	changes := make(map[types.EngineType]WeightChange)
	for engine, st := range stats {
		total := st.Total()
		if total < tuneMinSamples {
			continue
		}
		old, ok := next[engine]
		if !ok {
			old = MaxEngineWeight
		}
		score := float64(st.Validated+2*st.Starred-st.Rejected) / float64(total)
		updated := ClampWeight(old + score*tuneStep)
		if updated == old {
			continue
		}
		next[engine] = updated
		changes[engine] = WeightChange{Old: old, New: updated, Samples: total}
	}
	return next, changes
}

type WeightTunerService interface {
	TuneUser(ctx context.Context, userID uuid.UUID) (map[types.EngineType]WeightChange, error)
	StartScheduler(ctx context.Context)
}

type weightTunerService struct {
	db           *gorm.DB
	log          *logger.Logger
	connRepo     repos.ConnectionRepo
	feedbackRepo repos.FeedbackRepo
	wctxRepo     repos.WeightContextRepo
	weightCfg    WeightConfigService
	hub          *sse.SSEHub
	bus          redisbus.ProgressBus
	interval     time.Duration
}

func NewWeightTunerService(
	db *gorm.DB,
	baseLog *logger.Logger,
	connRepo repos.ConnectionRepo,
	feedbackRepo repos.FeedbackRepo,
	wctxRepo repos.WeightContextRepo,
	weightCfg WeightConfigService,
	hub *sse.SSEHub,
	bus redisbus.ProgressBus,
) WeightTunerService {
	log := baseLog.With("service", "WeightTunerService")
	intervalMin := utils.GetEnvAsInt("WEIGHT_TUNE_INTERVAL_MIN", 60, log)
	if intervalMin <= 0 {
		intervalMin = 60
	}
	return &weightTunerService{
		db:           db,
		log:          log,
		connRepo:     connRepo,
		feedbackRepo: feedbackRepo,
		wctxRepo:     wctxRepo,
		weightCfg:    weightCfg,
		hub:          hub,
		bus:          bus,
		interval:     time.Duration(intervalMin) * time.Minute,
	}
}

// TuneUser recomputes the user's engine weights from the last thirty days of
// feedback and persists the full vector as one upsert.
func (s *weightTunerService) TuneUser(ctx context.Context, userID uuid.UUID) (map[types.EngineType]WeightChange, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user id: %w", pkgerrors.ErrInvalidArgument)
	}
	now := time.Now()
	records, err := s.feedbackRepo.GetByUserSince(ctx, nil, userID, now.Add(-tuneWindow))
	if err != nil {
		return nil, fmt.Errorf("load feedback: %w", err)
	}
	if len(records) == 0 {
		return map[types.EngineType]WeightChange{}, nil
	}

	connIDs := make([]uuid.UUID, 0, len(records))
	seen := make(map[uuid.UUID]bool, len(records))
	for _, rec := range records {
		if !seen[rec.ConnectionID] {
			seen[rec.ConnectionID] = true
			connIDs = append(connIDs, rec.ConnectionID)
		}
	}
	conns, err := s.connRepo.GetByIDs(ctx, nil, connIDs)
	if err != nil {
		return nil, fmt.Errorf("load connections: %w", err)
	}
	engineByConn := make(map[uuid.UUID]types.EngineType, len(conns))
	for _, conn := range conns {
		engineByConn[conn.ID] = conn.EngineType
	}

	stats := make(map[types.EngineType]EngineFeedbackStats)
	for _, rec := range records {
		engine, ok := engineByConn[rec.ConnectionID]
		if !ok {
			continue
		}
		st := stats[engine]
		switch rec.Action {
		case types.FeedbackActionValidated:
			st.Validated++
		case types.FeedbackActionRejected:
			st.Rejected++
		case types.FeedbackActionStarred:
			st.Starred++
		}
		stats[engine] = st
	}

	cfg, err := s.weightCfg.GetForUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	next, changes := ApplyFeedbackStats(cfg.Weights, stats)
	if len(changes) == 0 {
		return changes, nil
	}
	cfg.Weights = next
	if err := s.weightCfg.SaveWeights(ctx, nil, cfg); err != nil {
		return nil, err
	}

	for engine, ch := range changes {
		s.log.Info("Engine weight tuned",
			"user_id", userID,
			"engine_type", engine,
			"old", ch.Old,
			"new", ch.New,
			"samples", ch.Samples)
	}
	s.notify(ctx, sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventWeightsTuned,
		Data:    changes,
	})
	return changes, nil
}

// notify mirrors the detection pipeline's delivery: publish through the bus
// when one is configured so every instance's hub sees the event, fall back to
// the local hub otherwise.
func (s *weightTunerService) notify(ctx context.Context, msg sse.SSEMessage) {
	if s.bus != nil {
		if err := s.bus.Publish(ctx, msg); err != nil {
			s.log.Warn("Failed to publish tuning message", "event", msg.Event, "error", err)
		}
		return
	}
	if s.hub != nil {
		s.hub.Broadcast(msg)
	}
}

// StartScheduler sweeps every user with recent feedback on a fixed interval.
// One user failing never stops the sweep. Expired weight contexts are also
// garbage-collected here.
func (s *weightTunerService) StartScheduler(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.log.Info("Weight tuner scheduler started", "interval", s.interval)
		for {
			select {
			case <-ctx.Done():
				s.log.Info("Weight tuner scheduler stopped")
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *weightTunerService) sweep(ctx context.Context) {
	now := time.Now()
	if _, err := s.wctxRepo.DeleteExpired(ctx, nil, now); err != nil {
		s.log.Warn("Failed to purge expired weight contexts", "error", err)
	}
	userIDs, err := s.feedbackRepo.DistinctUserIDsSince(ctx, nil, now.Add(-tuneWindow))
	if err != nil {
		s.log.Warn("Failed to list users for tuning", "error", err)
		return
	}
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.TuneUser(ctx, userID); err != nil {
			s.log.Warn("Tuning failed for user", "user_id", userID, "error", err)
		}
	}
}
