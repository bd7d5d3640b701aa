package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	neo4jclient "github.com/rhizomelab/rhizome-backend/internal/clients/neo4j"
	redisbus "github.com/rhizomelab/rhizome-backend/internal/clients/redis"
	"github.com/rhizomelab/rhizome-backend/internal/engines"
	"github.com/rhizomelab/rhizome-backend/internal/logger"
	pkgerrors "github.com/rhizomelab/rhizome-backend/internal/pkg/errors"
	"github.com/rhizomelab/rhizome-backend/internal/repos"
	"github.com/rhizomelab/rhizome-backend/internal/sse"
	"github.com/rhizomelab/rhizome-backend/internal/types"
	"github.com/rhizomelab/rhizome-backend/internal/utils"
)

const (
	runMaxAttempts   = 3
	runRetryDelay    = 30 * time.Second
	runStaleRunning  = 2 * time.Minute
	runPollInterval  = time.Second
	runHeartbeatTick = 15 * time.Second
)

type DetectionService interface {
	EnqueueForDocument(ctx context.Context, userID, documentID uuid.UUID) (*types.DetectionRun, error)
	GetRunByID(ctx context.Context, userID, runID uuid.UUID) (*types.DetectionRun, error)
	GetLatestForDocument(ctx context.Context, userID, documentID uuid.UUID) (*types.DetectionRun, error)
	StartWorker(ctx context.Context)
}

type detectionService struct {
	db        *gorm.DB
	log       *logger.Logger
	chunkRepo repos.ChunkRepo
	connRepo  repos.ConnectionRepo
	runRepo   repos.DetectionRunRepo
	wctxRepo  repos.WeightContextRepo
	weightCfg WeightConfigService
	hub       *sse.SSEHub
	bus       redisbus.ProgressBus
	graph     *neo4jclient.Client
	registry  []engines.Engine

	poolLimit        int
	chunkConcurrency int
	engineTimeout    time.Duration
	batchSize        int
	progressEvery    int
}

func NewDetectionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	chunkRepo repos.ChunkRepo,
	connRepo repos.ConnectionRepo,
	runRepo repos.DetectionRunRepo,
	wctxRepo repos.WeightContextRepo,
	weightCfg WeightConfigService,
	hub *sse.SSEHub,
	bus redisbus.ProgressBus,
	graph *neo4jclient.Client,
) DetectionService {
	log := baseLog.With("service", "DetectionService")
	engineTimeoutMS := utils.GetEnvAsInt("ENGINE_TIMEOUT_MS", 5000, log)
	return &detectionService{
		db:        db,
		log:       log,
		chunkRepo: chunkRepo,
		connRepo:  connRepo,
		runRepo:   runRepo,
		wctxRepo:  wctxRepo,
		weightCfg: weightCfg,
		hub:       hub,
		bus:       bus,
		graph:     graph,
		registry:  engines.Registry(),

		poolLimit:        utils.GetEnvAsInt("DETECT_POOL_LIMIT", 500, log),
		chunkConcurrency: utils.GetEnvAsInt("DETECT_CHUNK_CONCURRENCY", 4, log),
		engineTimeout:    time.Duration(engineTimeoutMS) * time.Millisecond,
		batchSize:        utils.GetEnvAsInt("DETECT_BATCH_SIZE", 1000, log),
		progressEvery:    utils.GetEnvAsInt("DETECT_PROGRESS_EVERY", 10, log),
	}
}

func (s *detectionService) EnqueueForDocument(ctx context.Context, userID, documentID uuid.UUID) (*types.DetectionRun, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("missing user id: %w", pkgerrors.ErrInvalidArgument)
	}
	if documentID == uuid.Nil {
		return nil, fmt.Errorf("missing document id: %w", pkgerrors.ErrInvalidArgument)
	}
	now := time.Now()
	run := &types.DetectionRun{
		ID:         uuid.New(),
		UserID:     userID,
		DocumentID: documentID,
		Status:     types.DetectionRunPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.runRepo.Create(ctx, nil, []*types.DetectionRun{run}); err != nil {
		return nil, fmt.Errorf("create detection run: %w", err)
	}
	s.log.Info("Detection run enqueued", "run_id", run.ID, "user_id", userID, "document_id", documentID)
	s.notify(ctx, sse.SSEMessage{
		Channel: userID.String(),
		Event:   sse.SSEEventDetectionRunQueued,
		Data:    run,
	})
	return run, nil
}

func (s *detectionService) GetRunByID(ctx context.Context, userID, runID uuid.UUID) (*types.DetectionRun, error) {
	if userID == uuid.Nil || runID == uuid.Nil {
		return nil, fmt.Errorf("missing id: %w", pkgerrors.ErrInvalidArgument)
	}
	runs, err := s.runRepo.GetByIDs(ctx, nil, []uuid.UUID{runID})
	if err != nil {
		return nil, fmt.Errorf("load detection run: %w", err)
	}
	if len(runs) == 0 || runs[0].UserID != userID {
		return nil, fmt.Errorf("detection run %s: %w", runID, pkgerrors.ErrNotFound)
	}
	return runs[0], nil
}

func (s *detectionService) GetLatestForDocument(ctx context.Context, userID, documentID uuid.UUID) (*types.DetectionRun, error) {
	if userID == uuid.Nil || documentID == uuid.Nil {
		return nil, fmt.Errorf("missing id: %w", pkgerrors.ErrInvalidArgument)
	}
	run, err := s.runRepo.GetLatestByDocumentID(ctx, nil, userID, documentID)
	if err != nil {
		return nil, fmt.Errorf("load latest detection run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("no detection run for document %s: %w", documentID, pkgerrors.ErrNotFound)
	}
	return run, nil
}

// StartWorker polls for runnable detection runs and processes them one at a
// time. Crashed workers lose their claim once the heartbeat goes stale, so
// another instance picks the run back up.
func (s *detectionService) StartWorker(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(runPollInterval)
		defer ticker.Stop()
		s.log.Info("Detection worker started",
			"pool_limit", s.poolLimit,
			"chunk_concurrency", s.chunkConcurrency,
			"engine_timeout", s.engineTimeout,
			"batch_size", s.batchSize)
		for {
			select {
			case <-ctx.Done():
				s.log.Info("Detection worker stopped")
				return
			case <-ticker.C:
				for {
					if ctx.Err() != nil {
						return
					}
					run, err := s.runRepo.ClaimNextRunnable(ctx, nil, runMaxAttempts, runRetryDelay, runStaleRunning)
					if err != nil {
						s.log.Warn("Failed to claim detection run", "error", err)
						break
					}
					if run == nil {
						break
					}
					s.processRun(ctx, run)
				}
			}
		}
	}()
}

func (s *detectionService) processRun(ctx context.Context, run *types.DetectionRun) {
	log := s.log.With("run_id", run.ID, "user_id", run.UserID, "document_id", run.DocumentID)
	started := time.Now()

	// Terminal updates survive a shutdown that cancels the worker context.
	finalCtx := context.WithoutCancel(ctx)

	fail := func(stage string, err error) {
		now := time.Now()
		log.Error("Detection run failed", "stage", stage, "error", err)
		if uErr := s.runRepo.UpdateFields(finalCtx, nil, run.ID, map[string]interface{}{
			"status":        types.DetectionRunFailed,
			"error":         fmt.Sprintf("%s: %v", stage, err),
			"last_error_at": now,
		}); uErr != nil {
			log.Error("Failed to persist run failure", "error", uErr)
		}
		s.notify(finalCtx, sse.SSEMessage{
			Channel: run.UserID.String(),
			Event:   sse.SSEEventDetectionRunFailed,
			Data: map[string]any{
				"run_id":      run.ID,
				"document_id": run.DocumentID,
				"stage":       stage,
				"error":       err.Error(),
			},
		})
	}

	progress := func(pct int, msg string) {
		if uErr := s.runRepo.UpdateFields(ctx, nil, run.ID, map[string]interface{}{
			"progress": pct,
		}); uErr != nil {
			log.Warn("Failed to persist run progress", "error", uErr)
		}
		s.notify(ctx, sse.SSEMessage{
			Channel: run.UserID.String(),
			Event:   sse.SSEEventDetectionRunProgress,
			Data: map[string]any{
				"run_id":      run.ID,
				"document_id": run.DocumentID,
				"progress":    pct,
				"message":     msg,
			},
		})
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go func() {
		ticker := time.NewTicker(runHeartbeatTick)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := s.runRepo.Heartbeat(hbCtx, nil, run.ID); err != nil {
					log.Warn("Heartbeat failed", "error", err)
				}
			}
		}
	}()

	now := time.Now()
	cfg, err := s.weightCfg.GetForUser(ctx, nil, run.UserID)
	if err != nil {
		fail("load_weight_config", err)
		return
	}
	contexts, err := s.wctxRepo.GetActiveByUserID(ctx, nil, run.UserID, now)
	if err != nil {
		fail("load_weight_contexts", err)
		return
	}
	multipliers := ContextMultipliers(contexts, now)

	sourceRows, err := s.chunkRepo.GetByDocumentID(ctx, nil, run.DocumentID)
	if err != nil {
		fail("load_chunks", err)
		return
	}
	if len(sourceRows) == 0 {
		fail("load_chunks", fmt.Errorf("document %s has no chunks", run.DocumentID))
		return
	}

	// A rerun replaces the previous pass for this document; without the prune
	// the caps would only bound each run, not what is stored.
	sourceIDs := make([]uuid.UUID, 0, len(sourceRows))
	for _, row := range sourceRows {
		sourceIDs = append(sourceIDs, row.ID)
	}
	pruned, err := s.connRepo.DeleteAutoDetectedBySourceChunkIDs(ctx, nil, sourceIDs)
	if err != nil {
		fail("prune_stale_connections", err)
		return
	}
	if pruned > 0 {
		log.Info("Pruned stale auto-detected connections", "count", pruned)
	}

	poolRows, err := s.chunkRepo.GetCandidatePool(ctx, nil, run.DocumentID, s.poolLimit)
	if err != nil {
		fail("load_candidate_pool", err)
		return
	}

	pool := make([]*engines.Chunk, 0, len(poolRows))
	for _, row := range poolRows {
		view, pErr := engines.ParseChunk(row)
		if pErr != nil {
			log.Warn("Skipping malformed pool chunk", "chunk_id", row.ID, "error", pErr)
			continue
		}
		pool = append(pool, view)
	}

	var chunksFailed int64
	sources := make([]*engines.Chunk, 0, len(sourceRows))
	for _, row := range sourceRows {
		view, pErr := engines.ParseChunk(row)
		if pErr != nil {
			log.Warn("Skipping malformed source chunk", "chunk_id", row.ID, "error", pErr)
			chunksFailed++
			continue
		}
		sources = append(sources, view)
	}

	total := len(sourceRows)
	if uErr := s.runRepo.UpdateFields(ctx, nil, run.ID, map[string]interface{}{
		"chunks_total": total,
	}); uErr != nil {
		log.Warn("Failed to persist chunk total", "error", uErr)
	}
	progress(5, fmt.Sprintf("Loaded %d chunks against a pool of %d", total, len(pool)))

	var (
		mu             sync.Mutex
		pending        []*types.Connection
		mirrorRows     []*types.Connection
		batchesSkipped int64
		processed      int64
	)

	flushBatch := func(rows []*types.Connection) {
		if len(rows) == 0 {
			return
		}
		if err := s.connRepo.CreateBatch(ctx, nil, rows); err != nil {
			log.Warn("Batch insert failed, retrying once", "batch_size", len(rows), "error", err)
			if err2 := s.connRepo.CreateBatch(ctx, nil, rows); err2 != nil {
				atomic.AddInt64(&batchesSkipped, 1)
				log.Error("Batch insert failed after retry, skipping batch", "batch_size", len(rows), "error", err2)
				return
			}
		}
		mu.Lock()
		mirrorRows = append(mirrorRows, rows...)
		mu.Unlock()
	}

	add := func(rows []*types.Connection) {
		mu.Lock()
		pending = append(pending, rows...)
		var toFlush []*types.Connection
		if len(pending) >= s.batchSize {
			toFlush = pending
			pending = nil
		}
		mu.Unlock()
		flushBatch(toFlush)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.chunkConcurrency)
	for _, src := range sources {
		if gctx.Err() != nil {
			break
		}
		src := src
		g.Go(func() error {
			results := s.runEngines(gctx, src, pool)
			selected := selectTopCandidates(results, cfg.Weights, multipliers, cfg.EngineOrder, cfg.MaxConnectionsPerEngine, cfg.MaxConnectionsPerChunk)
			add(buildConnectionRows(src, selected))
			n := atomic.AddInt64(&processed, 1)
			if s.progressEvery > 0 && n%int64(s.progressEvery) == 0 {
				pct := 5 + int(float64(n)/float64(total)*90.0)
				progress(pct, fmt.Sprintf("Processed %d/%d chunks", n, total))
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		// Shutdown mid-run: leave the row running so the stale-heartbeat path
		// reclaims it.
		log.Warn("Detection run interrupted by shutdown", "processed", atomic.LoadInt64(&processed))
		return
	}

	mu.Lock()
	toFlush := pending
	pending = nil
	mu.Unlock()
	flushBatch(toFlush)

	mu.Lock()
	created := len(mirrorRows)
	mirror := mirrorRows
	mu.Unlock()

	if err := s.graph.MirrorConnections(finalCtx, mirror); err != nil {
		log.Warn("Graph mirror failed", "connections", created, "error", err)
	}

	if uErr := s.runRepo.UpdateFields(finalCtx, nil, run.ID, map[string]interface{}{
		"status":          types.DetectionRunCompleted,
		"progress":        100,
		"chunks_failed":   int(chunksFailed),
		"batches_skipped": int(atomic.LoadInt64(&batchesSkipped)),
		"error":           "",
	}); uErr != nil {
		log.Error("Failed to persist run completion", "error", uErr)
		return
	}
	log.Info("Detection run completed",
		"chunks_total", total,
		"chunks_failed", chunksFailed,
		"batches_skipped", atomic.LoadInt64(&batchesSkipped),
		"connections_created", created,
		"duration", time.Since(started))
	s.notify(finalCtx, sse.SSEMessage{
		Channel: run.UserID.String(),
		Event:   sse.SSEEventDetectionRunCompleted,
		Data: map[string]any{
			"run_id":              run.ID,
			"document_id":         run.DocumentID,
			"chunks_total":        total,
			"chunks_failed":       chunksFailed,
			"batches_skipped":     atomic.LoadInt64(&batchesSkipped),
			"connections_created": created,
		},
	})
}

// runEngines fans one chunk out to every engine in parallel. A panicking
// engine contributes an empty result; engines still running when the deadline
// hits are abandoned, their goroutines drain into the buffered channel.
func (s *detectionService) runEngines(ctx context.Context, source *engines.Chunk, pool []*engines.Chunk) map[types.EngineType][]engines.Candidate {
	type engineResult struct {
		engine types.EngineType
		cands  []engines.Candidate
	}
	resCh := make(chan engineResult, len(s.registry))
	for _, eng := range s.registry {
		eng := eng
		go func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("Engine panicked", "engine_type", eng.Type(), "chunk_id", source.ID, "panic", r)
					resCh <- engineResult{engine: eng.Type()}
				}
			}()
			resCh <- engineResult{engine: eng.Type(), cands: eng.Detect(source, pool)}
		}()
	}

	out := make(map[types.EngineType][]engines.Candidate, len(s.registry))
	timer := time.NewTimer(s.engineTimeout)
	defer timer.Stop()
	for i := 0; i < len(s.registry); i++ {
		select {
		case r := <-resCh:
			out[r.engine] = r.cands
		case <-timer.C:
			s.log.Warn("Engine deadline hit, dropping unfinished engines",
				"chunk_id", source.ID,
				"finished", len(out),
				"timeout", s.engineTimeout)
			return out
		case <-ctx.Done():
			return out
		}
	}
	return out
}

type scoredCandidate struct {
	Engine        types.EngineType
	Candidate     engines.Candidate
	WeightedScore float64
}

// selectTopCandidates applies the per-engine cap, then the per-chunk cap
// across the merged set. Ordering is weighted score descending; ties break on
// engine priority, then target chunk id, so a rerun selects the same rows.
func selectTopCandidates(
	results map[types.EngineType][]engines.Candidate,
	weights map[types.EngineType]float64,
	multipliers map[types.EngineType]float64,
	engineOrder []types.EngineType,
	maxPerEngine int,
	maxPerChunk int,
) []scoredCandidate {
	priority := make(map[types.EngineType]int, len(engineOrder))
	for i, engine := range engineOrder {
		priority[engine] = i
	}

	var merged []scoredCandidate
	for _, engine := range engineOrder {
		cands := results[engine]
		if len(cands) == 0 {
			continue
		}
		scored := make([]scoredCandidate, 0, len(cands))
		for _, cand := range cands {
			if cand.Target == nil {
				continue
			}
			scored = append(scored, scoredCandidate{
				Engine:        engine,
				Candidate:     cand,
				WeightedScore: WeightedScore(cand.Strength, weights, multipliers, engine),
			})
		}
		sort.Slice(scored, func(i, j int) bool {
			if scored[i].WeightedScore != scored[j].WeightedScore {
				return scored[i].WeightedScore > scored[j].WeightedScore
			}
			return scored[i].Candidate.Target.ID.String() < scored[j].Candidate.Target.ID.String()
		})
		if maxPerEngine > 0 && len(scored) > maxPerEngine {
			scored = scored[:maxPerEngine]
		}
		merged = append(merged, scored...)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].WeightedScore != merged[j].WeightedScore {
			return merged[i].WeightedScore > merged[j].WeightedScore
		}
		if priority[merged[i].Engine] != priority[merged[j].Engine] {
			return priority[merged[i].Engine] < priority[merged[j].Engine]
		}
		return merged[i].Candidate.Target.ID.String() < merged[j].Candidate.Target.ID.String()
	})
	if maxPerChunk > 0 && len(merged) > maxPerChunk {
		merged = merged[:maxPerChunk]
	}
	return merged
}

func buildConnectionRows(source *engines.Chunk, selected []scoredCandidate) []*types.Connection {
	now := time.Now()
	rows := make([]*types.Connection, 0, len(selected))
	for _, sc := range selected {
		rows = append(rows, &types.Connection{
			ID:               uuid.New(),
			SourceChunkID:    source.ID,
			TargetChunkID:    sc.Candidate.Target.ID,
			SourceDocumentID: source.DocumentID,
			TargetDocumentID: sc.Candidate.Target.DocumentID,
			EngineType:       sc.Engine,
			Strength:         sc.Candidate.Strength,
			AutoDetected:     true,
			Metadata:         mustJSON(sc.Candidate.Metadata),
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	return rows
}

func (s *detectionService) notify(ctx context.Context, msg sse.SSEMessage) {
	if s.bus != nil {
		if err := s.bus.Publish(ctx, msg); err != nil {
			s.log.Warn("Failed to publish progress message", "event", msg.Event, "error", err)
		}
		return
	}
	if s.hub != nil {
		s.hub.Broadcast(msg)
	}
}

func mustJSON(v any) datatypes.JSON {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
