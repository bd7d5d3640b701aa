package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rhizomelab/rhizome-backend/internal/engines"
	"github.com/rhizomelab/rhizome-backend/internal/logger"
	"github.com/rhizomelab/rhizome-backend/internal/types"
)

func testTarget(n int) *engines.Chunk {
	return &engines.Chunk{
		ID:         uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n)),
		DocumentID: uuid.MustParse("cccccccc-0000-0000-0000-000000000000"),
	}
}

func candidates(strengths ...float64) []engines.Candidate {
	out := make([]engines.Candidate, 0, len(strengths))
	for i, s := range strengths {
		out = append(out, engines.Candidate{Target: testTarget(i + 1), Strength: s})
	}
	return out
}

func TestSelectTopCandidatesPerEngineCap(t *testing.T) {
	results := map[types.EngineType][]engines.Candidate{
		types.EngineSemanticSimilarity: candidates(0.9, 0.8, 0.7, 0.6),
	}

	got := selectTopCandidates(results, nil, nil, engines.EngineTypes(), 2, 50)
	if len(got) != 2 {
		t.Fatalf("selected: want=2 got=%d", len(got))
	}
	if got[0].Candidate.Strength != 0.9 || got[1].Candidate.Strength != 0.8 {
		t.Fatalf("per-engine cap must keep the strongest: got=%v, %v", got[0].Candidate.Strength, got[1].Candidate.Strength)
	}
}

func TestSelectTopCandidatesPerChunkCap(t *testing.T) {
	results := map[types.EngineType][]engines.Candidate{
		types.EngineSemanticSimilarity: candidates(0.9, 0.8),
		types.EngineThematicBridge:     candidates(0.95, 0.7),
		types.EngineTemporalRhythm:     candidates(0.85),
	}

	got := selectTopCandidates(results, nil, nil, engines.EngineTypes(), 10, 3)
	if len(got) != 3 {
		t.Fatalf("selected: want=3 got=%d", len(got))
	}
	if got[0].Candidate.Strength != 0.95 {
		t.Fatalf("top score: want=0.95 got=%v", got[0].Candidate.Strength)
	}
}

func TestSelectTopCandidatesWeightsChangeSelection(t *testing.T) {
	results := map[types.EngineType][]engines.Candidate{
		types.EngineSemanticSimilarity: candidates(0.9),
		types.EngineThematicBridge:     candidates(0.8),
	}
	weights := map[types.EngineType]float64{
		types.EngineSemanticSimilarity: 0.1,
		types.EngineThematicBridge:     1.0,
	}

	got := selectTopCandidates(results, weights, nil, engines.EngineTypes(), 10, 1)
	if len(got) != 1 {
		t.Fatalf("selected: want=1 got=%d", len(got))
	}
	if got[0].Engine != types.EngineThematicBridge {
		t.Fatalf("winner: want=%s got=%s", types.EngineThematicBridge, got[0].Engine)
	}
}

func TestSelectTopCandidatesTieBreaksOnEnginePriority(t *testing.T) {
	// same target, same strength from two engines; earlier engine wins the tie
	shared := testTarget(1)
	results := map[types.EngineType][]engines.Candidate{
		types.EngineTemporalRhythm:     {{Target: shared, Strength: 0.5}},
		types.EngineSemanticSimilarity: {{Target: shared, Strength: 0.5}},
	}

	got := selectTopCandidates(results, nil, nil, engines.EngineTypes(), 10, 10)
	if len(got) != 2 {
		t.Fatalf("selected: want=2 got=%d", len(got))
	}
	if got[0].Engine != types.EngineSemanticSimilarity {
		t.Fatalf("tie-break: want=%s got=%s", types.EngineSemanticSimilarity, got[0].Engine)
	}
}

func TestSelectTopCandidatesDeterministic(t *testing.T) {
	results := map[types.EngineType][]engines.Candidate{
		types.EngineSemanticSimilarity: candidates(0.5, 0.5, 0.5),
		types.EngineEmotionalResonance: candidates(0.5, 0.5),
	}

	first := selectTopCandidates(results, nil, nil, engines.EngineTypes(), 10, 4)
	for i := 0; i < 10; i++ {
		again := selectTopCandidates(results, nil, nil, engines.EngineTypes(), 10, 4)
		if len(again) != len(first) {
			t.Fatalf("selection size changed between runs")
		}
		for j := range first {
			if first[j].Engine != again[j].Engine || first[j].Candidate.Target.ID != again[j].Candidate.Target.ID {
				t.Fatalf("selection not deterministic at %d", j)
			}
		}
	}
}

type fixedEngine struct{}

func (fixedEngine) Type() types.EngineType { return types.EngineSemanticSimilarity }
func (fixedEngine) Detect(source *engines.Chunk, pool []*engines.Chunk) []engines.Candidate {
	return []engines.Candidate{{Target: testTarget(9), Strength: 0.7}}
}

type panicEngine struct{}

func (panicEngine) Type() types.EngineType { return types.EngineThematicBridge }
func (panicEngine) Detect(source *engines.Chunk, pool []*engines.Chunk) []engines.Candidate {
	panic("boom")
}

type stuckEngine struct{}

func (stuckEngine) Type() types.EngineType { return types.EngineTemporalRhythm }
func (stuckEngine) Detect(source *engines.Chunk, pool []*engines.Chunk) []engines.Candidate {
	time.Sleep(5 * time.Second)
	return []engines.Candidate{{Target: testTarget(8), Strength: 0.9}}
}

func TestRunEnginesToleratesPanicAndTimeout(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	svc := &detectionService{
		log:           log,
		registry:      []engines.Engine{fixedEngine{}, panicEngine{}, stuckEngine{}},
		engineTimeout: 200 * time.Millisecond,
	}

	got := svc.runEngines(context.Background(), testTarget(1), nil)
	if len(got[types.EngineSemanticSimilarity]) != 1 {
		t.Fatalf("healthy engine result lost: got=%d candidates", len(got[types.EngineSemanticSimilarity]))
	}
	if len(got[types.EngineThematicBridge]) != 0 {
		t.Fatalf("panicking engine must contribute nothing")
	}
	if _, ok := got[types.EngineTemporalRhythm]; ok {
		t.Fatalf("stuck engine must be dropped at the deadline")
	}
}

func TestBuildConnectionRows(t *testing.T) {
	source := &engines.Chunk{
		ID:         uuid.New(),
		DocumentID: uuid.New(),
	}
	target := testTarget(1)
	selected := []scoredCandidate{{
		Engine:        types.EngineSemanticSimilarity,
		Candidate:     engines.Candidate{Target: target, Strength: 0.8, Metadata: map[string]any{"similarity": 0.8}},
		WeightedScore: 0.8,
	}}

	rows := buildConnectionRows(source, selected)
	if len(rows) != 1 {
		t.Fatalf("rows: want=1 got=%d", len(rows))
	}
	row := rows[0]
	if row.SourceChunkID != source.ID || row.TargetChunkID != target.ID {
		t.Fatalf("row endpoints wrong")
	}
	if row.SourceDocumentID != source.DocumentID || row.TargetDocumentID != target.DocumentID {
		t.Fatalf("row document ids wrong")
	}
	if !row.AutoDetected || row.UserConfirmed || row.UserHidden {
		t.Fatalf("row flags: want auto_detected only")
	}
	if row.Strength != 0.8 {
		t.Fatalf("row strength: want=0.8 got=%v", row.Strength)
	}
	if len(row.Metadata) == 0 {
		t.Fatalf("row metadata missing")
	}
}

// poolDrivenEngine emits one candidate per pool chunk, strongest first, so a
// changed pool produces a different survivor set on a rerun.
type poolDrivenEngine struct{}

func (poolDrivenEngine) Type() types.EngineType { return types.EngineSemanticSimilarity }
func (poolDrivenEngine) Detect(source *engines.Chunk, pool []*engines.Chunk) []engines.Candidate {
	out := make([]engines.Candidate, 0, len(pool))
	for i, c := range pool {
		out = append(out, engines.Candidate{Target: c, Strength: 0.9 - float64(i)*0.05})
	}
	return out
}

type stubChunkRepo struct {
	sources []*types.Chunk
	pool    []*types.Chunk
}

func (r *stubChunkRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Chunk, error) {
	return nil, nil
}

func (r *stubChunkRepo) GetByDocumentID(ctx context.Context, tx *gorm.DB, documentID uuid.UUID) ([]*types.Chunk, error) {
	return r.sources, nil
}

func (r *stubChunkRepo) GetCandidatePool(ctx context.Context, tx *gorm.DB, excludeDocumentID uuid.UUID, limit int) ([]*types.Chunk, error) {
	return r.pool, nil
}

// memConnRepo keeps rows in memory keyed by the identity triple, matching the
// unique index and the insert's conflict behavior.
type memConnRepo struct {
	mu   sync.Mutex
	rows map[string]*types.Connection
}

func newMemConnRepo() *memConnRepo {
	return &memConnRepo{rows: make(map[string]*types.Connection)}
}

func connKey(c *types.Connection) string {
	return c.SourceChunkID.String() + "|" + c.TargetChunkID.String() + "|" + c.EngineType
}

func (r *memConnRepo) CreateBatch(ctx context.Context, tx *gorm.DB, conns []*types.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range conns {
		if _, exists := r.rows[connKey(c)]; !exists {
			r.rows[connKey(c)] = c
		}
	}
	return nil
}

func (r *memConnRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Connection, error) {
	return nil, nil
}

func (r *memConnRepo) GetBySourceChunkIDs(ctx context.Context, tx *gorm.DB, chunkIDs []uuid.UUID) ([]*types.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		want[id] = true
	}
	var out []*types.Connection
	for _, c := range r.rows {
		if want[c.SourceChunkID] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Strength > out[j].Strength })
	return out, nil
}

func (r *memConnRepo) GetByChunkIDs(ctx context.Context, tx *gorm.DB, chunkIDs []uuid.UUID) ([]*types.Connection, error) {
	return r.GetBySourceChunkIDs(ctx, tx, chunkIDs)
}

func (r *memConnRepo) UpdateFlags(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (r *memConnRepo) DeleteAutoDetectedBySourceChunkIDs(ctx context.Context, tx *gorm.DB, chunkIDs []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		want[id] = true
	}
	var n int64
	for key, c := range r.rows {
		if want[c.SourceChunkID] && c.AutoDetected && !c.UserConfirmed && !c.UserHidden {
			delete(r.rows, key)
			n++
		}
	}
	return n, nil
}

type stubRunRepo struct{}

func (stubRunRepo) Create(ctx context.Context, tx *gorm.DB, runs []*types.DetectionRun) ([]*types.DetectionRun, error) {
	return runs, nil
}

func (stubRunRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.DetectionRun, error) {
	return nil, nil
}

func (stubRunRepo) GetLatestByDocumentID(ctx context.Context, tx *gorm.DB, userID, documentID uuid.UUID) (*types.DetectionRun, error) {
	return nil, nil
}

func (stubRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, maxAttempts int, retryDelay time.Duration, staleRunning time.Duration) (*types.DetectionRun, error) {
	return nil, nil
}

func (stubRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (stubRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return nil
}

type stubWctxRepo struct{}

func (stubWctxRepo) Upsert(ctx context.Context, tx *gorm.DB, wc *types.WeightContext) error {
	return nil
}

func (stubWctxRepo) GetActiveByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID, now time.Time) ([]*types.WeightContext, error) {
	return nil, nil
}

func (stubWctxRepo) DeleteExpired(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error) {
	return 0, nil
}

type stubWeightCfg struct {
	cfg *ResolvedWeightConfig
}

func (s stubWeightCfg) GetForUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*ResolvedWeightConfig, error) {
	return s.cfg, nil
}

func (s stubWeightCfg) Update(ctx context.Context, userID uuid.UUID, patch WeightConfigUpdate) (*ResolvedWeightConfig, error) {
	return s.cfg, nil
}

func (s stubWeightCfg) SaveWeights(ctx context.Context, tx *gorm.DB, cfg *ResolvedWeightConfig) error {
	return nil
}

// A second run must replace the previous auto-detected rows, so the stored
// per-engine cap holds across reruns instead of only within one run. Rows the
// user confirmed survive.
func TestRerunReplacesAutoDetectedRows(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	docID := uuid.MustParse("dddddddd-0000-0000-0000-000000000000")
	source := &types.Chunk{ID: uuid.New(), DocumentID: docID, Content: "alpha"}
	poolChunk := func(n int) *types.Chunk {
		tgt := testTarget(n)
		return &types.Chunk{ID: tgt.ID, DocumentID: tgt.DocumentID, Content: "beta"}
	}

	chunks := &stubChunkRepo{
		sources: []*types.Chunk{source},
		pool:    []*types.Chunk{poolChunk(1), poolChunk(2), poolChunk(3)},
	}
	conns := newMemConnRepo()
	cfg := &ResolvedWeightConfig{
		UserID:                  uuid.New(),
		Weights:                 engines.DefaultWeights(),
		EngineOrder:             engines.EngineTypes(),
		MaxConnectionsPerChunk:  50,
		MaxConnectionsPerEngine: 2,
	}

	svc := &detectionService{
		log:              log,
		chunkRepo:        chunks,
		connRepo:         conns,
		runRepo:          stubRunRepo{},
		wctxRepo:         stubWctxRepo{},
		weightCfg:        stubWeightCfg{cfg: cfg},
		registry:         []engines.Engine{poolDrivenEngine{}},
		poolLimit:        500,
		chunkConcurrency: 1,
		engineTimeout:    time.Second,
		batchSize:        10,
	}

	run := &types.DetectionRun{ID: uuid.New(), UserID: cfg.UserID, DocumentID: docID, Status: types.DetectionRunRunning}
	svc.processRun(context.Background(), run)

	stored, _ := conns.GetBySourceChunkIDs(context.Background(), nil, []uuid.UUID{source.ID})
	if len(stored) != 2 {
		t.Fatalf("first run rows: want=2 got=%d", len(stored))
	}

	// the user confirms one row, then the corpus shifts and detection reruns
	stored[0].UserConfirmed = true
	confirmedTarget := stored[0].TargetChunkID
	chunks.pool = []*types.Chunk{poolChunk(4), poolChunk(5), poolChunk(6)}
	svc.processRun(context.Background(), run)

	stored, _ = conns.GetBySourceChunkIDs(context.Background(), nil, []uuid.UUID{source.ID})
	autoByEngine := map[types.EngineType]int{}
	confirmed := 0
	for _, row := range stored {
		if row.UserConfirmed {
			confirmed++
			continue
		}
		autoByEngine[row.EngineType]++
	}
	if confirmed != 1 {
		t.Fatalf("confirmed rows after rerun: want=1 got=%d", confirmed)
	}
	if got := autoByEngine[types.EngineSemanticSimilarity]; got != 2 {
		t.Fatalf("auto rows per engine after rerun: want=2 got=%d", got)
	}
	for _, row := range stored {
		if !row.UserConfirmed && row.TargetChunkID == confirmedTarget {
			t.Fatalf("stale auto row for target %s not replaced", confirmedTarget)
		}
		if !row.UserConfirmed && (row.TargetChunkID == testTarget(1).ID || row.TargetChunkID == testTarget(2).ID || row.TargetChunkID == testTarget(3).ID) {
			t.Fatalf("first-run auto row survived the rerun: target=%s", row.TargetChunkID)
		}
	}
}
