package services

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Dosada05/palanteer/live"
	"github.com/Dosada05/palanteer/models"
	"github.com/Dosada05/palanteer/repositories"
	"github.com/Dosada05/palanteer/storage"
)

var errFKViolation = errors.New("foreign key violation: leaderboard entry references submission")

// memDB is an in-memory stand-in for the database behind every repository. Transactions
// are serialized and roll back by restoring a snapshot.
type memDB struct {
	mu   sync.Mutex
	txMu sync.Mutex

	competitions map[int]models.Competition
	submissions  map[int]models.Submission
	entries      map[[2]int]models.LeaderboardEntry
	participants map[int]models.Participant
	nextComp     int
	nextSub      int

	markScoredErr error
}

func newMemDB() *memDB {
	return &memDB{
		competitions: make(map[int]models.Competition),
		submissions:  make(map[int]models.Submission),
		entries:      make(map[[2]int]models.LeaderboardEntry),
		participants: make(map[int]models.Participant),
	}
}

type memSnapshot struct {
	competitions map[int]models.Competition
	submissions  map[int]models.Submission
	entries      map[[2]int]models.LeaderboardEntry
	nextComp     int
	nextSub      int
}

func (db *memDB) snapshot() memSnapshot {
	db.mu.Lock()
	defer db.mu.Unlock()
	s := memSnapshot{
		competitions: make(map[int]models.Competition, len(db.competitions)),
		submissions:  make(map[int]models.Submission, len(db.submissions)),
		entries:      make(map[[2]int]models.LeaderboardEntry, len(db.entries)),
		nextComp:     db.nextComp,
		nextSub:      db.nextSub,
	}
	for k, v := range db.competitions {
		s.competitions[k] = v
	}
	for k, v := range db.submissions {
		s.submissions[k] = v
	}
	for k, v := range db.entries {
		s.entries[k] = v
	}
	return s
}

func (db *memDB) restore(s memSnapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.competitions = s.competitions
	db.submissions = s.submissions
	db.entries = s.entries
	db.nextComp = s.nextComp
	db.nextSub = s.nextSub
}

func (db *memDB) addParticipant(id int, name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.participants[id] = models.Participant{ID: id, DisplayName: name}
}

func (db *memDB) submission(id int) models.Submission {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.submissions[id]
}

func (db *memDB) submissionCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.submissions)
}

// memExec satisfies repositories.SQLExecutor; advisory lock statements become no-ops.
type memExec struct{}

func (memExec) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, nil
}

func (memExec) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, errors.New("memExec does not run queries")
}

func (memExec) QueryRowContext(context.Context, string, ...interface{}) *sql.Row {
	return nil
}

type memTransactor struct {
	db *memDB
}

func (t memTransactor) WithinTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error {
	t.db.txMu.Lock()
	defer t.db.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := t.db.snapshot()
	if err := fn(memExec{}); err != nil {
		t.db.restore(snap)
		return err
	}
	return nil
}

func (t memTransactor) WithinReadTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error {
	return t.WithinTx(ctx, fn)
}

type memCompetitions struct{ db *memDB }

func (r memCompetitions) Create(_ context.Context, c *models.Competition) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.competitions {
		if existing.Slug == c.Slug {
			return repositories.ErrCompetitionSlugConflict
		}
	}
	r.db.nextComp++
	c.ID = r.db.nextComp
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	r.db.competitions[c.ID] = *c
	return nil
}

func (r memCompetitions) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.Competition, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.competitions[id]
	if !ok {
		return nil, repositories.ErrCompetitionNotFound
	}
	c.HasGroundTruth = c.GroundTruthKey != nil && *c.GroundTruthKey != ""
	return &c, nil
}

func (r memCompetitions) List(_ context.Context, f repositories.ListCompetitionsFilter) ([]models.Competition, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Competition
	for _, c := range r.db.competitions {
		if f.Status != nil && c.Status != *f.Status {
			continue
		}
		if f.Visibility != nil && c.Visibility != *f.Visibility {
			continue
		}
		if f.OrganizerID != nil && c.OrganizerID != *f.OrganizerID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r memCompetitions) Update(_ context.Context, c *models.Competition) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.competitions[c.ID]; !ok {
		return repositories.ErrCompetitionNotFound
	}
	c.UpdatedAt = time.Now().UTC()
	r.db.competitions[c.ID] = *c
	return nil
}

func (r memCompetitions) UpdateStatus(_ context.Context, _ repositories.SQLExecutor, id int, status models.CompetitionStatus) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.competitions[id]
	if !ok {
		return repositories.ErrCompetitionNotFound
	}
	c.Status = status
	r.db.competitions[id] = c
	return nil
}

func (r memCompetitions) UpdateGroundTruthKey(_ context.Context, id int, key *string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	c, ok := r.db.competitions[id]
	if !ok {
		return repositories.ErrCompetitionNotFound
	}
	c.GroundTruthKey = key
	r.db.competitions[id] = c
	return nil
}

func (r memCompetitions) ListForAutoStatusUpdate(_ context.Context, _ repositories.SQLExecutor, now time.Time) ([]*models.Competition, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*models.Competition
	for _, c := range r.db.competitions {
		c := c
		if (c.Status == models.CompetitionUpcoming && !c.StartAt.After(now)) ||
			(c.Status == models.CompetitionActive && !c.EndAt.After(now)) {
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memSubmissions struct{ db *memDB }

func (r memSubmissions) Create(_ context.Context, _ repositories.SQLExecutor, s *models.Submission) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.competitions[s.CompetitionID]; !ok {
		return repositories.ErrSubmissionInvalidRefs
	}
	r.db.nextSub++
	s.ID = r.db.nextSub
	r.db.submissions[s.ID] = *s
	return nil
}

func (r memSubmissions) GetByID(_ context.Context, _ repositories.SQLExecutor, id int) (*models.Submission, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.submissions[id]
	if !ok {
		return nil, repositories.ErrSubmissionNotFound
	}
	return &s, nil
}

func (r memSubmissions) CountSince(_ context.Context, _ repositories.SQLExecutor, competitionID, participantID int, since time.Time) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, s := range r.db.submissions {
		if s.CompetitionID == competitionID && s.ParticipantID == participantID && !s.SubmittedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r memSubmissions) filter(keep func(models.Submission) bool) []*models.Submission {
	var out []*models.Submission
	for _, s := range r.db.submissions {
		if keep(s) {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r memSubmissions) ListByParticipant(_ context.Context, competitionID, participantID, limit, offset int) ([]*models.Submission, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := r.filter(func(s models.Submission) bool {
		return s.CompetitionID == competitionID && s.ParticipantID == participantID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memSubmissions) MarkScored(_ context.Context, _ repositories.SQLExecutor, id int, score float64, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.markScoredErr != nil {
		return r.db.markScoredErr
	}
	s, ok := r.db.submissions[id]
	if !ok || s.Status != models.SubmissionPending {
		return repositories.ErrSubmissionNotPending
	}
	s.Status = models.SubmissionScored
	s.Score = &score
	s.ScoredAt = &at
	r.db.submissions[id] = s
	return nil
}

func (r memSubmissions) MarkError(_ context.Context, _ repositories.SQLExecutor, id int, reason models.SubmissionErrorReason, message string, at time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.submissions[id]
	if !ok || s.Status != models.SubmissionPending {
		return repositories.ErrSubmissionNotPending
	}
	s.Status = models.SubmissionError
	s.ErrorReason = &reason
	s.ErrorMessage = &message
	s.ScoredAt = &at
	r.db.submissions[id] = s
	return nil
}

func (r memSubmissions) FailPendingByCompetition(_ context.Context, _ repositories.SQLExecutor, competitionID int, reason models.SubmissionErrorReason, message string, at time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for id, s := range r.db.submissions {
		if s.CompetitionID == competitionID && s.Status == models.SubmissionPending {
			s.Status = models.SubmissionError
			reason, message, at := reason, message, at
			s.ErrorReason = &reason
			s.ErrorMessage = &message
			s.ScoredAt = &at
			r.db.submissions[id] = s
			n++
		}
	}
	return n, nil
}

func (r memSubmissions) ListPendingBefore(_ context.Context, cutoff time.Time, limit int) ([]*models.Submission, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := r.filter(func(s models.Submission) bool {
		return s.Status == models.SubmissionPending && s.SubmittedAt.Before(cutoff)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memSubmissions) ListScored(_ context.Context, _ repositories.SQLExecutor, competitionID int, participantID *int) ([]*models.Submission, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.filter(func(s models.Submission) bool {
		return s.CompetitionID == competitionID && s.Status == models.SubmissionScored &&
			(participantID == nil || s.ParticipantID == *participantID)
	}), nil
}

func (r memSubmissions) LatestScored(_ context.Context, _ repositories.SQLExecutor, competitionID, participantID int) (*models.Submission, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var latest *models.Submission
	for _, s := range r.filter(func(s models.Submission) bool {
		return s.CompetitionID == competitionID && s.ParticipantID == participantID && s.Status == models.SubmissionScored
	}) {
		if latest == nil || !s.SubmittedAt.Before(latest.SubmittedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, repositories.ErrSubmissionNotFound
	}
	return latest, nil
}

func (r memSubmissions) Delete(_ context.Context, _ repositories.SQLExecutor, id int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.submissions[id]; !ok {
		return repositories.ErrSubmissionNotFound
	}
	for _, e := range r.db.entries {
		if e.BestSubmissionID == id {
			return errFKViolation
		}
	}
	delete(r.db.submissions, id)
	return nil
}

type memLeaderboard struct{ db *memDB }

func (r memLeaderboard) withName(e models.LeaderboardEntry) *models.LeaderboardEntry {
	e.DisplayName = r.db.participants[e.ParticipantID].DisplayName
	return &e
}

func (r memLeaderboard) GetByParticipant(_ context.Context, _ repositories.SQLExecutor, competitionID, participantID int) (*models.LeaderboardEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.entries[[2]int{competitionID, participantID}]
	if !ok {
		return nil, repositories.ErrLeaderboardEntryNotFound
	}
	return r.withName(e), nil
}

func (r memLeaderboard) sorted(competitionID int) []*models.LeaderboardEntry {
	var out []*models.LeaderboardEntry
	for _, e := range r.db.entries {
		if e.CompetitionID == competitionID {
			out = append(out, r.withName(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out
}

func (r memLeaderboard) ListByCompetition(_ context.Context, _ repositories.SQLExecutor, competitionID int) ([]*models.LeaderboardEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.sorted(competitionID), nil
}

func (r memLeaderboard) ListPage(_ context.Context, _ repositories.SQLExecutor, competitionID, limit, offset int) ([]*models.LeaderboardEntry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := r.sorted(competitionID)
	if offset >= len(out) {
		return []*models.LeaderboardEntry{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memLeaderboard) Upsert(_ context.Context, _ repositories.SQLExecutor, e *models.LeaderboardEntry) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := [2]int{e.CompetitionID, e.ParticipantID}
	stored := *e
	stored.DisplayName = ""
	if existing, ok := r.db.entries[key]; ok {
		stored.ID = existing.ID
		stored.Rank = existing.Rank
	} else {
		stored.ID = len(r.db.entries) + 1
	}
	e.ID = stored.ID
	r.db.entries[key] = stored
	return nil
}

func (r memLeaderboard) UpdateRanks(_ context.Context, _ repositories.SQLExecutor, competitionID int, entries []*models.LeaderboardEntry) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, e := range entries {
		key := [2]int{competitionID, e.ParticipantID}
		if stored, ok := r.db.entries[key]; ok {
			stored.Rank = e.Rank
			r.db.entries[key] = stored
		}
	}
	return nil
}

func (r memLeaderboard) Delete(_ context.Context, _ repositories.SQLExecutor, competitionID, participantID int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	key := [2]int{competitionID, participantID}
	if _, ok := r.db.entries[key]; !ok {
		return repositories.ErrLeaderboardEntryNotFound
	}
	delete(r.db.entries, key)
	return nil
}

func (r memLeaderboard) DeleteByCompetition(_ context.Context, _ repositories.SQLExecutor, competitionID int) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for key, e := range r.db.entries {
		if e.CompetitionID == competitionID {
			delete(r.db.entries, key)
		}
	}
	return nil
}

func (r memLeaderboard) Stats(_ context.Context, _ repositories.SQLExecutor, competitionID int) (*models.LeaderboardStats, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	entries := r.sorted(competitionID)
	stats := &models.LeaderboardStats{TotalParticipants: len(entries)}
	if len(entries) == 0 {
		return stats, nil
	}
	var sum float64
	for _, e := range entries {
		stats.TotalSubmissions += e.SubmissionCount
		sum += e.BestScore
	}
	top := entries[0].BestScore
	mean := sum / float64(len(entries))
	stats.TopScore = &top
	stats.MeanBestScore = &mean
	return stats, nil
}

type memParticipants struct{ db *memDB }

func (r memParticipants) GetByID(_ context.Context, id int) (*models.Participant, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.participants[id]
	if !ok {
		return nil, repositories.ErrParticipantNotFound
	}
	return &p, nil
}

// memStore is an in-memory FileStore. A non-nil block channel stalls downloads until it
// is closed or the context ends.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads int
	block   chan struct{}
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) Upload(ctx context.Context, key, _ string, r io.Reader) (*storage.UploadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.uploads++
	return &storage.UploadResult{Key: key, Size: int64(len(data))}, nil
}

func (s *memStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	data, ok := s.objects[key]
	block := s.block
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStore) put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type rankEvent struct {
	ParticipantID int
	CompetitionID int
	NewRank       int
}

type recordingNotifier struct {
	mu          sync.Mutex
	ranks       []rankEvent
	boards      []int
	submissions []live.SubmissionUpdatedPayload
}

func (n *recordingNotifier) NotifyRankChange(participantID, competitionID, newRank int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ranks = append(n.ranks, rankEvent{participantID, competitionID, newRank})
}

func (n *recordingNotifier) PublishLeaderboardUpdate(competitionID, _ int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.boards = append(n.boards, competitionID)
}

func (n *recordingNotifier) PublishSubmissionUpdate(_ int, payload live.SubmissionUpdatedPayload) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.submissions = append(n.submissions, payload)
}

type discardQueue struct {
	mu   sync.Mutex
	jobs []ScoringJob
}

func (q *discardQueue) Enqueue(job ScoringJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture wires every service against one memDB.
type fixture struct {
	db       *memDB
	store    *memStore
	notifier *recordingNotifier
	queue    *discardQueue
	clock    *fakeClock

	competitions repositories.CompetitionRepository
	submissions  repositories.SubmissionRepository
	leaderboard  repositories.LeaderboardRepository

	engine       *RankingEngine
	quota        *QuotaGuard
	submitSvc    SubmissionService
	boardSvc     LeaderboardService
	worker       *ScoringWorker
	compSvc      CompetitionService
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture() *fixture {
	db := newMemDB()
	f := &fixture{
		db:           db,
		store:        newMemStore(),
		notifier:     &recordingNotifier{},
		queue:        &discardQueue{},
		clock:        &fakeClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)},
		competitions: memCompetitions{db},
		submissions:  memSubmissions{db},
		leaderboard:  memLeaderboard{db},
	}
	tx := memTransactor{db}
	logger := testLogger()

	f.engine = NewRankingEngine(tx, f.competitions, f.submissions, f.leaderboard, f.notifier, logger)
	f.engine.now = f.clock.Now
	f.quota = NewQuotaGuard(f.competitions, f.submissions, f.clock.Now)
	validator := NewSubmissionValidator(50 << 20)

	svc := NewSubmissionService(tx, f.competitions, f.submissions, memParticipants{db}, validator, f.quota, f.engine, f.store, f.queue, logger)
	svc.(*submissionService).now = f.clock.Now
	f.submitSvc = svc

	f.boardSvc = NewLeaderboardService(tx, f.competitions, f.submissions, f.leaderboard)

	f.worker = NewScoringWorker(ScoringWorkerConfig{
		Workers:   2,
		QueueSize: 16,
		Timeout:   time.Second,
		Retry:     RetryPolicy{MaxAttempts: 1},
	}, f.competitions, f.submissions, f.store, f.engine, nil, f.notifier, logger)
	f.worker.now = f.clock.Now

	cs := NewCompetitionService(f.competitions, f.engine, f.worker, f.store, validator, nil, logger)
	cs.(*competitionService).now = f.clock.Now
	f.compSvc = cs
	return f
}

// activeCompetition stores an active competition with a ground truth file.
func (f *fixture) activeCompetition(metric string, truth string) *models.Competition {
	key := "ground-truth/test/truth.csv"
	c := &models.Competition{
		Slug:                 "test-" + metric,
		Title:                "Test " + metric,
		MetricType:           metric,
		KeyColumn:            "id",
		TargetColumn:         "target",
		StartAt:              f.clock.Now().Add(-24 * time.Hour),
		EndAt:                f.clock.Now().Add(30 * 24 * time.Hour),
		Visibility:           models.VisibilityPublic,
		Status:               models.CompetitionActive,
		DailySubmissionLimit: 5,
		AllowedExtensions:    []string{".csv", ".xlsx"},
		GroundTruthKey:       &key,
		OrganizerID:          100,
	}
	if err := f.competitions.Create(context.Background(), c); err != nil {
		panic(err)
	}
	f.store.put(key, []byte(truth))
	return c
}

// seedPending records a pending submission and its file, bypassing upload.
func (f *fixture) seedPending(competitionID, participantID int, submittedAt time.Time, body string) *models.Submission {
	key := "submissions/seed/" + submittedAt.Format(time.RFC3339Nano) + ".csv"
	f.store.put(key, []byte(body))
	s := &models.Submission{
		CompetitionID: competitionID,
		ParticipantID: participantID,
		FileKey:       key,
		FileName:      "preds.csv",
		FileSize:      int64(len(body)),
		Status:        models.SubmissionPending,
		SubmittedAt:   submittedAt,
	}
	if err := f.submissions.Create(context.Background(), nil, s); err != nil {
		panic(err)
	}
	return s
}
