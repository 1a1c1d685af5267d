package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"elexis-pipeline/internal/document"
	"elexis-pipeline/internal/enrichment"
	"elexis-pipeline/internal/storage"
	"elexis-pipeline/internal/storage/models"
	"elexis-pipeline/pkg/ratelimit"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// MockStore 内存版 Store，行为对齐 MySQL 实现
type MockStore struct {
	mu sync.Mutex

	orgs         map[string]*models.Organization
	jobs         map[string]*models.Job
	candidates   map[string]*models.Candidate
	requirements map[string][]models.JobRequirement
	scores       []*models.JobMatchingResumeScore
	interviews   map[string]*models.Interview
	trackers     map[string]*models.ResumeUploadTracker
	suggestions  []*models.SuggestedCandidate

	evaluations     []*models.AiJdResumeMatchingResponse
	suggestionEvals map[string]*models.AiJdResumeMatchingResponse
	completions     []storage.CompletionRecord
	videos          map[string][]string
	appliedRankings []map[string]int
	notJoinedCutoff time.Time

	// errs 按方法名注入错误
	errs map[string]error
}

func NewMockStore() *MockStore {
	return &MockStore{
		orgs:            map[string]*models.Organization{},
		jobs:            map[string]*models.Job{},
		candidates:      map[string]*models.Candidate{},
		requirements:    map[string][]models.JobRequirement{},
		interviews:      map[string]*models.Interview{},
		trackers:        map[string]*models.ResumeUploadTracker{},
		suggestionEvals: map[string]*models.AiJdResumeMatchingResponse{},
		videos:          map[string][]string{},
		errs:            map[string]error{},
	}
}

func (m *MockStore) fail(method string) error {
	return m.errs[method]
}

func missing(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, storage.ErrNotFound)
}

func (m *MockStore) addOrg(o models.Organization) *models.Organization {
	m.orgs[o.ID] = &o
	return &o
}

func (m *MockStore) addJob(j models.Job) *models.Job {
	m.jobs[j.ID] = &j
	return &j
}

func (m *MockStore) addCandidate(c models.Candidate) *models.Candidate {
	m.candidates[c.ID] = &c
	return &c
}

func (m *MockStore) addScore(s models.JobMatchingResumeScore) *models.JobMatchingResumeScore {
	if s.Stage == "" {
		s.Stage = models.StageCandidateOnboard
	}
	m.scores = append(m.scores, &s)
	return &s
}

func (m *MockStore) addInterview(iv models.Interview) *models.Interview {
	m.interviews[iv.ID] = &iv
	return &iv
}

func (m *MockStore) addTracker(t models.ResumeUploadTracker) *models.ResumeUploadTracker {
	m.trackers[t.BatchJobID] = &t
	return &t
}

func (m *MockStore) score(id string) *models.JobMatchingResumeScore {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.scores {
		if s.ID == id {
			cp := *s
			return &cp
		}
	}
	return nil
}

func (m *MockStore) tracker(batchID string) models.ResumeUploadTracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.trackers[batchID]
}

func (m *MockStore) GetScore(_ context.Context, id string) (*models.JobMatchingResumeScore, error) {
	if err := m.fail("GetScore"); err != nil {
		return nil, err
	}
	if s := m.score(id); s != nil {
		return s, nil
	}
	return nil, missing("score", id)
}

func (m *MockStore) UpdateScore(_ context.Context, id string, score float64) error {
	if err := m.fail("UpdateScore"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.scores {
		if s.ID == id {
			s.Score = score
			return nil
		}
	}
	return missing("score", id)
}

func (m *MockStore) activeScores(match func(*models.JobMatchingResumeScore) bool) []models.JobMatchingResumeScore {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.JobMatchingResumeScore
	for _, s := range m.scores {
		if !s.IsArchived && match(s) {
			out = append(out, *s)
		}
	}
	return out
}

func (m *MockStore) ListActiveScores(_ context.Context, jobID string) ([]models.JobMatchingResumeScore, error) {
	if err := m.fail("ListActiveScores"); err != nil {
		return nil, err
	}
	return m.activeScores(func(s *models.JobMatchingResumeScore) bool { return s.JobID == jobID }), nil
}

func (m *MockStore) ListActiveScoresByCandidate(_ context.Context, candidateID string) ([]models.JobMatchingResumeScore, error) {
	return m.activeScores(func(s *models.JobMatchingResumeScore) bool { return s.CandidateID == candidateID }), nil
}

func (m *MockStore) ApplyRankings(_ context.Context, jobID string, rankings map[string]int) error {
	if err := m.fail("ApplyRankings"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	applied := make(map[string]int, len(rankings))
	for _, s := range m.scores {
		if r, ok := rankings[s.ID]; ok && s.JobID == jobID && !s.IsArchived {
			r := r
			s.Ranking = &r
			applied[s.ID] = r
		}
	}
	m.appliedRankings = append(m.appliedRankings, applied)
	return nil
}

func (m *MockStore) SaveScoreEvaluation(_ context.Context, resp *models.AiJdResumeMatchingResponse) error {
	if err := m.fail("SaveScoreEvaluation"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	m.evaluations = append(m.evaluations, resp)
	return nil
}

func (m *MockStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, missing("job", id)
}

func (m *MockStore) GetCandidate(_ context.Context, id string) (*models.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.candidates[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, missing("candidate", id)
}

func (m *MockStore) GetOrganization(_ context.Context, id string) (*models.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orgs[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, missing("organization", id)
}

func (m *MockStore) ListRequirements(_ context.Context, jobID string) ([]models.JobRequirement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requirements[jobID], nil
}

func (m *MockStore) CreateCandidateWithScore(_ context.Context, c *models.Candidate, jobID string) (*models.JobMatchingResumeScore, error) {
	if err := m.fail("CreateCandidateWithScore"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	cp := *c
	m.candidates[c.ID] = &cp
	if jobID == "" {
		return nil, nil
	}
	s := &models.JobMatchingResumeScore{
		ID:             uuid.NewString(),
		CandidateID:    c.ID,
		JobID:          jobID,
		OrganizationID: c.OrganizationID,
		Stage:          models.StageCandidateOnboard,
	}
	m.scores = append(m.scores, s)
	out := *s
	return &out, nil
}

func (m *MockStore) SetCandidateResumeText(_ context.Context, id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return missing("candidate", id)
	}
	c.ResumeText = text
	return nil
}

func (m *MockStore) SetCandidateEmbedding(_ context.Context, id, embeddingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return missing("candidate", id)
	}
	c.ResumeEmbeddingID = &embeddingID
	return nil
}

func (m *MockStore) SetJobEmbedding(_ context.Context, id, embeddingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return missing("job", id)
	}
	j.JobDescriptionEmbeddingID = &embeddingID
	return nil
}

func (m *MockStore) AssociatedCandidateIDs(_ context.Context, jobID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for _, s := range m.scores {
		if s.JobID == jobID {
			out[s.CandidateID] = true
		}
	}
	for _, s := range m.suggestions {
		if s.JobID == jobID {
			out[s.CandidateID] = true
		}
	}
	return out, nil
}

func (m *MockStore) UpsertSuggestion(_ context.Context, jobID, candidateID string) (*models.SuggestedCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.suggestions {
		if s.JobID == jobID && s.CandidateID == candidateID {
			cp := *s
			return &cp, nil
		}
	}
	s := &models.SuggestedCandidate{ID: uuid.NewString(), JobID: jobID, CandidateID: candidateID, Stage: models.SuggestionDefault}
	m.suggestions = append(m.suggestions, s)
	cp := *s
	return &cp, nil
}

func (m *MockStore) SaveSuggestionEvaluation(_ context.Context, suggestionID string, resp *models.AiJdResumeMatchingResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	for _, s := range m.suggestions {
		if s.ID == suggestionID {
			s.AiJdResumeMatchingResponseID = &resp.ID
			m.suggestionEvals[suggestionID] = resp
			return nil
		}
	}
	return missing("suggestion", suggestionID)
}

func (m *MockStore) FindInterview(_ context.Context, ref storage.InterviewRef) (*models.Interview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, iv := range m.interviews {
		if (ref.ID != "" && iv.ID == ref.ID) ||
			(ref.ID == "" && ref.MeetingRoom != "" && iv.MeetingRoom != nil && *iv.MeetingRoom == ref.MeetingRoom) {
			cp := *iv
			return &cp, nil
		}
	}
	return nil, missing("interview", ref.String())
}

func (m *MockStore) SaveCompletion(_ context.Context, rec storage.CompletionRecord) (*storage.CompletionResult, error) {
	if err := m.fail("SaveCompletion"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res := &storage.CompletionResult{}
	var carried float64
	for _, s := range m.scores {
		if s.CandidateID != rec.CandidateID || s.JobID != rec.JobID || s.IsArchived {
			continue
		}
		if s.Stage == models.StageCompletedInterview && res.Score == nil {
			res.Score = s
			continue
		}
		if s.Stage == models.StageScheduledInterview {
			carried = s.Score
		}
		s.IsArchived = true
		s.Ranking = nil
		res.ArchivedScoreIDs = append(res.ArchivedScoreIDs, s.ID)
	}
	if res.Score == nil {
		res.Score = &models.JobMatchingResumeScore{
			ID:             uuid.NewString(),
			CandidateID:    rec.CandidateID,
			JobID:          rec.JobID,
			OrganizationID: rec.OrgID,
			Score:          carried,
			Stage:          models.StageCompletedInterview,
		}
		m.scores = append(m.scores, res.Score)
	}
	if iv, ok := m.interviews[rec.InterviewID]; ok {
		transcript := rec.Transcript
		iv.Transcript = &transcript
		iv.Status = rec.Status
		iv.Summary = rec.Summary
		iv.Skills = rec.Skills
		iv.Experience = rec.Experience
		iv.JobMatchingResumeScoreID = &res.Score.ID
	}
	res.EvaluationsSaved = len(rec.Evaluations)
	m.completions = append(m.completions, rec)
	return res, nil
}

func (m *MockStore) AppendProctoringVideo(_ context.Context, interviewID, videoURL string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.interviews[interviewID]; !ok {
		return false, missing("interview", interviewID)
	}
	for _, v := range m.videos[interviewID] {
		if v == videoURL {
			return false, nil
		}
	}
	m.videos[interviewID] = append(m.videos[interviewID], videoURL)
	return true, nil
}

func (m *MockStore) MarkNotJoined(_ context.Context, cutoff time.Time) (int64, error) {
	if err := m.fail("MarkNotJoined"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notJoinedCutoff = cutoff
	var n int64
	for _, iv := range m.interviews {
		if iv.Status == models.InterviewScheduled && iv.ScheduledAt != nil && iv.ScheduledAt.Before(cutoff) {
			iv.Status = models.InterviewNotJoined
			n++
		}
	}
	return n, nil
}

func (m *MockStore) GetTracker(_ context.Context, batchID string) (*models.ResumeUploadTracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.trackers[batchID]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, missing("upload tracker", batchID)
}

func (m *MockStore) FindActiveBulkTracker(_ context.Context, jobID string) (*models.ResumeUploadTracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trackers {
		if t.JobID != nil && *t.JobID == jobID && t.UploadType == models.UploadBulk &&
			(t.Status == models.UploadPending || t.Status == models.UploadProcessing) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, missing("active bulk tracker for job", jobID)
}

func (m *MockStore) MutateTracker(_ context.Context, batchID string, fn func(*models.ResumeUploadTracker) error) (*models.ResumeUploadTracker, error) {
	if err := m.fail("MutateTracker"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[batchID]
	if !ok {
		return nil, missing("upload tracker", batchID)
	}
	cp := *t
	if err := fn(&cp); err != nil {
		return nil, err
	}
	*t = cp
	out := cp
	return &out, nil
}

func (m *MockStore) RecentTrackers(_ context.Context, orgID string, limit int) ([]models.ResumeUploadTracker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ResumeUploadTracker
	for _, t := range m.trackers {
		if t.OrganizationID == orgID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MockBlobs 内存对象存储
type MockBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
}

func NewMockBlobs() *MockBlobs {
	return &MockBlobs{objects: map[string][]byte{}}
}

func (b *MockBlobs) put(bucket, key string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[bucket+"/"+key] = data
}

func (b *MockBlobs) object(bucket, key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[bucket+"/"+key]
	return data, ok
}

func (b *MockBlobs) Get(_ context.Context, bucket, key string) ([]byte, error) {
	if b.getErr != nil {
		return nil, b.getErr
	}
	if data, ok := b.object(bucket, key); ok {
		return data, nil
	}
	return nil, missing("object", bucket+"/"+key)
}

func (b *MockBlobs) Put(_ context.Context, bucket, key string, data []byte, _ string) error {
	b.put(bucket, key, data)
	return nil
}

func (b *MockBlobs) PutJSON(_ context.Context, bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.put(bucket, key, data)
	return nil
}

func (b *MockBlobs) SignedURL(_ context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://signed.example/%s/%s?ttl=%d", bucket, key, int(ttl.Seconds())), nil
}

// MockVectors 向量库桩
type MockVectors struct {
	mu sync.Mutex

	similarity func(id1, id2, ns string) (float64, error)
	vectors    map[string][]float32
	matches    []storage.VectorMatch

	similarityCalls int
	upserts         []upsertCall
	queries         []queryCall
}

type upsertCall struct {
	Namespace string
	Vector    storage.Vector
}

type queryCall struct {
	Namespace string
	TopK      int
	Filter    map[string]interface{}
}

func NewMockVectors() *MockVectors {
	return &MockVectors{vectors: map[string][]float32{}}
}

func (v *MockVectors) Upsert(_ context.Context, ns string, vectors []storage.Vector) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, vec := range vectors {
		v.upserts = append(v.upserts, upsertCall{Namespace: ns, Vector: vec})
		v.vectors[vec.ID] = vec.Values
	}
	return nil
}

func (v *MockVectors) Query(_ context.Context, ns string, _ []float32, topK int, filter map[string]interface{}) ([]storage.VectorMatch, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queries = append(v.queries, queryCall{Namespace: ns, TopK: topK, Filter: filter})
	out := v.matches
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (v *MockVectors) Fetch(_ context.Context, _ string, ids []string) (map[string][]float32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := map[string][]float32{}
	for _, id := range ids {
		if vec, ok := v.vectors[id]; ok {
			out[id] = vec
		}
	}
	return out, nil
}

func (v *MockVectors) Similarity(_ context.Context, id1, id2, ns string) (float64, error) {
	v.mu.Lock()
	v.similarityCalls++
	fn := v.similarity
	v.mu.Unlock()
	if fn == nil {
		return 0, storage.ErrNoMatch
	}
	return fn(id1, id2, ns)
}

// MockAI 生成式模型桩，未设置的方法返回固定结果
type MockAI struct {
	mu sync.Mutex

	extractQA         func(attempt int, corrective bool) (string, error)
	summarize         func(reqs []enrichment.Requirement) (*enrichment.InterviewSummary, error)
	evaluateFit       func(resume, job string) (*enrichment.FitEvaluation, error)
	extractContact    func(text string) (*enrichment.Contact, error)
	extractExperience func() ([]enrichment.ExperienceItem, error)

	qaCalls       []bool
	fitCalls      int
	embedTexts    []string
	summaryInputs []string
}

func (a *MockAI) ExtractQA(_ context.Context, _ string, corrective bool) (string, error) {
	a.mu.Lock()
	a.qaCalls = append(a.qaCalls, corrective)
	attempt := len(a.qaCalls)
	a.mu.Unlock()
	if a.extractQA == nil {
		return `[{"question":"Tell me about Go","answer":"I use it daily"}]`, nil
	}
	return a.extractQA(attempt, corrective)
}

func (a *MockAI) Summarize(_ context.Context, transcript string, reqs []enrichment.Requirement) (*enrichment.InterviewSummary, error) {
	a.mu.Lock()
	a.summaryInputs = append(a.summaryInputs, transcript)
	a.mu.Unlock()
	if a.summarize == nil {
		return &enrichment.InterviewSummary{
			OverallImpression: []string{"solid"},
			Skills:            json.RawMessage(`[{"name":"go","rating":8}]`),
			Experience:        json.RawMessage(`[]`),
		}, nil
	}
	return a.summarize(reqs)
}

func (a *MockAI) EvaluateFit(_ context.Context, resume, job string) (*enrichment.FitEvaluation, error) {
	a.mu.Lock()
	a.fitCalls++
	a.mu.Unlock()
	if a.evaluateFit == nil {
		return &enrichment.FitEvaluation{
			RoleFitScore:       78,
			BackgroundAnalysis: json.RawMessage(`{"summary":"backend engineer"}`),
			Recommendation:     json.RawMessage(`{"verdict":"interview"}`),
		}, nil
	}
	return a.evaluateFit(resume, job)
}

func (a *MockAI) ExtractContact(_ context.Context, text string) (*enrichment.Contact, error) {
	if a.extractContact == nil {
		return nil, fmt.Errorf("%w: no contact", enrichment.ErrMalformedResponse)
	}
	return a.extractContact(text)
}

func (a *MockAI) Embed(_ context.Context, text string) ([]float32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.embedTexts = append(a.embedTexts, text)
	return []float32{0.1, 0.2, 0.3}, nil
}

func (a *MockAI) ExtractExperience(_ context.Context, _ []byte, _ string) ([]enrichment.ExperienceItem, error) {
	if a.extractExperience == nil {
		return []enrichment.ExperienceItem{{Name: "Acme", Years: 2, Months: 3}}, nil
	}
	return a.extractExperience()
}

// MockExtractor 原样返回文件内容，failOn 中的文件名报错
type MockExtractor struct {
	failOn map[string]bool
}

func (e *MockExtractor) Extract(_ context.Context, data []byte, filename, _ string) (string, error) {
	if e.failOn[filename] {
		return "", fmt.Errorf("%s: %w", filename, document.ErrUnsupportedFormat)
	}
	return string(data), nil
}

type enqueued struct {
	Type        string
	AggregateID string
	Data        interface{}
}

// MockOutbox 记录写出的后续消息
type MockOutbox struct {
	mu       sync.Mutex
	messages []enqueued
	err      error
}

func (o *MockOutbox) Enqueue(_ context.Context, msgType, aggregateID string, data interface{}) error {
	if o.err != nil {
		return o.err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, enqueued{Type: msgType, AggregateID: aggregateID, Data: data})
	return nil
}

func (o *MockOutbox) ofType(msgType string) []enqueued {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []enqueued
	for _, m := range o.messages {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

// MockLocks 内存锁与完成标记
type MockLocks struct {
	mu    sync.Mutex
	locks map[string]string
	done  map[string]bool
	err   error

	released []string
	ttls     map[string]time.Duration
}

func NewMockLocks() *MockLocks {
	return &MockLocks{locks: map[string]string{}, done: map[string]bool{}, ttls: map[string]time.Duration{}}
}

func (l *MockLocks) AcquireLock(_ context.Context, key string, ttl time.Duration) (string, error) {
	if l.err != nil {
		return "", l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.locks[key]; held {
		return "", nil
	}
	token := uuid.NewString()
	l.locks[key] = token
	l.ttls[key] = ttl
	return token, nil
}

func (l *MockLocks) ReleaseLock(_ context.Context, key, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[key] != token {
		return false, nil
	}
	delete(l.locks, key)
	l.released = append(l.released, key)
	return true, nil
}

func (l *MockLocks) MarkDone(_ context.Context, key string, _ time.Duration) error {
	if l.err != nil {
		return l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done[key] = true
	return nil
}

func (l *MockLocks) IsDone(_ context.Context, key string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done[key], nil
}

// fixture 一套完整的桩依赖
type fixture struct {
	store     *MockStore
	blobs     *MockBlobs
	vectors   *MockVectors
	ai        *MockAI
	extractor *MockExtractor
	outbox    *MockOutbox
	now       time.Time
}

func newFixture() *fixture {
	return &fixture{
		store:     NewMockStore(),
		blobs:     NewMockBlobs(),
		vectors:   NewMockVectors(),
		ai:        &MockAI{},
		extractor: &MockExtractor{},
		outbox:    &MockOutbox{},
		now:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) pipeline(t *testing.T, mutate ...func(*Settings)) *Pipeline {
	t.Helper()
	settings := Settings{
		Retry:            ratelimit.Policy{Attempts: 2},
		TranscriptBucket: "transcripts",
		ResumeBucket:     "resumes",
		SuggestionTopK:   2,
	}
	for _, fn := range mutate {
		fn(&settings)
	}
	p, err := New(Deps{
		Store:     f.store,
		Blobs:     f.blobs,
		Vectors:   f.vectors,
		AI:        f.ai,
		Extractor: f.extractor,
		Outbox:    f.outbox,
	}, settings, zerolog.Nop())
	require.NoError(t, err)
	p.now = func() time.Time { return f.now }
	return p
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }
