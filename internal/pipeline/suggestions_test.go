package pipeline

import (
	"context"
	"testing"

	"elexis-pipeline/internal/storage"
	"elexis-pipeline/internal/storage/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func suggestionFixture() *fixture {
	f := newFixture()
	f.store.addOrg(models.Organization{ID: "org-1", OrgName: "acme"})
	f.store.addJob(models.Job{ID: "job-1", OrganizationID: "org-1", Name: "Backend", JobDescriptionEmbeddingID: strPtr("job-job-1")})
	for _, id := range []string{"cand-1", "cand-2", "cand-3", "cand-4"} {
		f.store.addCandidate(models.Candidate{ID: id, OrganizationID: "org-1", ResumeText: "resume of " + id})
	}
	// cand-1 已有匹配分
	f.store.addScore(models.JobMatchingResumeScore{ID: "score-1", CandidateID: "cand-1", JobID: "job-1"})
	f.vectors.vectors["job-job-1"] = []float32{1, 0, 0}
	f.vectors.matches = []storage.VectorMatch{
		{ID: "resume-cand-1", Score: 0.95, Metadata: map[string]interface{}{"candidate_id": "cand-1"}},
		{ID: "resume-cand-2", Score: 0.9, Metadata: map[string]interface{}{"candidate_id": "cand-2"}},
		{ID: "resume-gone", Score: 0.85, Metadata: map[string]interface{}{"candidate_id": "gone"}},
		{ID: "resume-cand-3", Score: 0.8, Metadata: map[string]interface{}{"candidate_id": "cand-3"}},
		{ID: "resume-cand-4", Score: 0.7, Metadata: map[string]interface{}{"candidate_id": "cand-4"}},
	}
	return f
}

func TestSuggest_FindMoreCandidates(t *testing.T) {
	f := suggestionFixture()
	p := f.pipeline(t)

	require.NoError(t, p.Suggest(context.Background(), SuggestionMessage{JobID: "job-1"}))

	require.Len(t, f.vectors.queries, 1)
	q := f.vectors.queries[0]
	assert.Equal(t, "acme_org-1", q.Namespace)
	assert.Equal(t, 3, q.TopK)
	assert.Equal(t, kindResume, q.Filter["kind"])

	var suggested []string
	for _, s := range f.store.suggestions {
		suggested = append(suggested, s.CandidateID)
		assert.NotNil(t, s.AiJdResumeMatchingResponseID)
	}
	// 前三个结果里 cand-1 已关联，gone 不存在
	assert.Equal(t, []string{"cand-2"}, suggested)
	assert.Equal(t, 1, f.ai.fitCalls)

	t.Run("second run skips known candidates", func(t *testing.T) {
		require.NoError(t, p.Suggest(context.Background(), SuggestionMessage{JobID: "job-1"}))
		assert.Equal(t, 4, f.vectors.queries[1].TopK)
		require.Len(t, f.store.suggestions, 2)
		assert.Equal(t, "cand-3", f.store.suggestions[1].CandidateID)
		assert.Equal(t, 2, f.ai.fitCalls)
	})
}

func TestSuggest_SingleCandidate(t *testing.T) {
	f := suggestionFixture()
	p := f.pipeline(t)
	msg := SuggestionMessage{JobID: "job-1", CandidateID: "cand-2"}

	require.NoError(t, p.Suggest(context.Background(), msg))
	require.Len(t, f.store.suggestions, 1)
	first := *f.store.suggestions[0].AiJdResumeMatchingResponseID

	require.NoError(t, p.Suggest(context.Background(), msg))
	assert.Len(t, f.store.suggestions, 1)
	assert.Equal(t, 2, f.ai.fitCalls, "explicit requests re-evaluate")
	assert.NotEqual(t, first, *f.store.suggestions[0].AiJdResumeMatchingResponseID)
	assert.Empty(t, f.vectors.queries)
}

func TestSuggest_NotReady(t *testing.T) {
	t.Run("job without embedding", func(t *testing.T) {
		f := suggestionFixture()
		f.store.jobs["job-1"].JobDescriptionEmbeddingID = nil
		err := f.pipeline(t).Suggest(context.Background(), SuggestionMessage{JobID: "job-1"})
		assert.True(t, IsNotReady(err))
	})

	t.Run("vector missing from index", func(t *testing.T) {
		f := suggestionFixture()
		delete(f.vectors.vectors, "job-job-1")
		err := f.pipeline(t).Suggest(context.Background(), SuggestionMessage{JobID: "job-1"})
		assert.True(t, IsNotReady(err))
		assert.Empty(t, f.store.suggestions)
	})
}
