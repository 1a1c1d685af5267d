package pipeline

import (
	"context"
	"errors"
	"testing"

	"elexis-pipeline/internal/constants"
	"elexis-pipeline/internal/storage"
	"elexis-pipeline/internal/storage/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scoredFixture() *fixture {
	f := newFixture()
	f.store.addOrg(models.Organization{ID: "org-1", OrgName: "acme"})
	f.store.addJob(models.Job{ID: "job-1", OrganizationID: "org-1", Name: "Backend", JobDescriptionEmbeddingID: strPtr("job-job-1")})
	f.store.addCandidate(models.Candidate{ID: "cand-1", OrganizationID: "org-1", ResumeEmbeddingID: strPtr("resume-cand-1")})
	f.store.addScore(models.JobMatchingResumeScore{ID: "score-1", CandidateID: "cand-1", JobID: "job-1", OrganizationID: "org-1"})
	return f
}

func TestComputeScore(t *testing.T) {
	t.Run("stores similarity and asks for ranking", func(t *testing.T) {
		f := scoredFixture()
		f.vectors.similarity = func(id1, id2, ns string) (float64, error) {
			assert.Equal(t, "job-job-1", id1)
			assert.Equal(t, "resume-cand-1", id2)
			assert.Equal(t, "acme_org-1", ns)
			return 0.82, nil
		}
		p := f.pipeline(t)

		require.NoError(t, p.ComputeScore(context.Background(), "score-1"))
		assert.InDelta(t, 0.82, f.store.score("score-1").Score, 1e-9)

		ranks := f.outbox.ofType(constants.MsgRankResumes)
		require.Len(t, ranks, 1)
		assert.Equal(t, RankMessage{JobID: "job-1"}, ranks[0].Data)
	})

	t.Run("missing embedding is not ready", func(t *testing.T) {
		f := scoredFixture()
		f.store.candidates["cand-1"].ResumeEmbeddingID = nil
		p := f.pipeline(t)

		err := p.ComputeScore(context.Background(), "score-1")
		assert.True(t, IsNotReady(err))
		assert.Zero(t, f.vectors.similarityCalls)
		assert.Zero(t, f.store.score("score-1").Score)
		assert.Empty(t, f.outbox.messages)

		assert.True(t, IsNotReady(p.Handle(context.Background(), ScoreMessage{ScoreID: "score-1"})))
	})

	t.Run("no match is raised without retry", func(t *testing.T) {
		f := scoredFixture()
		p := f.pipeline(t)

		err := p.ComputeScore(context.Background(), "score-1")
		assert.ErrorIs(t, err, storage.ErrNoMatch)
		assert.Equal(t, 1, f.vectors.similarityCalls)
		assert.Empty(t, f.outbox.messages)
	})

	t.Run("transient similarity errors are retried", func(t *testing.T) {
		f := scoredFixture()
		calls := 0
		f.vectors.similarity = func(string, string, string) (float64, error) {
			calls++
			if calls == 1 {
				return 0, errors.New("connection reset")
			}
			return 0.5, nil
		}
		p := f.pipeline(t)

		require.NoError(t, p.ComputeScore(context.Background(), "score-1"))
		assert.Equal(t, 2, calls)
		assert.InDelta(t, 0.5, f.store.score("score-1").Score, 1e-9)
	})

	t.Run("archived record is scored but not ranked", func(t *testing.T) {
		f := scoredFixture()
		f.store.scores[0].IsArchived = true
		f.vectors.similarity = func(string, string, string) (float64, error) { return 0.3, nil }
		p := f.pipeline(t)

		require.NoError(t, p.ComputeScore(context.Background(), "score-1"))
		assert.Empty(t, f.outbox.ofType(constants.MsgRankResumes))
	})

	t.Run("unknown score", func(t *testing.T) {
		p := newFixture().pipeline(t)
		var se *StepError
		err := p.ComputeScore(context.Background(), "nope")
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "load score", se.Op)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
