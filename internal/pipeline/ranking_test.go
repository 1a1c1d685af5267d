package pipeline

import (
	"context"
	"testing"

	"elexis-pipeline/internal/storage/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankings(t *testing.T) {
	scores := []models.JobMatchingResumeScore{
		{ID: "s1", Score: 0.4},
		{ID: "s2", Score: 0.9},
		{ID: "s3", Score: 0.75},
	}
	assert.Equal(t, map[string]int{"s2": 1, "s3": 2, "s1": 3}, Rankings(scores))

	t.Run("ties keep input order", func(t *testing.T) {
		got := Rankings([]models.JobMatchingResumeScore{
			{ID: "a", Score: 0.5}, {ID: "b", Score: 0.5}, {ID: "c", Score: 0.7},
		})
		assert.Equal(t, map[string]int{"c": 1, "a": 2, "b": 3}, got)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Rankings(nil))
	})
}

func TestRankJob(t *testing.T) {
	f := newFixture()
	f.store.addScore(models.JobMatchingResumeScore{ID: "s1", JobID: "job-1", Score: 0.4})
	f.store.addScore(models.JobMatchingResumeScore{ID: "s2", JobID: "job-1", Score: 0.9})
	f.store.addScore(models.JobMatchingResumeScore{ID: "s3", JobID: "job-1", Score: 0.75})
	f.store.addScore(models.JobMatchingResumeScore{ID: "old", JobID: "job-1", Score: 0.99, IsArchived: true})
	f.store.addScore(models.JobMatchingResumeScore{ID: "other", JobID: "job-2", Score: 0.1})
	p := f.pipeline(t)

	n, err := p.RankJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, *f.store.score("s2").Ranking)
	assert.Equal(t, 2, *f.store.score("s3").Ranking)
	assert.Equal(t, 3, *f.store.score("s1").Ranking)
	assert.Nil(t, f.store.score("old").Ranking)
	assert.Nil(t, f.store.score("other").Ranking)

	t.Run("second run changes nothing", func(t *testing.T) {
		n, err := p.RankJob(context.Background(), "job-1")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Len(t, f.store.appliedRankings, 1)
	})

	t.Run("new score shifts only affected ranks", func(t *testing.T) {
		f.store.addScore(models.JobMatchingResumeScore{ID: "s4", JobID: "job-1", Score: 0.8})
		_, err := p.RankJob(context.Background(), "job-1")
		require.NoError(t, err)
		last := f.store.appliedRankings[len(f.store.appliedRankings)-1]
		assert.Equal(t, map[string]int{"s4": 2, "s3": 3, "s1": 4}, last)

		var ranks []int
		for _, s := range f.store.activeScores(func(s *models.JobMatchingResumeScore) bool { return s.JobID == "job-1" }) {
			ranks = append(ranks, *s.Ranking)
		}
		assert.ElementsMatch(t, []int{1, 2, 3, 4}, ranks)
	})

	t.Run("job without scores", func(t *testing.T) {
		n, err := p.RankJob(context.Background(), "job-empty")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
