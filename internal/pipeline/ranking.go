package pipeline

import (
	"context"
	"sort"

	"elexis-pipeline/internal/storage/models"
)

// Rankings assigns 1..N to the records in descending score order. Equal scores
// keep their input order.
func Rankings(scores []models.JobMatchingResumeScore) map[string]int {
	ordered := make([]models.JobMatchingResumeScore, len(scores))
	copy(ordered, scores)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Score > ordered[j].Score
	})
	out := make(map[string]int, len(ordered))
	for i, s := range ordered {
		out[s.ID] = i + 1
	}
	return out
}

// RankJob recomputes the ranking of every active score record of a job in one
// transaction and returns how many records were ranked.
func (p *Pipeline) RankJob(ctx context.Context, jobID string) (int, error) {
	scores, err := p.store.ListActiveScores(ctx, jobID)
	if err != nil {
		return 0, stepError("list active scores", jobID, err)
	}
	if len(scores) == 0 {
		p.logger.Debug().Str("job_id", jobID).Msg("no active scores to rank")
		return 0, nil
	}

	rankings := Rankings(scores)
	changed := make(map[string]int, len(rankings))
	for _, s := range scores {
		if s.Ranking == nil || *s.Ranking != rankings[s.ID] {
			changed[s.ID] = rankings[s.ID]
		}
	}
	if len(changed) == 0 {
		return len(scores), nil
	}
	if err := p.store.ApplyRankings(ctx, jobID, changed); err != nil {
		return 0, stepError("apply rankings", jobID, err)
	}
	p.logger.Info().Str("job_id", jobID).Int("ranked", len(scores)).Int("changed", len(changed)).Msg("job ranked")
	return len(scores), nil
}
