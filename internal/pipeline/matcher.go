package pipeline

import (
	"context"
	"errors"
	"fmt"

	"elexis-pipeline/internal/storage"
)

// ComputeScore sets a score record's score to the vector similarity of its job
// description and its candidate's resume, then asks for the job to be re-ranked.
// Missing embeddings return ErrNotReady; a similarity query without a match
// returns storage.ErrNoMatch.
func (p *Pipeline) ComputeScore(ctx context.Context, scoreID string) error {
	score, err := p.store.GetScore(ctx, scoreID)
	if err != nil {
		return stepError("load score", scoreID, err)
	}
	job, err := p.store.GetJob(ctx, score.JobID)
	if err != nil {
		return stepError("load job", score.JobID, err)
	}
	cand, err := p.store.GetCandidate(ctx, score.CandidateID)
	if err != nil {
		return stepError("load candidate", score.CandidateID, err)
	}

	jobVec, resumeVec := derefString(job.JobDescriptionEmbeddingID), derefString(cand.ResumeEmbeddingID)
	if jobVec == "" || resumeVec == "" {
		p.logger.Info().Str("score_id", scoreID).
			Bool("job_embedding", jobVec != "").Bool("resume_embedding", resumeVec != "").
			Msg("embeddings not ready, skipping score")
		return fmt.Errorf("score %s: %w", scoreID, ErrNotReady)
	}
	if err := p.requireVectors(); err != nil {
		return err
	}

	orgID := score.OrganizationID
	if orgID == "" {
		orgID = job.OrganizationID
	}
	ns, err := p.namespace(ctx, orgID)
	if err != nil {
		return stepError("load organization", orgID, err)
	}

	var sim float64
	err = p.retryUnless(ctx, isNotFound, func(ctx context.Context) error {
		var err error
		sim, err = p.vectors.Similarity(ctx, jobVec, resumeVec, ns)
		return err
	})
	if err != nil {
		return stepError("similarity", jobVec+"~"+resumeVec, err)
	}

	if err := p.store.UpdateScore(ctx, scoreID, sim); err != nil {
		return stepError("update score", scoreID, err)
	}
	p.logger.Info().Str("score_id", scoreID).Float64("score", sim).Msg("score updated")

	if score.IsArchived {
		return nil
	}
	return p.enqueue(ctx, score.JobID, RankMessage{JobID: score.JobID})
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
