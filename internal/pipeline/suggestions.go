package pipeline

import (
	"context"
	"errors"
	"fmt"

	"elexis-pipeline/internal/storage/models"
)

// Suggest evaluates one candidate for a job when CandidateID is set. Otherwise it
// finds the resumes nearest to the job description that are not yet scored or
// suggested for the job, records them as suggestions and evaluates each.
func (p *Pipeline) Suggest(ctx context.Context, m SuggestionMessage) error {
	job, err := p.store.GetJob(ctx, m.JobID)
	if err != nil {
		return stepError("load job", m.JobID, err)
	}
	if m.CandidateID != "" {
		cand, err := p.store.GetCandidate(ctx, m.CandidateID)
		if err != nil {
			return stepError("load candidate", m.CandidateID, err)
		}
		return p.evaluateSuggestion(ctx, job, cand, true)
	}
	return p.findMoreCandidates(ctx, job)
}

func (p *Pipeline) findMoreCandidates(ctx context.Context, job *models.Job) error {
	jobVecID := derefString(job.JobDescriptionEmbeddingID)
	if jobVecID == "" {
		return fmt.Errorf("job %s has no embedding: %w", job.ID, ErrNotReady)
	}
	if err := p.requireVectors(); err != nil {
		return err
	}
	ns, err := p.namespace(ctx, job.OrganizationID)
	if err != nil {
		return stepError("load organization", job.OrganizationID, err)
	}

	vecs, err := p.vectors.Fetch(ctx, ns, []string{jobVecID})
	if err != nil {
		return stepError("fetch job vector", jobVecID, err)
	}
	vec, ok := vecs[jobVecID]
	if !ok || len(vec) == 0 {
		return fmt.Errorf("job vector %s missing from %s: %w", jobVecID, ns, ErrNotReady)
	}

	known, err := p.store.AssociatedCandidateIDs(ctx, job.ID)
	if err != nil {
		return stepError("load associated candidates", job.ID, err)
	}
	topK := p.settings.SuggestionTopK
	// 已关联的候选人会被过滤，多取一些
	matches, err := p.vectors.Query(ctx, ns, vec, topK+len(known), map[string]interface{}{"kind": kindResume})
	if err != nil {
		return stepError("query resumes", job.ID, err)
	}

	var errs []error
	picked := 0
	for _, match := range matches {
		if picked >= topK {
			break
		}
		candID, _ := match.Metadata["candidate_id"].(string)
		if candID == "" || known[candID] {
			continue
		}
		known[candID] = true
		cand, err := p.store.GetCandidate(ctx, candID)
		if err != nil {
			if !isNotFound(err) {
				errs = append(errs, err)
			}
			continue
		}
		picked++
		if err := p.evaluateSuggestion(ctx, job, cand, false); err != nil {
			errs = append(errs, err)
		}
	}
	p.logger.Info().Str("job_id", job.ID).Int("matches", len(matches)).Int("suggested", picked).
		Int("failed", len(errs)).Msg("candidate suggestions generated")
	return errors.Join(errs...)
}

// evaluateSuggestion 已有评估的推荐只有 force 时重新评估
func (p *Pipeline) evaluateSuggestion(ctx context.Context, job *models.Job, cand *models.Candidate, force bool) error {
	s, err := p.store.UpsertSuggestion(ctx, job.ID, cand.ID)
	if err != nil {
		return stepError("upsert suggestion", job.ID+"/"+cand.ID, err)
	}
	if s.AiJdResumeMatchingResponseID != nil && !force {
		return nil
	}
	fit, err := p.evaluateFit(ctx, cand, job)
	if err != nil {
		if isMalformedResponse(err) {
			p.logger.Warn().Err(err).Str("suggestion_id", s.ID).Msg("suggestion evaluation unusable")
			return nil
		}
		return err
	}
	if err := p.store.SaveSuggestionEvaluation(ctx, s.ID, fitResponse(fit, cand.ID, job.ID)); err != nil {
		return stepError("save suggestion evaluation", s.ID, err)
	}
	return nil
}
