package pipeline

import (
	"context"
	"fmt"

	"elexis-pipeline/internal/constants"
	"elexis-pipeline/internal/storage"
)

// 向量 payload 中区分简历与岗位
const (
	kindResume = "resume"
	kindJob    = "job"
)

// GenerateEmbedding embeds a candidate's resume or a job description into the
// organization's namespace, records the embedding id and asks for every active
// score record of that candidate or job to be recomputed.
func (p *Pipeline) GenerateEmbedding(ctx context.Context, m EmbeddingMessage) error {
	if err := p.requireVectors(); err != nil {
		return err
	}
	if m.CandidateID != "" {
		return p.embedCandidate(ctx, m)
	}
	return p.embedJob(ctx, m)
}

func (p *Pipeline) embedCandidate(ctx context.Context, m EmbeddingMessage) error {
	cand, err := p.store.GetCandidate(ctx, m.CandidateID)
	if err != nil {
		return stepError("load candidate", m.CandidateID, err)
	}
	text, err := p.resumeText(ctx, cand)
	if err != nil {
		return err
	}
	ns, err := p.resolveNamespace(ctx, m.Namespace, cand.OrganizationID)
	if err != nil {
		return err
	}

	id := constants.EmbeddingID(constants.ResumeEmbeddingPrefix, cand.ID)
	err = p.upsertEmbedding(ctx, ns, id, text, map[string]interface{}{
		"kind":            kindResume,
		"resume_id":       id,
		"candidate_id":    cand.ID,
		"organization_id": cand.OrganizationID,
	})
	if err != nil {
		return err
	}
	if err := p.store.SetCandidateEmbedding(ctx, cand.ID, id); err != nil {
		return stepError("save resume embedding id", cand.ID, err)
	}

	scores, err := p.store.ListActiveScoresByCandidate(ctx, cand.ID)
	if err != nil {
		return stepError("list candidate scores", cand.ID, err)
	}
	for _, s := range scores {
		if err := p.enqueue(ctx, s.ID, ScoreMessage{ScoreID: s.ID}); err != nil {
			return err
		}
	}
	p.logger.Info().Str("candidate_id", cand.ID).Str("namespace", ns).Int("scores", len(scores)).Msg("resume embedded")
	return nil
}

func (p *Pipeline) embedJob(ctx context.Context, m EmbeddingMessage) error {
	job, err := p.store.GetJob(ctx, m.JobID)
	if err != nil {
		return stepError("load job", m.JobID, err)
	}
	text, err := p.jobText(ctx, job)
	if err != nil {
		return stepError("load job text", job.ID, err)
	}
	ns, err := p.resolveNamespace(ctx, m.Namespace, job.OrganizationID)
	if err != nil {
		return err
	}

	id := constants.EmbeddingID(constants.JobEmbeddingPrefix, job.ID)
	err = p.upsertEmbedding(ctx, ns, id, text, map[string]interface{}{
		"kind":            kindJob,
		"job_id":          job.ID,
		"organization_id": job.OrganizationID,
	})
	if err != nil {
		return err
	}
	if err := p.store.SetJobEmbedding(ctx, job.ID, id); err != nil {
		return stepError("save job embedding id", job.ID, err)
	}

	scores, err := p.store.ListActiveScores(ctx, job.ID)
	if err != nil {
		return stepError("list job scores", job.ID, err)
	}
	for _, s := range scores {
		if err := p.enqueue(ctx, s.ID, ScoreMessage{ScoreID: s.ID}); err != nil {
			return err
		}
	}
	p.logger.Info().Str("job_id", job.ID).Str("namespace", ns).Int("scores", len(scores)).Msg("job embedded")
	return nil
}

func (p *Pipeline) upsertEmbedding(ctx context.Context, ns, id, text string, meta map[string]interface{}) error {
	var vec []float32
	err := p.retryUnless(ctx, isMalformedResponse, func(ctx context.Context) error {
		var err error
		vec, err = p.ai.Embed(ctx, truncateRunes(text, constants.EmbeddingTextLimit))
		return err
	})
	if err != nil {
		return stepError("embed", id, err)
	}
	err = p.retry(ctx, func(ctx context.Context) error {
		return p.vectors.Upsert(ctx, ns, []storage.Vector{{ID: id, Values: vec, Metadata: meta}})
	})
	if err != nil {
		return stepError("upsert vector", id, err)
	}
	return nil
}

func (p *Pipeline) resolveNamespace(ctx context.Context, given, orgID string) (string, error) {
	if given != "" {
		return given, nil
	}
	ns, err := p.namespace(ctx, orgID)
	if err != nil {
		return "", fmt.Errorf("resolve namespace: %w", err)
	}
	return ns, nil
}
