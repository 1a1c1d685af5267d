package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"math"

	"elexis-pipeline/internal/enrichment"
	"elexis-pipeline/internal/storage"
	"elexis-pipeline/internal/storage/models"

	"gorm.io/datatypes"
)

// CompleteInterview processes a finished interview: the transcript is normalized
// and stored next to the original as <key>.json, summarized against the job's
// requirements, and saved together with the experience extracted from the resume,
// a completed_interview score record and one evaluation per rated requirement.
func (p *Pipeline) CompleteInterview(ctx context.Context, m CompletionMessage) error {
	ref, err := storage.ParseBlobRef(m.TranscriptURL, p.settings.TranscriptBucket)
	if err != nil {
		return malformed("transcript url: %v", err)
	}
	if err := p.requireBlobs(); err != nil {
		return err
	}
	log := p.logger.With().Str("transcript", ref.String()).Str("ref", m.Ref()).Logger()

	iv, err := p.store.FindInterview(ctx, storage.InterviewRef{ID: m.InterviewID, MeetingRoom: m.RoomURL})
	if err != nil {
		return stepError("find interview", m.Ref(), err)
	}

	var raw []byte
	err = p.retry(ctx, func(ctx context.Context) error {
		var err error
		raw, err = p.blobs.Get(ctx, ref.Bucket, ref.Key)
		return err
	})
	if err != nil {
		return stepError("get transcript", ref.String(), err)
	}

	pairs := p.normalizer.Normalize(ctx, string(raw))
	if len(pairs) == 0 {
		log.Warn().Str("interview_id", iv.ID).Msg("transcript could not be normalized, skipping")
		return nil
	}
	sibling := ref.Sibling(".json")
	err = p.retry(ctx, func(ctx context.Context) error {
		return p.blobs.PutJSON(ctx, sibling.Bucket, sibling.Key, pairs)
	})
	if err != nil {
		return stepError("put normalized transcript", sibling.String(), err)
	}

	reqs, err := p.store.ListRequirements(ctx, iv.JobID)
	if err != nil {
		return stepError("list requirements", iv.JobID, err)
	}
	var summary *enrichment.InterviewSummary
	err = p.retry(ctx, func(ctx context.Context) error {
		var err error
		summary, err = p.ai.Summarize(ctx, string(raw), toEnrichmentRequirements(reqs))
		return err
	})
	if err != nil {
		return stepError("summarize interview", iv.ID, err)
	}

	experience, err := p.candidateExperience(ctx, iv.CandidateID)
	if err != nil {
		if !p.settings.ExperienceBestEffort {
			return stepError("extract experience", iv.CandidateID, err)
		}
		log.Warn().Err(err).Str("candidate_id", iv.CandidateID).Msg("experience extraction failed, using summary experience")
	}
	experienceJSON := datatypes.JSON(summary.Experience)
	if len(experience) > 0 {
		experienceJSON = models.ToJSON(experience)
	}

	transcript := m.TranscriptURL
	iv.Transcript = &transcript
	rec := storage.CompletionRecord{
		InterviewID: iv.ID,
		CandidateID: iv.CandidateID,
		JobID:       iv.JobID,
		OrgID:       iv.OrganizationID,
		Transcript:  transcript,
		Status:      InferStatus(iv),
		Summary:     models.ToJSON(summary.SummaryJSON()),
		Skills:      nullJSON(summary.Skills),
		Experience:  nullJSON(experienceJSON),
		Evaluations: requirementEvaluations(summary.RequirementsEvaluation),
	}
	res, err := p.store.SaveCompletion(ctx, rec)
	if err != nil {
		return stepError("save completion", iv.ID, err)
	}
	log.Info().Str("interview_id", iv.ID).Str("status", rec.Status).
		Str("score_id", res.Score.ID).Int("archived", len(res.ArchivedScoreIDs)).
		Int("evaluations", res.EvaluationsSaved).Msg("interview completed")

	return p.enqueue(ctx, iv.JobID, RankMessage{JobID: iv.JobID})
}

// candidateExperience 从简历原件抽取工作经历
func (p *Pipeline) candidateExperience(ctx context.Context, candidateID string) ([]enrichment.ExperienceItem, error) {
	cand, err := p.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	doc, err := p.loadResume(ctx, cand)
	if err != nil {
		return nil, err
	}
	var items []enrichment.ExperienceItem
	err = p.retry(ctx, func(ctx context.Context) error {
		var err error
		items, err = p.ai.ExtractExperience(ctx, doc, cand.ResumeContentType)
		return err
	})
	return items, err
}

func toEnrichmentRequirements(reqs []models.JobRequirement) []enrichment.Requirement {
	out := make([]enrichment.Requirement, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, enrichment.Requirement{ID: r.ID, Requirement: r.Requirement, Weightage: r.Weightage})
	}
	return out
}

// requirementEvaluations 评分四舍五入并限制在 1-100
func requirementEvaluations(ratings []enrichment.RequirementRating) []models.JobRequirementEvaluation {
	out := make([]models.JobRequirementEvaluation, 0, len(ratings))
	for _, r := range ratings {
		if r.ID == "" {
			continue
		}
		rating := int(math.Round(r.Evaluation))
		if rating < 1 {
			rating = 1
		}
		if rating > 100 {
			rating = 100
		}
		out = append(out, models.JobRequirementEvaluation{
			JobRequirementID: r.ID,
			Rating:           rating,
			Remarks:          r.Remarks,
		})
	}
	return out
}

func nullJSON(v []byte) datatypes.JSON {
	if len(v) == 0 || !json.Valid(v) {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(v)
}

func isMalformedResponse(err error) bool {
	return errors.Is(err, enrichment.ErrMalformedResponse)
}
