package pipeline

import (
	"context"
	"errors"

	"elexis-pipeline/internal/document"
	"elexis-pipeline/internal/enrichment"
	"elexis-pipeline/internal/storage/models"
	"elexis-pipeline/internal/tracker"
)

// EvaluateScore runs the AI fit evaluation for a score record and stores the
// result. Failures that another delivery cannot fix (a malformed model reply,
// a missing record, an unreadable resume) count as an AI failure on the owning
// bulk tracker right away. Other failures are returned for redelivery, except
// on the last delivery before the message is parked, where they are counted
// too so the batch can still finish.
func (p *Pipeline) EvaluateScore(ctx context.Context, m AIEvaluationMessage) error {
	score, err := p.store.GetScore(ctx, m.ScoreID)
	if err != nil {
		err = stepError("load score", m.ScoreID, err)
		if m.BatchJobID != "" && p.countAsAIFailure(ctx, err) {
			p.logger.Warn().Err(err).Str("score_id", m.ScoreID).Msg("fit evaluation abandoned, counting as AI failure")
			p.recordAIResult(ctx, m.BatchJobID, "", false)
			return nil
		}
		return err
	}

	err = p.evaluateAndSave(ctx, score)
	if err != nil {
		if !p.countAsAIFailure(ctx, err) {
			return err
		}
		p.logger.Warn().Err(err).Str("score_id", m.ScoreID).Bool("final_attempt", IsFinalAttempt(ctx)).
			Msg("fit evaluation abandoned, counting as AI failure")
	}

	p.recordAIResult(ctx, m.BatchJobID, score.JobID, err == nil)
	return nil
}

func (p *Pipeline) evaluateAndSave(ctx context.Context, score *models.JobMatchingResumeScore) error {
	job, err := p.store.GetJob(ctx, score.JobID)
	if err != nil {
		return stepError("load job", score.JobID, err)
	}
	cand, err := p.store.GetCandidate(ctx, score.CandidateID)
	if err != nil {
		return stepError("load candidate", score.CandidateID, err)
	}
	fit, err := p.evaluateFit(ctx, cand, job)
	if err != nil {
		return err
	}
	resp := fitResponse(fit, cand.ID, job.ID)
	resp.JobMatchingResumeScoreID = &score.ID
	if err := p.store.SaveScoreEvaluation(ctx, resp); err != nil {
		return stepError("save evaluation", score.ID, err)
	}
	p.logger.Info().Str("score_id", score.ID).Float64("role_fit_score", fit.RoleFitScore).Msg("fit evaluation saved")
	return nil
}

// countAsAIFailure 重投也无法成功的错误，或已是最后一次投递
func (p *Pipeline) countAsAIFailure(ctx context.Context, err error) bool {
	if IsFinalAttempt(ctx) {
		return true
	}
	return isMalformedResponse(err) ||
		isNotFound(err) ||
		errors.Is(err, document.ErrUnsupportedFormat) ||
		errors.Is(err, document.ErrEmptyText)
}

func (p *Pipeline) evaluateFit(ctx context.Context, cand *models.Candidate, job *models.Job) (*enrichment.FitEvaluation, error) {
	resume, err := p.resumeText(ctx, cand)
	if err != nil {
		return nil, err
	}
	jobText, err := p.jobText(ctx, job)
	if err != nil {
		return nil, stepError("load job text", job.ID, err)
	}
	var fit *enrichment.FitEvaluation
	err = p.retryUnless(ctx, isMalformedResponse, func(ctx context.Context) error {
		var err error
		fit, err = p.ai.EvaluateFit(ctx, resume, jobText)
		return err
	})
	if err != nil {
		return nil, stepError("evaluate fit", cand.ID+"/"+job.ID, err)
	}
	return fit, nil
}

// recordAIResult 更新所属批次的 AI 计数。消息带 batch_job_id 时直接定位，
// 否则按岗位查找最近一个进行中的 bulk 批次。
func (p *Pipeline) recordAIResult(ctx context.Context, batchID, jobID string, success bool) {
	if batchID == "" {
		t, err := p.store.FindActiveBulkTracker(ctx, jobID)
		if err != nil {
			if !isNotFound(err) {
				p.logger.Warn().Err(err).Str("job_id", jobID).Msg("lookup bulk tracker failed")
			}
			return
		}
		batchID = t.BatchJobID
	}

	applied := false
	t, err := p.store.MutateTracker(ctx, batchID, func(t *models.ResumeUploadTracker) error {
		applied = tracker.RecordAIResult(t, success, p.now())
		return nil
	})
	if err != nil {
		p.logger.Error().Err(err).Str("batch_job_id", batchID).Msg("update AI progress failed")
		return
	}
	ev := p.logger.Info()
	if !applied {
		ev = p.logger.Warn()
	}
	ev.Str("batch_job_id", batchID).Bool("success", success).Bool("counted", applied).
		Int("ai_processed", t.AIProcessedFiles).Int("successful", t.SuccessfulFiles).
		Str("status", t.Status).Msg("AI progress recorded")
}

// fitResponse 把评估结果转换为待保存的行
func fitResponse(fit *enrichment.FitEvaluation, candidateID, jobID string) *models.AiJdResumeMatchingResponse {
	return &models.AiJdResumeMatchingResponse{
		CandidateID:         candidateID,
		JobID:               jobID,
		RoleFitScore:        fit.RoleFitScore,
		BackgroundAnalysis:  nullJSON(fit.BackgroundAnalysis),
		RoleFitAnalysis:     nullJSON(fit.RoleFitAnalysis),
		GapsAndImprovements: nullJSON(fit.GapsAndImprovements),
		HiringSignals:       nullJSON(fit.HiringSignals),
		Recommendation:      nullJSON(fit.Recommendation),
		DirectComparison:    nullJSON(fit.DirectComparison),
	}
}
