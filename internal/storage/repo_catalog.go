package storage

import (
	"context"
	"errors"
	"fmt"

	"elexis-pipeline/internal/storage/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (m *MySQL) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var j models.Job
	if err := m.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "job", id)
	}
	return &j, nil
}

func (m *MySQL) GetCandidate(ctx context.Context, id string) (*models.Candidate, error) {
	var c models.Candidate
	if err := m.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "candidate", id)
	}
	return &c, nil
}

func (m *MySQL) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	var o models.Organization
	if err := m.db.WithContext(ctx).First(&o, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "organization", id)
	}
	return &o, nil
}

// ListRequirements 岗位要求，按录入顺序
func (m *MySQL) ListRequirements(ctx context.Context, jobID string) ([]models.JobRequirement, error) {
	var reqs []models.JobRequirement
	err := m.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("position ASC").Order("created_at ASC").
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("list requirements of job %s: %w", jobID, err)
	}
	return reqs, nil
}

// CreateCandidateWithScore 新建候选人；jobID 非空时同一事务内创建 candidate_onboard 匹配分
func (m *MySQL) CreateCandidateWithScore(ctx context.Context, c *models.Candidate, jobID string) (*models.JobMatchingResumeScore, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	var score *models.JobMatchingResumeScore
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("create candidate: %w", err)
		}
		if jobID == "" {
			return nil
		}
		score = &models.JobMatchingResumeScore{
			ID:             newID(),
			CandidateID:    c.ID,
			JobID:          jobID,
			OrganizationID: c.OrganizationID,
			Stage:          models.StageCandidateOnboard,
		}
		if err := tx.Create(score).Error; err != nil {
			return fmt.Errorf("create score: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return score, nil
}

func (m *MySQL) SetCandidateResumeText(ctx context.Context, id, text string) error {
	return m.db.WithContext(ctx).Model(&models.Candidate{}).Where("id = ?", id).Update("resume_text", text).Error
}

// SetCandidateEmbedding 只在首次成功向量化时写入
func (m *MySQL) SetCandidateEmbedding(ctx context.Context, id, embeddingID string) error {
	return m.db.WithContext(ctx).Model(&models.Candidate{}).
		Where("id = ? AND resume_embedding_id IS NULL", id).
		Update("resume_embedding_id", embeddingID).Error
}

func (m *MySQL) SetJobEmbedding(ctx context.Context, id, embeddingID string) error {
	return m.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", id).
		Update("job_description_embedding_id", embeddingID).Error
}

// AssociatedCandidateIDs 已有匹配分或推荐记录的候选人
func (m *MySQL) AssociatedCandidateIDs(ctx context.Context, jobID string) (map[string]bool, error) {
	var scored, suggested []string
	db := m.db.WithContext(ctx)
	if err := db.Model(&models.JobMatchingResumeScore{}).Where("job_id = ?", jobID).Distinct().Pluck("candidate_id", &scored).Error; err != nil {
		return nil, fmt.Errorf("scored candidates of job %s: %w", jobID, err)
	}
	if err := db.Model(&models.SuggestedCandidate{}).Where("job_id = ?", jobID).Pluck("candidate_id", &suggested).Error; err != nil {
		return nil, fmt.Errorf("suggested candidates of job %s: %w", jobID, err)
	}
	out := make(map[string]bool, len(scored)+len(suggested))
	for _, id := range scored {
		out[id] = true
	}
	for _, id := range suggested {
		out[id] = true
	}
	return out, nil
}

// UpsertSuggestion 返回 job+candidate 的推荐记录，不存在时创建
func (m *MySQL) UpsertSuggestion(ctx context.Context, jobID, candidateID string) (*models.SuggestedCandidate, error) {
	db := m.db.WithContext(ctx)
	s := models.SuggestedCandidate{ID: newID(), JobID: jobID, CandidateID: candidateID, Stage: models.SuggestionDefault}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&s).Error; err != nil {
		return nil, fmt.Errorf("create suggestion: %w", err)
	}
	var got models.SuggestedCandidate
	if err := db.First(&got, "job_id = ? AND candidate_id = ?", jobID, candidateID).Error; err != nil {
		return nil, notFound(err, "suggestion", jobID+"/"+candidateID)
	}
	return &got, nil
}

// SaveSuggestionEvaluation 写入评估并挂到推荐记录上
func (m *MySQL) SaveSuggestionEvaluation(ctx context.Context, suggestionID string, resp *models.AiJdResumeMatchingResponse) error {
	if resp.ID == "" {
		resp.ID = newID()
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(resp).Error; err != nil {
			return fmt.Errorf("create evaluation: %w", err)
		}
		res := tx.Model(&models.SuggestedCandidate{}).
			Where("id = ?", suggestionID).
			Update("ai_jd_resume_matching_response_id", resp.ID)
		if res.Error != nil {
			return fmt.Errorf("link evaluation to suggestion %s: %w", suggestionID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("suggestion %s: %w", suggestionID, ErrNotFound)
		}
		return nil
	})
}

// IsNotFound 判断是否为记录不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
