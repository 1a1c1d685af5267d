package storage

import (
	"context"
	"fmt"

	"elexis-pipeline/internal/storage/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (m *MySQL) GetScore(ctx context.Context, id string) (*models.JobMatchingResumeScore, error) {
	var s models.JobMatchingResumeScore
	if err := m.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "score", id)
	}
	return &s, nil
}

// UpdateScore 只更新分数字段
func (m *MySQL) UpdateScore(ctx context.Context, id string, score float64) error {
	res := m.db.WithContext(ctx).Model(&models.JobMatchingResumeScore{}).
		Where("id = ?", id).
		Update("score", score)
	if res.Error != nil {
		return fmt.Errorf("update score %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		// 分数未变化时 MySQL 也返回 0 行，这里再确认一次记录存在
		if _, err := m.GetScore(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ListActiveScores 岗位下未归档记录，按分数降序，同分按创建时间
func (m *MySQL) ListActiveScores(ctx context.Context, jobID string) ([]models.JobMatchingResumeScore, error) {
	var rows []models.JobMatchingResumeScore
	err := m.db.WithContext(ctx).
		Where("job_id = ? AND is_archived = ?", jobID, false).
		Order("score DESC").Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list active scores for job %s: %w", jobID, err)
	}
	return rows, nil
}

// ListActiveScoresByCandidate 候选人所有未归档记录
func (m *MySQL) ListActiveScoresByCandidate(ctx context.Context, candidateID string) ([]models.JobMatchingResumeScore, error) {
	var rows []models.JobMatchingResumeScore
	err := m.db.WithContext(ctx).
		Where("candidate_id = ? AND is_archived = ?", candidateID, false).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list active scores for candidate %s: %w", candidateID, err)
	}
	return rows, nil
}

// ApplyRankings 在一个事务里写入全部排名，已归档记录不受影响
func (m *MySQL) ApplyRankings(ctx context.Context, jobID string, rankings map[string]int) error {
	if len(rankings) == 0 {
		return nil
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 锁住该岗位的未归档行，避免并发排名交错写入
		var locked []string
		if err := tx.Model(&models.JobMatchingResumeScore{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("job_id = ? AND is_archived = ?", jobID, false).
			Pluck("id", &locked).Error; err != nil {
			return fmt.Errorf("lock scores of job %s: %w", jobID, err)
		}
		for id, rank := range rankings {
			if err := tx.Model(&models.JobMatchingResumeScore{}).
				Where("id = ? AND job_id = ? AND is_archived = ?", id, jobID, false).
				Update("ranking", rank).Error; err != nil {
				return fmt.Errorf("set ranking of %s: %w", id, err)
			}
		}
		return nil
	})
}

// SaveScoreEvaluation 保存挂在匹配分记录上的 AI 评估
func (m *MySQL) SaveScoreEvaluation(ctx context.Context, resp *models.AiJdResumeMatchingResponse) error {
	if resp.ID == "" {
		resp.ID = newID()
	}
	return m.db.WithContext(ctx).Create(resp).Error
}
