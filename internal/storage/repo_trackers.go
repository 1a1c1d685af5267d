package storage

import (
	"context"
	"fmt"

	"elexis-pipeline/internal/storage/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (m *MySQL) GetTracker(ctx context.Context, batchID string) (*models.ResumeUploadTracker, error) {
	var t models.ResumeUploadTracker
	if err := m.db.WithContext(ctx).First(&t, "batch_job_id = ?", batchID).Error; err != nil {
		return nil, notFound(err, "upload tracker", batchID)
	}
	return &t, nil
}

// FindActiveBulkTracker 按岗位找最近一个未结束的 bulk 批次
func (m *MySQL) FindActiveBulkTracker(ctx context.Context, jobID string) (*models.ResumeUploadTracker, error) {
	var t models.ResumeUploadTracker
	err := m.db.WithContext(ctx).
		Where("job_id = ? AND upload_type = ? AND status IN ?", jobID, models.UploadBulk,
			[]string{models.UploadPending, models.UploadProcessing}).
		Order("created_at DESC").
		First(&t).Error
	if err != nil {
		return nil, notFound(err, "active bulk tracker for job", jobID)
	}
	return &t, nil
}

// MutateTracker 行锁内读-改-写，fn 返回错误时回滚
func (m *MySQL) MutateTracker(ctx context.Context, batchID string, fn func(*models.ResumeUploadTracker) error) (*models.ResumeUploadTracker, error) {
	var out models.ResumeUploadTracker
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&out, "batch_job_id = ?", batchID).Error; err != nil {
			return notFound(err, "upload tracker", batchID)
		}
		if err := fn(&out); err != nil {
			return err
		}
		return tx.Save(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("mutate tracker %s: %w", batchID, err)
	}
	return &out, nil
}

// RecentTrackers 组织最近的上传批次
func (m *MySQL) RecentTrackers(ctx context.Context, orgID string, limit int) ([]models.ResumeUploadTracker, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []models.ResumeUploadTracker
	err := m.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("recent trackers of org %s: %w", orgID, err)
	}
	return rows, nil
}
