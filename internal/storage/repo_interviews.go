package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"elexis-pipeline/internal/storage/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InterviewRef 面试查找键，ID 优先，其次按会议室
type InterviewRef struct {
	ID          string
	MeetingRoom string
}

func (r InterviewRef) String() string {
	if r.ID != "" {
		return "id=" + r.ID
	}
	return "room=" + r.MeetingRoom
}

// CompletionRecord 面试结束时一次性落库的内容
type CompletionRecord struct {
	InterviewID string
	CandidateID string
	JobID       string
	OrgID       string
	Transcript  string
	Status      string
	Summary     datatypes.JSON
	Skills      datatypes.JSON
	Experience  datatypes.JSON
	Evaluations []models.JobRequirementEvaluation
}

// CompletionResult 事务提交后的结果
type CompletionResult struct {
	Score            *models.JobMatchingResumeScore
	ArchivedScoreIDs []string
	EvaluationsSaved int
}

func (m *MySQL) FindInterview(ctx context.Context, ref InterviewRef) (*models.Interview, error) {
	var iv models.Interview
	q := m.db.WithContext(ctx)
	var err error
	switch {
	case ref.ID != "":
		err = q.First(&iv, "id = ?", ref.ID).Error
	case ref.MeetingRoom != "":
		err = q.Where("meeting_room = ?", ref.MeetingRoom).Order("created_at DESC").First(&iv).Error
	default:
		return nil, fmt.Errorf("empty interview reference: %w", ErrNotFound)
	}
	if err != nil {
		return nil, notFound(err, "interview", ref.String())
	}
	return &iv, nil
}

// SaveCompletion 事务内: 更新面试，归档旧匹配分并新建 completed_interview 记录，重建要求评估
func (m *MySQL) SaveCompletion(ctx context.Context, rec CompletionRecord) (*CompletionResult, error) {
	result := &CompletionResult{}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active []models.JobMatchingResumeScore
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("candidate_id = ? AND job_id = ? AND is_archived = ?", rec.CandidateID, rec.JobID, false).
			Order("created_at DESC").
			Find(&active).Error; err != nil {
			return fmt.Errorf("load active scores: %w", err)
		}

		var carried float64
		var current *models.JobMatchingResumeScore
		var toArchive []string
		for i := range active {
			s := active[i]
			switch {
			case s.Stage == models.StageCompletedInterview && current == nil:
				// 重复投递: 已经有 completed_interview 记录
				current = &active[i]
			case s.Stage == models.StageScheduledInterview:
				carried = s.Score
				toArchive = append(toArchive, s.ID)
			default:
				toArchive = append(toArchive, s.ID)
			}
		}

		if len(toArchive) > 0 {
			if err := tx.Model(&models.JobMatchingResumeScore{}).
				Where("id IN ?", toArchive).
				Updates(map[string]interface{}{"is_archived": true, "ranking": nil}).Error; err != nil {
				return fmt.Errorf("archive scores: %w", err)
			}
			result.ArchivedScoreIDs = toArchive
		}

		if current == nil {
			current = &models.JobMatchingResumeScore{
				ID:             newID(),
				CandidateID:    rec.CandidateID,
				JobID:          rec.JobID,
				OrganizationID: rec.OrgID,
				Score:          carried,
				Stage:          models.StageCompletedInterview,
			}
			if err := tx.Create(current).Error; err != nil {
				return fmt.Errorf("create completed score: %w", err)
			}
		}
		result.Score = current

		updates := map[string]interface{}{
			"transcript":                   rec.Transcript,
			"summary":                      rec.Summary,
			"skills":                       rec.Skills,
			"experience":                   rec.Experience,
			"status":                       rec.Status,
			"job_matching_resume_score_id": current.ID,
		}
		if err := tx.Model(&models.Interview{}).Where("id = ?", rec.InterviewID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update interview: %w", err)
		}

		saved, err := replaceEvaluations(tx, rec)
		if err != nil {
			return err
		}
		result.EvaluationsSaved = saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// replaceEvaluations 删除该面试已有评估后批量插入，不存在的 requirement 直接跳过
func replaceEvaluations(tx *gorm.DB, rec CompletionRecord) (int, error) {
	if err := tx.Where("interview_id = ?", rec.InterviewID).Delete(&models.JobRequirementEvaluation{}).Error; err != nil {
		return 0, fmt.Errorf("clear evaluations: %w", err)
	}
	if len(rec.Evaluations) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(rec.Evaluations))
	for _, e := range rec.Evaluations {
		ids = append(ids, e.JobRequirementID)
	}
	var existing []string
	if err := tx.Model(&models.JobRequirement{}).Where("id IN ? AND job_id = ?", ids, rec.JobID).Pluck("id", &existing).Error; err != nil {
		return 0, fmt.Errorf("load requirement ids: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, id := range existing {
		known[id] = true
	}

	interviewID := rec.InterviewID
	rows := make([]models.JobRequirementEvaluation, 0, len(rec.Evaluations))
	for _, e := range rec.Evaluations {
		if !known[e.JobRequirementID] {
			continue
		}
		e.ID = newID()
		e.CandidateID = rec.CandidateID
		e.InterviewID = &interviewID
		rows = append(rows, e)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := tx.CreateInBatches(rows, 100).Error; err != nil {
		return 0, fmt.Errorf("insert evaluations: %w", err)
	}
	return len(rows), nil
}

// AppendProctoringVideo 追加监考录像地址，已存在时返回 false
func (m *MySQL) AppendProctoringVideo(ctx context.Context, interviewID, videoURL string) (bool, error) {
	added := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var iv models.Interview
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&iv, "id = ?", interviewID).Error; err != nil {
			return notFound(err, "interview", interviewID)
		}
		var videos []string
		if len(iv.ProctoringVideos) > 0 {
			if err := json.Unmarshal(iv.ProctoringVideos, &videos); err != nil {
				videos = nil
			}
		}
		for _, v := range videos {
			if v == videoURL {
				return nil
			}
		}
		videos = append(videos, videoURL)
		added = true
		return tx.Model(&models.Interview{}).Where("id = ?", interviewID).
			Update("proctoring_videos", models.ToJSON(videos)).Error
	})
	return added, err
}

// MarkNotJoined scheduled 且开始时间早于 cutoff 的面试置为 not_joined
func (m *MySQL) MarkNotJoined(ctx context.Context, cutoff time.Time) (int64, error) {
	res := m.db.WithContext(ctx).Model(&models.Interview{}).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at < ?", models.InterviewScheduled, cutoff).
		Update("status", models.InterviewNotJoined)
	if res.Error != nil {
		return 0, fmt.Errorf("mark not_joined: %w", res.Error)
	}
	return res.RowsAffected, nil
}
