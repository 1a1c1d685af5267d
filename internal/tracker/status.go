package tracker

import (
	"encoding/json"
	"math"
	"time"

	"elexis-pipeline/internal/storage/models"
)

type PhaseProgress struct {
	Total      int     `json:"total,omitempty"`
	Processed  int     `json:"processed"`
	Successful int     `json:"successful"`
	Failed     int     `json:"failed"`
	Percentage float64 `json:"percentage"`
}

// Status is the externally visible view of a tracker.
type Status struct {
	BatchJobID        string          `json:"batch_job_id"`
	Status            string          `json:"status"`
	UploadType        string          `json:"upload_type"`
	JobID             *string         `json:"job_id,omitempty"`
	Progress          PhaseProgress   `json:"progress"`
	AIProgress        PhaseProgress   `json:"ai_progress"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	ProcessingDetails json.RawMessage `json:"processing_details,omitempty"`
}

func Describe(t *models.ResumeUploadTracker) Status {
	s := Status{
		BatchJobID: t.BatchJobID,
		Status:     t.Status,
		UploadType: t.UploadType,
		JobID:      t.JobID,
		Progress: PhaseProgress{
			Total:      t.TotalFiles,
			Processed:  t.ProcessedFiles,
			Successful: t.SuccessfulFiles,
			Failed:     t.FailedFiles,
			Percentage: percent(t.ProcessedFiles, t.TotalFiles),
		},
		AIProgress: PhaseProgress{
			Processed:  t.AIProcessedFiles,
			Successful: t.AISuccessfulFiles,
			Failed:     t.AIFailedFiles,
			Percentage: percent(t.AIProcessedFiles, t.SuccessfulFiles),
		},
		ErrorMessage: t.ErrorMessage,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		CreatedAt:    t.CreatedAt,
	}
	if len(t.ProcessingDetails) > 0 {
		s.ProcessingDetails = json.RawMessage(t.ProcessingDetails)
	}
	return s
}

func percent(n, of int) float64 {
	if of <= 0 {
		return 0
	}
	return math.Round(float64(n)/float64(of)*10000) / 100
}
