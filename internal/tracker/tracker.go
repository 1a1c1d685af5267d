// Package tracker implements the resume upload tracker state machine:
// pending -> processing -> {completed, failed, partially_failed}.
//
// Ingestion counters (processed/successful/failed) and AI counters
// (ai_processed/ai_successful/ai_failed) move independently. All functions mutate
// the tracker in memory; callers persist under a row lock (storage.MySQL.MutateTracker).
package tracker

import (
	"errors"
	"fmt"
	"time"

	"elexis-pipeline/internal/storage/models"
)

// ErrInvalidTransition is returned when the current status does not allow the operation.
var ErrInvalidTransition = errors.New("tracker: invalid transition")

// IsTerminal reports whether status is completed, failed or partially_failed.
func IsTerminal(status string) bool {
	switch status {
	case models.UploadCompleted, models.UploadFailed, models.UploadPartiallyFailed:
		return true
	}
	return false
}

// Counts is a partial counter update; nil fields are left unchanged.
type Counts struct {
	Processed  *int
	Successful *int
	Failed     *int
}

// Int is a helper for building Counts literals.
func Int(v int) *int { return &v }

// Start moves pending -> processing and stamps started_at. Starting an already
// processing tracker is a no-op.
func Start(t *models.ResumeUploadTracker, now time.Time) error {
	switch t.Status {
	case models.UploadProcessing:
		return nil
	case models.UploadPending, "":
		t.Status = models.UploadProcessing
		t.StartedAt = &now
		return nil
	}
	return fmt.Errorf("%w: start from %s", ErrInvalidTransition, t.Status)
}

// UpdateProgress sets ingestion counters. Status is not changed.
func UpdateProgress(t *models.ResumeUploadTracker, c Counts) {
	if c.Processed != nil {
		t.ProcessedFiles = *c.Processed
	}
	if c.Successful != nil {
		t.SuccessfulFiles = *c.Successful
	}
	if c.Failed != nil {
		t.FailedFiles = *c.Failed
	}
	clamp(t)
}

// RecordFile counts one ingested file. Returns false when every file of the
// batch is already counted and the count was dropped.
func RecordFile(t *models.ResumeUploadTracker, success bool) bool {
	if t.TotalFiles > 0 && t.ProcessedFiles >= t.TotalFiles {
		return false
	}
	t.ProcessedFiles++
	if success {
		t.SuccessfulFiles++
	} else {
		t.FailedFiles++
	}
	clamp(t)
	return true
}

// Complete closes the ingestion phase. With failures the batch is partially_failed.
// Without failures and expectAI, the tracker stays processing until the AI phase
// catches up (see RecordAIResult); if it already has, or nothing needs AI, it
// completes now.
func Complete(t *models.ResumeUploadTracker, expectAI bool, now time.Time) error {
	if t.Status != models.UploadProcessing && t.Status != models.UploadPending {
		return fmt.Errorf("%w: complete from %s", ErrInvalidTransition, t.Status)
	}
	if t.Status == models.UploadPending {
		t.StartedAt = &now
		t.Status = models.UploadProcessing
	}

	if t.FailedFiles > 0 {
		finish(t, models.UploadPartiallyFailed, now)
		return nil
	}
	if expectAI && t.SuccessfulFiles > 0 && t.AIProcessedFiles < t.SuccessfulFiles {
		return nil
	}
	if expectAI && t.AIFailedFiles > 0 {
		finish(t, models.UploadPartiallyFailed, now)
		return nil
	}
	finish(t, models.UploadCompleted, now)
	return nil
}

// Fail moves any state to failed.
func Fail(t *models.ResumeUploadTracker, message string, now time.Time) {
	t.ErrorMessage = message
	finish(t, models.UploadFailed, now)
}

// UpdateAIProgress sets AI counters, then finalizes if the AI phase is done.
func UpdateAIProgress(t *models.ResumeUploadTracker, c Counts, now time.Time) {
	if c.Processed != nil {
		t.AIProcessedFiles = *c.Processed
	}
	if c.Successful != nil {
		t.AISuccessfulFiles = *c.Successful
	}
	if c.Failed != nil {
		t.AIFailedFiles = *c.Failed
	}
	clamp(t)
	maybeFinalizeAI(t, now)
}

// RecordAIResult counts one AI evaluation. Returns false when every successful file
// already has an AI result and the count was dropped.
func RecordAIResult(t *models.ResumeUploadTracker, success bool, now time.Time) bool {
	if t.AIProcessedFiles >= t.SuccessfulFiles {
		maybeFinalizeAI(t, now)
		return false
	}
	t.AIProcessedFiles++
	if success {
		t.AISuccessfulFiles++
	} else {
		t.AIFailedFiles++
	}
	maybeFinalizeAI(t, now)
	return true
}

// maybeFinalizeAI finalizes once ingestion is finished and every successful file
// has an AI result.
func maybeFinalizeAI(t *models.ResumeUploadTracker, now time.Time) {
	if t.Status != models.UploadProcessing {
		return
	}
	if t.ProcessedFiles < t.TotalFiles || t.AIProcessedFiles < t.SuccessfulFiles {
		return
	}
	if t.AIFailedFiles == 0 {
		finish(t, models.UploadCompleted, now)
	} else {
		finish(t, models.UploadPartiallyFailed, now)
	}
}

func finish(t *models.ResumeUploadTracker, status string, now time.Time) {
	t.Status = status
	t.CompletedAt = &now
}

// clamp keeps processed <= total, successful + failed <= processed and
// ai_processed <= successful.
func clamp(t *models.ResumeUploadTracker) {
	if t.TotalFiles > 0 && t.ProcessedFiles > t.TotalFiles {
		t.ProcessedFiles = t.TotalFiles
	}
	if t.SuccessfulFiles > t.ProcessedFiles {
		t.SuccessfulFiles = t.ProcessedFiles
	}
	if t.FailedFiles > t.ProcessedFiles-t.SuccessfulFiles {
		t.FailedFiles = t.ProcessedFiles - t.SuccessfulFiles
	}
	if t.AIProcessedFiles > t.SuccessfulFiles {
		t.AIProcessedFiles = t.SuccessfulFiles
	}
	if t.AISuccessfulFiles > t.AIProcessedFiles {
		t.AISuccessfulFiles = t.AIProcessedFiles
	}
	if t.AIFailedFiles > t.AIProcessedFiles-t.AISuccessfulFiles {
		t.AIFailedFiles = t.AIProcessedFiles - t.AISuccessfulFiles
	}
}
