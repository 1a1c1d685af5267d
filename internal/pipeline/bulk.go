package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"elexis-pipeline/internal/constants"
	"elexis-pipeline/internal/enrichment"
	"elexis-pipeline/internal/storage/models"
	"elexis-pipeline/internal/tracker"
)

// BulkFile is one entry of processing_details.files. On the wire an entry is
// either an object or a bare object key. An object with only a filename points
// at the batch's upload prefix.
type BulkFile struct {
	Bucket      string `mapstructure:"bucket" json:"bucket,omitempty"`
	Key         string `mapstructure:"key" json:"key"`
	Filename    string `mapstructure:"filename" json:"filename,omitempty"`
	ContentType string `mapstructure:"content_type" json:"content_type,omitempty"`
}

// BulkFiles 解析 processing_details 中的文件列表
func BulkFiles(batchID string, details []byte) ([]BulkFile, error) {
	if len(details) == 0 {
		return nil, nil
	}
	var doc struct {
		Files []interface{} `json:"files"`
	}
	if err := json.Unmarshal(details, &doc); err != nil {
		return nil, fmt.Errorf("processing_details: %w", err)
	}
	files := make([]BulkFile, 0, len(doc.Files))
	for i, raw := range doc.Files {
		var f BulkFile
		switch v := raw.(type) {
		case string:
			f.Key = v
		case map[string]interface{}:
			if err := decodeInto(v, &f); err != nil {
				return nil, fmt.Errorf("processing_details.files[%d]: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("processing_details.files[%d]: unexpected %T", i, raw)
		}
		f.Key = strings.TrimPrefix(strings.TrimSpace(f.Key), "/")
		if f.Key == "" && strings.TrimSpace(f.Filename) != "" {
			f.Key = BulkObjectKey(batchID, f.Filename)
		}
		if f.Key == "" {
			return nil, fmt.Errorf("processing_details.files[%d]: empty key", i)
		}
		if f.Filename == "" {
			f.Filename = path.Base(f.Key)
		}
		files = append(files, f)
	}
	return files, nil
}

// BulkObjectKey 批量上传文件的对象键 bulk_uploads/<batch>/<name>
func BulkObjectKey(batchID, filename string) string {
	return path.Join(constants.BulkUploadPrefix, batchID, path.Base(filename))
}

// IngestBulk creates a candidate for every file of a bulk upload. A failed file
// is counted and the batch goes on. Files already counted by an earlier delivery
// are skipped. When a job is attached, each candidate gets an onboarding score
// record and an AI evaluation, and the tracker waits for the AI phase.
func (p *Pipeline) IngestBulk(ctx context.Context, m BulkMessage) error {
	t, err := p.store.GetTracker(ctx, m.BatchJobID)
	if err != nil {
		return stepError("load tracker", m.BatchJobID, err)
	}
	if tracker.IsTerminal(t.Status) {
		p.logger.Info().Str("batch_job_id", m.BatchJobID).Str("status", t.Status).Msg("batch already finished")
		return nil
	}
	log := p.logger.With().Str("batch_job_id", m.BatchJobID).Logger()

	files, err := BulkFiles(m.BatchJobID, t.ProcessingDetails)
	if err == nil && len(files) == 0 {
		err = fmt.Errorf("no files listed for batch")
	}
	if err != nil {
		log.Error().Err(err).Msg("bulk batch has no usable file list")
		_, merr := p.store.MutateTracker(ctx, m.BatchJobID, func(t *models.ResumeUploadTracker) error {
			tracker.Fail(t, err.Error(), p.now())
			return nil
		})
		return merr
	}
	if err := p.requireBlobs(); err != nil {
		return err
	}
	if p.extractor == nil {
		return fmt.Errorf("bulk ingestion needs a text extractor")
	}

	declared := t.TotalFiles
	t, err = p.store.MutateTracker(ctx, m.BatchJobID, func(t *models.ResumeUploadTracker) error {
		t.TotalFiles = len(files)
		tracker.UpdateProgress(t, tracker.Counts{})
		return tracker.Start(t, p.now())
	})
	if err != nil {
		return stepError("start tracker", m.BatchJobID, err)
	}
	if declared != 0 && declared != len(files) {
		log.Warn().Int("declared", declared).Int("listed", len(files)).Msg("total files reset to the listed files")
	}

	jobID := m.JobID
	if jobID == "" {
		jobID = derefString(t.JobID)
	}
	orgID := m.OrganizationID
	if orgID == "" {
		orgID = t.OrganizationID
	}

	for i := t.ProcessedFiles; i < len(files); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := files[i]
		ferr := p.ingestFile(ctx, m.BatchJobID, orgID, jobID, f)
		if ferr != nil {
			log.Warn().Err(ferr).Str("key", f.Key).Msg("bulk file failed")
		}
		if _, err := p.store.MutateTracker(ctx, m.BatchJobID, func(t *models.ResumeUploadTracker) error {
			tracker.RecordFile(t, ferr == nil)
			return nil
		}); err != nil {
			return stepError("update progress", m.BatchJobID, err)
		}
	}

	t, err = p.store.MutateTracker(ctx, m.BatchJobID, func(t *models.ResumeUploadTracker) error {
		return tracker.Complete(t, jobID != "", p.now())
	})
	if err != nil {
		return stepError("complete tracker", m.BatchJobID, err)
	}
	log.Info().Int("processed", t.ProcessedFiles).Int("successful", t.SuccessfulFiles).
		Int("failed", t.FailedFiles).Str("status", t.Status).Msg("bulk ingestion finished")

	if jobID == "" {
		return nil
	}
	return p.enqueue(ctx, jobID, RankMessage{JobID: jobID})
}

func (p *Pipeline) ingestFile(ctx context.Context, batchID, orgID, jobID string, f BulkFile) error {
	bucket := f.Bucket
	if bucket == "" {
		bucket = p.settings.ResumeBucket
	}
	var data []byte
	err := p.retry(ctx, func(ctx context.Context) error {
		var err error
		data, err = p.blobs.Get(ctx, bucket, f.Key)
		return err
	})
	if err != nil {
		return stepError("get resume", bucket+"/"+f.Key, err)
	}
	text, err := p.extractor.Extract(ctx, data, f.Filename, f.ContentType)
	if err != nil {
		return stepError("extract text", f.Key, err)
	}

	contact, err := p.ai.ExtractContact(ctx, text)
	if err != nil {
		p.logger.Debug().Err(err).Str("key", f.Key).Msg("contact extraction fell back to regex")
	}
	if contact == nil {
		contact = enrichment.ContactFromText(truncateRunes(text, constants.ContactExtractTextLimit))
	}
	name := contact.Name
	if name == "" {
		name = strings.TrimSuffix(f.Filename, path.Ext(f.Filename))
	}

	cand := &models.Candidate{
		OrganizationID:    orgID,
		Name:              name,
		Email:             contact.Email,
		Phone:             contact.Phone,
		ResumeBucket:      bucket,
		ResumeKey:         f.Key,
		ResumeContentType: f.ContentType,
		ResumeText:        text,
	}
	score, err := p.store.CreateCandidateWithScore(ctx, cand, jobID)
	if err != nil {
		return stepError("create candidate", f.Key, err)
	}

	if err := p.enqueue(ctx, cand.ID, EmbeddingMessage{CandidateID: cand.ID, BatchJobID: batchID}); err != nil {
		return err
	}
	if score != nil {
		if err := p.enqueue(ctx, score.ID, AIEvaluationMessage{ScoreID: score.ID, BatchJobID: batchID}); err != nil {
			return err
		}
	}
	return nil
}
