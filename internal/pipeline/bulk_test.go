package pipeline

import (
	"context"
	"testing"

	"elexis-pipeline/internal/constants"
	"elexis-pipeline/internal/enrichment"
	"elexis-pipeline/internal/storage/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestBulkFiles(t *testing.T) {
	files, err := BulkFiles("b-1", []byte(`{"files":[
		"bulk_uploads/b-1/jane.pdf",
		{"bucket":"other","key":"/bulk_uploads/b-1/john.docx","content_type":"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{"Key":"bulk_uploads/b-1/x.txt","FileName":"Resume X.txt"},
		{"filename":"../sam.pdf"}
	]}`))
	require.NoError(t, err)
	require.Len(t, files, 4)
	assert.Equal(t, BulkFile{Key: "bulk_uploads/b-1/jane.pdf", Filename: "jane.pdf"}, files[0])
	assert.Equal(t, "other", files[1].Bucket)
	assert.Equal(t, "bulk_uploads/b-1/john.docx", files[1].Key)
	assert.Equal(t, "john.docx", files[1].Filename)
	assert.Equal(t, "Resume X.txt", files[2].Filename)
	assert.Equal(t, "bulk_uploads/b-1/sam.pdf", files[3].Key)

	t.Run("empty details", func(t *testing.T) {
		files, err := BulkFiles("b-1", nil)
		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("invalid entries", func(t *testing.T) {
		for _, raw := range []string{`{"files":[42]}`, `{"files":[""]}`, `{"files":[{"bucket":"x"}]}`, `not json`} {
			_, err := BulkFiles("b-1", []byte(raw))
			assert.Error(t, err, raw)
		}
	})
}

func TestBulkObjectKey(t *testing.T) {
	assert.Equal(t, "bulk_uploads/b-1/cv.pdf", BulkObjectKey("b-1", "../../cv.pdf"))
}

func bulkFixture(files string) *fixture {
	f := newFixture()
	f.store.addOrg(models.Organization{ID: "org-1", OrgName: "acme"})
	f.store.addJob(models.Job{ID: "job-1", OrganizationID: "org-1", Name: "Backend"})
	f.store.addTracker(models.ResumeUploadTracker{
		BatchJobID: "b-1", OrganizationID: "org-1", UploadType: models.UploadBulk,
		Status: models.UploadPending, ProcessingDetails: datatypes.JSON(files),
	})
	f.blobs.put("resumes", "bulk_uploads/b-1/jane.txt", []byte("Jane Roe\njane@example.com\n+1 415 555 0100"))
	f.blobs.put("resumes", "bulk_uploads/b-1/john.txt", []byte("John Poe john@example.com"))
	f.blobs.put("resumes", "bulk_uploads/b-1/broken.bin", []byte{0x00})
	return f
}

const threeFiles = `{"files":["bulk_uploads/b-1/jane.txt","bulk_uploads/b-1/broken.bin","bulk_uploads/b-1/john.txt"]}`

func TestIngestBulk(t *testing.T) {
	t.Run("without job", func(t *testing.T) {
		f := bulkFixture(threeFiles)
		f.extractor.failOn = map[string]bool{"broken.bin": true}
		p := f.pipeline(t)

		require.NoError(t, p.IngestBulk(context.Background(), BulkMessage{BatchJobID: "b-1", OrganizationID: "org-1"}))

		tr := f.store.tracker("b-1")
		assert.Equal(t, models.UploadPartiallyFailed, tr.Status)
		assert.Equal(t, 3, tr.TotalFiles)
		assert.Equal(t, 3, tr.ProcessedFiles)
		assert.Equal(t, 2, tr.SuccessfulFiles)
		assert.Equal(t, 1, tr.FailedFiles)
		assert.Equal(t, f.now, *tr.StartedAt)
		assert.NotNil(t, tr.CompletedAt)

		assert.Len(t, f.store.candidates, 2)
		assert.Empty(t, f.store.scores)
		assert.Len(t, f.outbox.ofType(constants.MsgGenerateEmbedding), 2)
		assert.Empty(t, f.outbox.ofType(constants.MsgAIJobResumeEvaluation))
		assert.Empty(t, f.outbox.ofType(constants.MsgRankResumes))

		var jane *models.Candidate
		for _, c := range f.store.candidates {
			if c.Email == "jane@example.com" {
				jane = c
			}
		}
		require.NotNil(t, jane)
		assert.Equal(t, "org-1", jane.OrganizationID)
		assert.Equal(t, "resumes", jane.ResumeBucket)
		assert.Equal(t, "bulk_uploads/b-1/jane.txt", jane.ResumeKey)
		assert.NotEmpty(t, jane.ResumeText)
	})

	t.Run("with job waits for AI", func(t *testing.T) {
		f := bulkFixture(`{"files":["bulk_uploads/b-1/jane.txt","bulk_uploads/b-1/john.txt"]}`)
		f.ai.extractContact = func(text string) (*enrichment.Contact, error) {
			return &enrichment.Contact{Name: "Parsed Name", Email: "parsed@example.com"}, nil
		}
		p := f.pipeline(t)

		msg := BulkMessage{BatchJobID: "b-1", OrganizationID: "org-1", JobID: "job-1", FileCount: 2}
		require.NoError(t, p.IngestBulk(context.Background(), msg))

		tr := f.store.tracker("b-1")
		assert.Equal(t, models.UploadProcessing, tr.Status)
		assert.Equal(t, 2, tr.SuccessfulFiles)
		assert.Nil(t, tr.CompletedAt)

		evals := f.outbox.ofType(constants.MsgAIJobResumeEvaluation)
		require.Len(t, evals, 2)
		assert.Equal(t, "b-1", evals[0].Data.(AIEvaluationMessage).BatchJobID)
		require.Len(t, f.outbox.ofType(constants.MsgRankResumes), 1)

		scores := f.store.activeScores(func(s *models.JobMatchingResumeScore) bool { return s.JobID == "job-1" })
		require.Len(t, scores, 2)
		assert.Equal(t, models.StageCandidateOnboard, scores[0].Stage)
		for _, c := range f.store.candidates {
			assert.Equal(t, "Parsed Name", c.Name)
		}

		// AI results arrive and finish the batch
		for _, e := range evals {
			require.NoError(t, p.EvaluateScore(context.Background(), e.Data.(AIEvaluationMessage)))
		}
		assert.Equal(t, models.UploadCompleted, f.store.tracker("b-1").Status)
	})

	t.Run("redelivery resumes after counted files", func(t *testing.T) {
		f := bulkFixture(threeFiles)
		tr := f.store.trackers["b-1"]
		tr.Status = models.UploadProcessing
		tr.TotalFiles = 3
		tr.ProcessedFiles = 2
		tr.SuccessfulFiles = 1
		tr.FailedFiles = 1
		p := f.pipeline(t)

		require.NoError(t, p.IngestBulk(context.Background(), BulkMessage{BatchJobID: "b-1", OrganizationID: "org-1"}))
		assert.Len(t, f.store.candidates, 1)
		got := f.store.tracker("b-1")
		assert.Equal(t, 3, got.ProcessedFiles)
		assert.Equal(t, 2, got.SuccessfulFiles)
		assert.Equal(t, models.UploadPartiallyFailed, got.Status)
	})

	t.Run("declared total is reconciled with the file list", func(t *testing.T) {
		for name, declared := range map[string]int{"larger": 5, "smaller": 1} {
			t.Run(name, func(t *testing.T) {
				f := bulkFixture(threeFiles)
				f.store.trackers["b-1"].TotalFiles = declared
				f.extractor.failOn = map[string]bool{"broken.bin": true}
				p := f.pipeline(t)

				require.NoError(t, p.IngestBulk(context.Background(), BulkMessage{BatchJobID: "b-1", OrganizationID: "org-1"}))
				got := f.store.tracker("b-1")
				assert.Equal(t, 3, got.TotalFiles)
				assert.Equal(t, 3, got.ProcessedFiles)
				assert.Equal(t, 3, got.SuccessfulFiles+got.FailedFiles)
				assert.Equal(t, models.UploadPartiallyFailed, got.Status)
			})
		}
	})

	t.Run("missing object counts as failed file", func(t *testing.T) {
		f := bulkFixture(`{"files":["bulk_uploads/b-1/gone.pdf"]}`)
		p := f.pipeline(t)
		require.NoError(t, p.IngestBulk(context.Background(), BulkMessage{BatchJobID: "b-1", OrganizationID: "org-1"}))
		tr := f.store.tracker("b-1")
		assert.Equal(t, 1, tr.FailedFiles)
		assert.Equal(t, models.UploadPartiallyFailed, tr.Status)
	})

	t.Run("no files fails the batch", func(t *testing.T) {
		f := bulkFixture(`{"files":[]}`)
		p := f.pipeline(t)
		require.NoError(t, p.IngestBulk(context.Background(), BulkMessage{BatchJobID: "b-1", OrganizationID: "org-1"}))
		tr := f.store.tracker("b-1")
		assert.Equal(t, models.UploadFailed, tr.Status)
		assert.NotEmpty(t, tr.ErrorMessage)
	})

	t.Run("finished batch is skipped", func(t *testing.T) {
		f := bulkFixture(threeFiles)
		f.store.trackers["b-1"].Status = models.UploadCompleted
		p := f.pipeline(t)
		require.NoError(t, p.IngestBulk(context.Background(), BulkMessage{BatchJobID: "b-1", OrganizationID: "org-1"}))
		assert.Empty(t, f.store.candidates)
	})
}
