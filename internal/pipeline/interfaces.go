package pipeline

import (
	"context"
	"time"

	"elexis-pipeline/internal/enrichment"
	"elexis-pipeline/internal/storage"
	"elexis-pipeline/internal/storage/models"
)

// ScoreStore 匹配分记录
type ScoreStore interface {
	GetScore(ctx context.Context, id string) (*models.JobMatchingResumeScore, error)
	UpdateScore(ctx context.Context, id string, score float64) error
	ListActiveScores(ctx context.Context, jobID string) ([]models.JobMatchingResumeScore, error)
	ListActiveScoresByCandidate(ctx context.Context, candidateID string) ([]models.JobMatchingResumeScore, error)
	ApplyRankings(ctx context.Context, jobID string, rankings map[string]int) error
	SaveScoreEvaluation(ctx context.Context, resp *models.AiJdResumeMatchingResponse) error
}

// CatalogStore 岗位、候选人、组织与推荐
type CatalogStore interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	GetCandidate(ctx context.Context, id string) (*models.Candidate, error)
	GetOrganization(ctx context.Context, id string) (*models.Organization, error)
	ListRequirements(ctx context.Context, jobID string) ([]models.JobRequirement, error)
	CreateCandidateWithScore(ctx context.Context, c *models.Candidate, jobID string) (*models.JobMatchingResumeScore, error)
	SetCandidateResumeText(ctx context.Context, id, text string) error
	SetCandidateEmbedding(ctx context.Context, id, embeddingID string) error
	SetJobEmbedding(ctx context.Context, id, embeddingID string) error
	AssociatedCandidateIDs(ctx context.Context, jobID string) (map[string]bool, error)
	UpsertSuggestion(ctx context.Context, jobID, candidateID string) (*models.SuggestedCandidate, error)
	SaveSuggestionEvaluation(ctx context.Context, suggestionID string, resp *models.AiJdResumeMatchingResponse) error
}

// InterviewStore 面试记录
type InterviewStore interface {
	FindInterview(ctx context.Context, ref storage.InterviewRef) (*models.Interview, error)
	SaveCompletion(ctx context.Context, rec storage.CompletionRecord) (*storage.CompletionResult, error)
	AppendProctoringVideo(ctx context.Context, interviewID, videoURL string) (bool, error)
	MarkNotJoined(ctx context.Context, cutoff time.Time) (int64, error)
}

// TrackerStore 上传批次
type TrackerStore interface {
	GetTracker(ctx context.Context, batchID string) (*models.ResumeUploadTracker, error)
	FindActiveBulkTracker(ctx context.Context, jobID string) (*models.ResumeUploadTracker, error)
	MutateTracker(ctx context.Context, batchID string, fn func(*models.ResumeUploadTracker) error) (*models.ResumeUploadTracker, error)
	RecentTrackers(ctx context.Context, orgID string, limit int) ([]models.ResumeUploadTracker, error)
}

// Store 全部关系库能力，*storage.MySQL 实现
type Store interface {
	ScoreStore
	CatalogStore
	InterviewStore
	TrackerStore
}

var _ Store = (*storage.MySQL)(nil)

// Enrichment 生成式模型能力，*enrichment.Service 实现
type Enrichment interface {
	ExtractQA(ctx context.Context, transcript string, corrective bool) (string, error)
	Summarize(ctx context.Context, transcript string, reqs []enrichment.Requirement) (*enrichment.InterviewSummary, error)
	EvaluateFit(ctx context.Context, resumeText, jobText string) (*enrichment.FitEvaluation, error)
	ExtractContact(ctx context.Context, text string) (*enrichment.Contact, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	ExtractExperience(ctx context.Context, doc []byte, mimeType string) ([]enrichment.ExperienceItem, error)
}

var _ Enrichment = (*enrichment.Service)(nil)

// TextExtractor 简历文件转文本，*document.Extractor 实现
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, filename, contentType string) (string, error)
}

// Enqueuer 写出后续消息，*outbox.Writer 实现
type Enqueuer interface {
	Enqueue(ctx context.Context, msgType, aggregateID string, data interface{}) error
}
