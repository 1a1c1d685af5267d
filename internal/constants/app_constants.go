package constants

// 队列消息类型。信封格式 {"type": ..., "data": {...}}
const (
	MsgJobResumeMatchingScore    = "job_resume_matching_score"
	MsgAIJobResumeEvaluation     = "ai_job_resume_evaluation"
	MsgRankResumes               = "rank-resumes"
	MsgGenerateCandidateSuggest  = "generate_candidate_suggestion"
	MsgProcessBulkResumes        = "process_bulk_resumes"
	MsgGenerateEmbedding         = "generate_embedding"
	MsgProctor                   = "proctor"
	MsgInterviewCompletionLegacy = "interview_completion" // 旧格式无 type 字段，仅作内部标识
)

// 向量 ID 前缀
const (
	ResumeEmbeddingPrefix = "resume-"
	JobEmbeddingPrefix    = "job-"
)

// 文本长度限制
const (
	EmbeddingTextLimit      = 8000
	ContactExtractTextLimit = 2000
)

// 批量上传在对象存储中的前缀: bulk_uploads/<batch_id>/<file>
const BulkUploadPrefix = "bulk_uploads"

// EmbeddingID 组合向量 ID
func EmbeddingID(prefix, id string) string {
	return prefix + id
}
