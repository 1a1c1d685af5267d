package models

// 面试状态
const (
	InterviewRegistered = "registered"
	InterviewScheduled  = "scheduled"
	InterviewStarted    = "started"
	InterviewEnded      = "ended"
	InterviewAccepted   = "accepted"
	InterviewRejected   = "rejected"
	InterviewHold       = "hold"
	InterviewNotJoined  = "not_joined"
)

// 匹配分阶段
const (
	StageCandidateOnboard     = "candidate_onboard"
	StageSelectedForInterview = "selected_for_interview"
	StageScheduledInterview   = "scheduled_interview"
	StageCompletedInterview   = "completed_interview"
)

// 推荐阶段
const (
	SuggestionDefault  = "default"
	SuggestionArchived = "archived"
)

// 上传类型
const (
	UploadSingleManual = "single_manual"
	UploadSingleResume = "single_resume"
	UploadBulk         = "bulk"
)

// 上传批次状态
const (
	UploadPending         = "pending"
	UploadProcessing      = "processing"
	UploadCompleted       = "completed"
	UploadFailed          = "failed"
	UploadPartiallyFailed = "partially_failed"
)

// 发件箱状态
const (
	OutboxPending = "PENDING"
	OutboxSent    = "SENT"
	OutboxFailed  = "FAILED"
)
