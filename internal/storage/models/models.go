package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Organization 租户
type Organization struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	OrgName   string    `gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (Organization) TableName() string {
	return "organizations"
}

// Namespace 向量库分区键: <org_name>_<org_id>
func (o Organization) Namespace() string {
	return o.OrgName + "_" + o.ID
}

// Candidate 候选人
type Candidate struct {
	ID                string    `gorm:"type:char(36);primaryKey"`
	OrganizationID    string    `gorm:"type:char(36);not null;index:idx_candidates_org"`
	Name              string    `gorm:"type:varchar(255)"`
	Email             string    `gorm:"type:varchar(255);index:idx_candidates_email"`
	Phone             string    `gorm:"type:varchar(50)"`
	ResumeBucket      string    `gorm:"type:varchar(255)"`
	ResumeKey         string    `gorm:"type:varchar(1024)"`
	ResumeContentType string    `gorm:"type:varchar(100)"`
	ResumeText        string    `gorm:"type:mediumtext"`
	ResumeEmbeddingID *string   `gorm:"type:varchar(100);index:idx_candidates_embedding"`
	CreatedAt         time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt         time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Candidate) TableName() string {
	return "candidates"
}

// Job 岗位
type Job struct {
	ID                        string    `gorm:"type:char(36);primaryKey"`
	OrganizationID            string    `gorm:"type:char(36);not null;index:idx_jobs_org"`
	Name                      string    `gorm:"type:varchar(255);not null"`
	Description               string    `gorm:"type:text"`
	JobDescriptionEmbeddingID *string   `gorm:"type:varchar(100)"`
	IsDisabled                bool      `gorm:"default:false"`
	CreatedAt                 time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt                 time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Job) TableName() string {
	return "jobs"
}

// JobRequirement 岗位要求，Weightage 1-5
type JobRequirement struct {
	ID          string    `gorm:"type:char(36);primaryKey"`
	JobID       string    `gorm:"type:char(36);not null;index:idx_job_requirements_job"`
	Requirement string    `gorm:"type:text;not null"`
	Weightage   int       `gorm:"type:tinyint;default:1"`
	Position    int       `gorm:"default:0"`
	CreatedAt   time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (JobRequirement) TableName() string {
	return "job_requirements"
}

// Interview 面试
type Interview struct {
	ID                       string         `gorm:"type:char(36);primaryKey"`
	CandidateID              string         `gorm:"type:char(36);not null;index:idx_interviews_candidate"`
	JobID                    string         `gorm:"type:char(36);not null;index:idx_interviews_job"`
	OrganizationID           string         `gorm:"type:char(36);index:idx_interviews_org"`
	ScheduledAt              *time.Time     `gorm:"type:datetime(6);index:idx_interviews_status_scheduled,priority:2"`
	Status                   string         `gorm:"type:varchar(20);not null;default:'registered';index:idx_interviews_status_scheduled,priority:1"`
	Link                     *string        `gorm:"type:varchar(1024)"`
	MeetingRoom              *string        `gorm:"type:varchar(512);index:idx_interviews_meeting_room"`
	Transcript               *string        `gorm:"type:varchar(1024)"`
	Summary                  datatypes.JSON `gorm:"type:json"`
	Skills                   datatypes.JSON `gorm:"type:json"`
	Experience               datatypes.JSON `gorm:"type:json"`
	ProctoringVideos         datatypes.JSON `gorm:"type:json"`
	JobMatchingResumeScoreID *string        `gorm:"type:char(36)"`
	CreatedAt                time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt                time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Interview) TableName() string {
	return "interviews"
}

// JobMatchingResumeScore 候选人与岗位的阶段性匹配分。每个 candidate+job 只保留一条未归档记录。
type JobMatchingResumeScore struct {
	ID             string    `gorm:"type:char(36);primaryKey"`
	CandidateID    string    `gorm:"type:char(36);not null;index:idx_jmrs_candidate_job,priority:1"`
	JobID          string    `gorm:"type:char(36);not null;index:idx_jmrs_candidate_job,priority:2;index:idx_jmrs_job_active,priority:1"`
	OrganizationID string    `gorm:"type:char(36)"`
	Score          float64   `gorm:"type:decimal(13,10);default:0"`
	Stage          string    `gorm:"type:varchar(50);not null;default:'candidate_onboard'"`
	Ranking        *int      `gorm:"type:int"`
	IsArchived     bool      `gorm:"default:false;index:idx_jmrs_job_active,priority:2"`
	CreatedAt      time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt      time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (JobMatchingResumeScore) TableName() string {
	return "job_matching_resume_scores"
}

// JobRequirementEvaluation 面试后每条岗位要求的评分，Rating 1-100
type JobRequirementEvaluation struct {
	ID               string    `gorm:"type:char(36);primaryKey"`
	CandidateID      string    `gorm:"type:char(36);not null;index:idx_jre_candidate"`
	InterviewID      *string   `gorm:"type:char(36);index:idx_jre_interview"`
	JobRequirementID string    `gorm:"type:char(36);not null"`
	Rating           int       `gorm:"type:tinyint"`
	Remarks          string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (JobRequirementEvaluation) TableName() string {
	return "job_requirement_evaluations"
}

// ResumeUploadTracker 简历导入批次。文件导入计数与 AI 计数相互独立。
type ResumeUploadTracker struct {
	ID                string         `gorm:"type:char(36);primaryKey"`
	BatchJobID        string         `gorm:"type:varchar(64);not null;uniqueIndex:idx_rut_batch"`
	OrganizationID    string         `gorm:"type:char(36);not null;index:idx_rut_org_created,priority:1"`
	UserID            string         `gorm:"type:char(36)"`
	UploadType        string         `gorm:"type:varchar(20);not null"`
	Status            string         `gorm:"type:varchar(20);not null;default:'pending';index:idx_rut_job_type_status,priority:3"`
	TotalFiles        int            `gorm:"default:0"`
	ProcessedFiles    int            `gorm:"default:0"`
	SuccessfulFiles   int            `gorm:"default:0"`
	FailedFiles       int            `gorm:"default:0"`
	AIProcessedFiles  int            `gorm:"default:0"`
	AISuccessfulFiles int            `gorm:"default:0"`
	AIFailedFiles     int            `gorm:"default:0"`
	JobID             *string        `gorm:"type:char(36);index:idx_rut_job_type_status,priority:1"`
	ErrorMessage      string         `gorm:"type:text"`
	ProcessingDetails datatypes.JSON `gorm:"type:json"`
	StartedAt         *time.Time     `gorm:"type:datetime(6)"`
	CompletedAt       *time.Time     `gorm:"type:datetime(6)"`
	CreatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index:idx_rut_org_created,priority:2"`
	UpdatedAt         time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (ResumeUploadTracker) TableName() string {
	return "resume_upload_trackers"
}

// AiJdResumeMatchingResponse AI 匹配评估结果，各分析段落以 JSON 存储
type AiJdResumeMatchingResponse struct {
	ID                       string         `gorm:"type:char(36);primaryKey"`
	JobMatchingResumeScoreID *string        `gorm:"type:char(36);index:idx_ajrmr_score"`
	CandidateID              string         `gorm:"type:char(36);not null"`
	JobID                    string         `gorm:"type:char(36);not null"`
	RoleFitScore             float64        `gorm:"type:decimal(5,2)"`
	BackgroundAnalysis       datatypes.JSON `gorm:"type:json"`
	RoleFitAnalysis          datatypes.JSON `gorm:"type:json"`
	GapsAndImprovements      datatypes.JSON `gorm:"type:json"`
	HiringSignals            datatypes.JSON `gorm:"type:json"`
	Recommendation           datatypes.JSON `gorm:"type:json"`
	DirectComparison         datatypes.JSON `gorm:"type:json"`
	CreatedAt                time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
}

func (AiJdResumeMatchingResponse) TableName() string {
	return "ai_jd_resume_matching_responses"
}

// SuggestedCandidate "寻找更多候选人" 产出的推荐
type SuggestedCandidate struct {
	ID                           string    `gorm:"type:char(36);primaryKey"`
	JobID                        string    `gorm:"type:char(36);not null;uniqueIndex:idx_sc_job_candidate,priority:1"`
	CandidateID                  string    `gorm:"type:char(36);not null;uniqueIndex:idx_sc_job_candidate,priority:2"`
	AiJdResumeMatchingResponseID *string   `gorm:"type:char(36)"`
	Stage                        string    `gorm:"type:varchar(20);not null;default:'default'"`
	CreatedAt                    time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt                    time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (SuggestedCandidate) TableName() string {
	return "suggested_candidates"
}

// ToJSON 序列化任意值为 datatypes.JSON，失败时返回 JSON null
func ToJSON(v interface{}) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}

// StringPtr 返回 s 的指针，空串返回 nil
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// AllModels 需要自动迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&Organization{},
		&Candidate{},
		&Job{},
		&JobRequirement{},
		&Interview{},
		&JobMatchingResumeScore{},
		&JobRequirementEvaluation{},
		&ResumeUploadTracker{},
		&AiJdResumeMatchingResponse{},
		&SuggestedCandidate{},
		&OutboxMessage{},
	}
}
