// Package enrichment wraps the generative models used by the pipeline: transcript
// Q&A extraction, interview summaries, resume/job fit evaluation, contact and
// experience extraction, and text embeddings.
package enrichment

import (
	"encoding/json"
	"errors"
)

// ErrMalformedResponse marks a model reply that could not be parsed into the
// expected structure. Callers treat it as a failed unit of work, not a transient error.
var ErrMalformedResponse = errors.New("enrichment: malformed model response")

// Task names used to pick a per-task chat model.
const (
	TaskTranscriptQA  = "transcript_qa"
	TaskSummary       = "interview_summary"
	TaskFitEvaluation = "fit_evaluation"
	TaskContact       = "contact_extraction"
)

type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Requirement is a job requirement as presented to the summary prompt.
type Requirement struct {
	ID          string `json:"id"`
	Requirement string `json:"requirement"`
	Weightage   int    `json:"weightage"`
}

// RequirementRating is one entry of requirements_evaluation.
type RequirementRating struct {
	ID          string  `json:"id"`
	Requirement string  `json:"requirement"`
	Evaluation  float64 `json:"evaluation"`
	Remarks     string  `json:"remarks"`
}

type Strength struct {
	Strength string  `json:"strength"`
	Example  string  `json:"example"`
	Rating   float64 `json:"rating"`
}

type ImprovementArea struct {
	Area        string `json:"area"`
	Details     string `json:"details"`
	Suggestions string `json:"suggestions"`
}

// InterviewSummary is the structured interview summary. Skills and Experience are
// stored as-is.
type InterviewSummary struct {
	OverallImpression      []string            `json:"overall_impression"`
	Strengths              []Strength          `json:"strengths"`
	AreasForImprovement    []ImprovementArea   `json:"areas_for_improvement"`
	Skills                 json.RawMessage     `json:"skills"`
	Experience             json.RawMessage     `json:"experience"`
	FinalRecommendation    []string            `json:"final_recommendation"`
	RequirementsEvaluation []RequirementRating `json:"requirements_evaluation"`
}

// SummaryJSON is the persisted form of the summary, without the per-requirement list.
func (s *InterviewSummary) SummaryJSON() map[string]interface{} {
	return map[string]interface{}{
		"overall_impression":    s.OverallImpression,
		"strengths":             s.Strengths,
		"areas_for_improvement": s.AreasForImprovement,
		"final_recommendation":  s.FinalRecommendation,
	}
}

// FitEvaluation is the resume vs job description analysis.
type FitEvaluation struct {
	RoleFitScore        float64         `json:"roleFitScore"`
	BackgroundAnalysis  json.RawMessage `json:"backgroundAnalysis"`
	RoleFitAnalysis     json.RawMessage `json:"roleFitAnalysis"`
	GapsAndImprovements json.RawMessage `json:"gapsAndImprovements"`
	HiringSignals       json.RawMessage `json:"hiringSignals"`
	Recommendation      json.RawMessage `json:"recommendation"`
	DirectComparison    json.RawMessage `json:"directComparison"`
}

type ExperienceItem struct {
	Name   string `json:"name"`
	Years  int    `json:"years"`
	Months int    `json:"months"`
}

type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}
