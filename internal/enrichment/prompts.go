package enrichment

import (
	"encoding/json"
	"strings"
)

const qaSystemPrompt = "You are an assistant helping to extract Q&A from interview transcripts."

const qaPromptTemplate = `Here is the transcript:
{{transcript}}

Please extract all relevant interviewer questions and candidate answers from the above transcript.

Return only valid JSON: a list of objects, where each object has
- "question": string
- "answer": string

Example:
[
  {"question": "What are your strengths?", "answer": "I am great at solving problems..."}
]
Do not return any explanation, just the JSON.`

const qaCorrection = `The previous response was not valid JSON or did not follow the required structure:
a list of dictionaries, each having 'question' and 'answer' string keys.
Please regenerate the response correctly.

`

const summarySystemPrompt = "You are a senior recruiter writing critical, evidence-based interview summaries."

const summaryPromptTemplate = `Create a detailed summary of the candidate from the transcription of the interview conversation.
The summary helps hiring managers understand the candidate's suitability for the position. Be critical.

Transcription:
{{transcript}}

Return a JSON object with these keys, every value a list:
- overall_impression: list of strings on communication, demeanor and culture fit.
- strengths: list of {"strength": string, "example": string, "rating": number 1-5}.
- areas_for_improvement: list of {"area": string, "details": string, "suggestions": string}.
- skills: list of {"title": string, "skills": [{"name": string, "rating": number 1-5}]}.
- experience: list of {"name": string, "years": integer, "months": integer}.
- final_recommendation: list of strings.
- requirements_evaluation: for each job requirement below, copy all of its fields and add
  "evaluation" (integer 1-100) and "remarks" (short qualitative assessment).

Job requirements:
{{requirements}}`

const fitSystemPrompt = "You are an AI assistant specializing in resume analysis and job matching."

const fitPromptTemplate = `Analyze the candidate's resume against the job description.

RESUME:
{{resume}}

JOB DESCRIPTION:
{{job}}

Return a JSON object with these keys:
- roleFitScore: number (0-100), how well qualifications match the requirements
- backgroundAnalysis: object with industryContext, companyBackground, relevance
- roleFitAnalysis: object with jobTitleMatch, industryAlignment, experienceLevel, keySkills (array)
- gapsAndImprovements: object with missingSkills (array), suggestedImprovements (array)
- hiringSignals: object with resumeQuality, careerTrajectory, prestigeFactors, transitionEase
- recommendation: object with overallRecommendation, nextSteps (array)
- directComparison: object with relevantSections (array), missingRequirements (array)

Be specific to this candidate and job. Return only the JSON object.`

const contactPromptTemplate = `Extract the candidate's full name, email address and phone number from the resume text below.
Return only a JSON object {"name": string, "email": string, "phone": string}; use "" for anything missing.

Resume:
{{text}}`

const experiencePrompt = "You are an expert recruiter. Extract the candidate's professional work experience from the attached resume. " +
	"For each experience give the company name, duration in whole years and remaining months (0-11). " +
	"Return a JSON list of objects with keys name, years, months, e.g. [{\"name\": \"CompanyX\", \"years\": 2, \"months\": 5}]. " +
	"Return plain JSON, not markdown."

func render(tpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

func requirementsJSON(reqs []Requirement) string {
	if len(reqs) == 0 {
		return "[]"
	}
	b, _ := json.MarshalIndent(reqs, "", "  ")
	return string(b)
}
