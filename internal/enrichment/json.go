package enrichment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ExtractJSON returns the first balanced JSON object or array in text. Braces
// inside string literals are ignored. Returns "" when nothing balanced is found.
func ExtractJSON(text string) string {
	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return ""
	}
	open := text[start]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}

	level := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			level++
		case closing:
			level--
			if level == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// ParseQAPairs validates a Q&A extraction reply: a JSON list of objects each with
// non-empty string question and answer.
func ParseQAPairs(raw string) ([]QAPair, error) {
	js := ExtractJSON(raw)
	if js == "" || js[0] != '[' {
		return nil, fmt.Errorf("%w: expected a JSON list", ErrMalformedResponse)
	}
	var items []map[string]interface{}
	if err := json.Unmarshal([]byte(js), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrMalformedResponse)
	}
	out := make([]QAPair, 0, len(items))
	for i, item := range items {
		q, qok := item["question"].(string)
		a, aok := item["answer"].(string)
		if !qok || !aok || strings.TrimSpace(q) == "" || strings.TrimSpace(a) == "" {
			return nil, fmt.Errorf("%w: item %d lacks non-empty question/answer", ErrMalformedResponse, i)
		}
		out = append(out, QAPair{Question: q, Answer: a})
	}
	return out, nil
}

var summaryListKeys = []string{
	"overall_impression",
	"strengths",
	"areas_for_improvement",
	"skills",
	"experience",
	"final_recommendation",
	"requirements_evaluation",
}

// ParseSummary validates an interview summary reply.
func ParseSummary(raw string) (*InterviewSummary, error) {
	obj, err := parseObject(raw)
	if err != nil {
		return nil, err
	}
	for _, key := range summaryListKeys {
		v, ok := obj[key]
		if !ok {
			return nil, fmt.Errorf("%w: missing key %q", ErrMalformedResponse, key)
		}
		if !isJSONList(v) {
			return nil, fmt.Errorf("%w: key %q should be a list", ErrMalformedResponse, key)
		}
	}

	var s InterviewSummary
	data, _ := json.Marshal(obj)
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	for _, st := range s.Strengths {
		if st.Strength == "" || st.Example == "" {
			return nil, fmt.Errorf("%w: strengths need strength and example", ErrMalformedResponse)
		}
	}
	for _, a := range s.AreasForImprovement {
		if a.Area == "" || a.Details == "" {
			return nil, fmt.Errorf("%w: areas_for_improvement need area and details", ErrMalformedResponse)
		}
	}
	return &s, nil
}

var fitSectionKeys = []string{
	"backgroundAnalysis",
	"roleFitAnalysis",
	"gapsAndImprovements",
	"hiringSignals",
	"recommendation",
	"directComparison",
}

// ParseFitEvaluation validates a fit evaluation reply. A bare string, an error
// object or a reply missing any section is malformed.
func ParseFitEvaluation(raw string) (*FitEvaluation, error) {
	obj, err := parseObject(raw)
	if err != nil {
		return nil, err
	}
	if _, ok := obj["error"]; ok && len(obj) <= 2 {
		return nil, fmt.Errorf("%w: model returned an error object", ErrMalformedResponse)
	}
	score, ok := parseScore(obj["roleFitScore"])
	if !ok {
		return nil, fmt.Errorf("%w: roleFitScore missing or not numeric", ErrMalformedResponse)
	}
	ev := &FitEvaluation{RoleFitScore: score}
	targets := []*json.RawMessage{
		&ev.BackgroundAnalysis,
		&ev.RoleFitAnalysis,
		&ev.GapsAndImprovements,
		&ev.HiringSignals,
		&ev.Recommendation,
		&ev.DirectComparison,
	}
	for i, key := range fitSectionKeys {
		v, ok := obj[key]
		if !ok || !isJSONObject(v) {
			return nil, fmt.Errorf("%w: %s should be an object", ErrMalformedResponse, key)
		}
		*targets[i] = v
	}
	return ev, nil
}

// ParseExperience accepts either a list or an object wrapping one under "experience".
func ParseExperience(raw string) ([]ExperienceItem, error) {
	js := ExtractJSON(raw)
	if js == "" {
		return nil, fmt.Errorf("%w: no JSON in experience reply", ErrMalformedResponse)
	}
	if js[0] == '{' {
		var wrapped struct {
			Experience []ExperienceItem `json:"experience"`
		}
		if err := json.Unmarshal([]byte(js), &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return wrapped.Experience, nil
	}
	var items []ExperienceItem
	if err := json.Unmarshal([]byte(js), &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return items, nil
}

func parseObject(raw string) (map[string]json.RawMessage, error) {
	js := ExtractJSON(raw)
	if js == "" || js[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedResponse)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(js), &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return obj, nil
}

func isJSONList(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '['
}

func isJSONObject(v json.RawMessage) bool {
	v = bytes.TrimSpace(v)
	return len(v) > 0 && v[0] == '{'
}

// parseScore accepts 85, 85.5, "85" and "85%".
func parseScore(v json.RawMessage) (float64, bool) {
	if len(v) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%")), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
