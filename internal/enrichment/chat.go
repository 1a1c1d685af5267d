package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
)

// Chat runs the text-only enrichment tasks on eino chat models.
type Chat struct {
	fallback      model.ToolCallingChatModel
	taskModels    map[string]model.ToolCallingChatModel
	transcriptCut int
	logger        zerolog.Logger
}

type ChatOption func(*Chat)

// WithTaskModel routes one task to a dedicated model.
func WithTaskModel(task string, m model.ToolCallingChatModel) ChatOption {
	return func(c *Chat) {
		if m != nil {
			c.taskModels[task] = m
		}
	}
}

// WithTranscriptLimit truncates transcripts to n runes before prompting; 0 disables.
func WithTranscriptLimit(n int) ChatOption {
	return func(c *Chat) { c.transcriptCut = n }
}

func NewChat(m model.ToolCallingChatModel, logger zerolog.Logger, opts ...ChatOption) *Chat {
	c := &Chat{
		fallback:   m,
		taskModels: map[string]model.ToolCallingChatModel{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chat) modelFor(task string) model.ToolCallingChatModel {
	if m, ok := c.taskModels[task]; ok {
		return m
	}
	return c.fallback
}

func (c *Chat) generate(ctx context.Context, task, system, user string) (string, error) {
	m := c.modelFor(task)
	if m == nil {
		return "", fmt.Errorf("no chat model configured for %s", task)
	}
	resp, err := m.Generate(ctx, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", task, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%s: %w: empty reply", task, ErrMalformedResponse)
	}
	return resp.Content, nil
}

// ExtractQA asks for Q&A pairs and returns the raw reply. corrective prepends the
// format correction used after an invalid reply.
func (c *Chat) ExtractQA(ctx context.Context, transcript string, corrective bool) (string, error) {
	prompt := render(qaPromptTemplate, map[string]string{"transcript": truncateRunes(transcript, c.transcriptCut)})
	if corrective {
		prompt = qaCorrection + prompt
	}
	return c.generate(ctx, TaskTranscriptQA, qaSystemPrompt, prompt)
}

// Summarize produces the structured interview summary with per-requirement ratings.
func (c *Chat) Summarize(ctx context.Context, transcript string, reqs []Requirement) (*InterviewSummary, error) {
	prompt := render(summaryPromptTemplate, map[string]string{
		"transcript":   truncateRunes(transcript, c.transcriptCut),
		"requirements": requirementsJSON(reqs),
	})
	raw, err := c.generate(ctx, TaskSummary, summarySystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	s, err := ParseSummary(raw)
	if err != nil {
		c.logger.Warn().Err(err).Str("reply", truncateRunes(raw, 300)).Msg("invalid summary reply")
		return nil, err
	}
	return s, nil
}

// EvaluateFit compares resume text with job text. Unparseable replies return
// ErrMalformedResponse.
func (c *Chat) EvaluateFit(ctx context.Context, resumeText, jobText string) (*FitEvaluation, error) {
	prompt := render(fitPromptTemplate, map[string]string{"resume": resumeText, "job": jobText})
	raw, err := c.generate(ctx, TaskFitEvaluation, fitSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	ev, err := ParseFitEvaluation(raw)
	if err != nil {
		c.logger.Warn().Err(err).Str("reply", truncateRunes(raw, 300)).Msg("invalid fit evaluation reply")
		return nil, err
	}
	return ev, nil
}

// ExtractContact reads name/email/phone from the head of a resume. Fields the
// model leaves empty are filled from regex matches.
func (c *Chat) ExtractContact(ctx context.Context, text string) (*Contact, error) {
	head := truncateRunes(text, 2000)
	fallback := ContactFromText(head)

	raw, err := c.generate(ctx, TaskContact, qaSystemPrompt, render(contactPromptTemplate, map[string]string{"text": head}))
	if err != nil {
		return fallback, err
	}
	js := ExtractJSON(raw)
	var got Contact
	if js == "" || json.Unmarshal([]byte(js), &got) != nil {
		return fallback, fmt.Errorf("%w: contact reply", ErrMalformedResponse)
	}
	got.Name = strings.TrimSpace(got.Name)
	got.Email = strings.TrimSpace(got.Email)
	got.Phone = strings.TrimSpace(got.Phone)
	if got.Name == "" {
		got.Name = fallback.Name
	}
	if got.Email == "" {
		got.Email = fallback.Email
	}
	if got.Phone == "" {
		got.Phone = fallback.Phone
	}
	return &got, nil
}

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
)

// ContactFromText is the regex-only contact extraction: first email, first phone-like
// run, and the first non-empty line as name when it has no digits or '@'.
func ContactFromText(text string) *Contact {
	c := &Contact{
		Email: emailRe.FindString(text),
		Phone: strings.TrimSpace(phoneRe.FindString(text)),
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.ContainsAny(line, "@0123456789") && len([]rune(line)) <= 60 {
			c.Name = line
		}
		break
	}
	return c
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
