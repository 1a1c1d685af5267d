package enrichment

import (
	"context"
	"fmt"
	"strings"

	"elexis-pipeline/internal/config"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// generativeModels is the subset of *genai.Models the pipeline calls.
type generativeModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Gemini provides embeddings and document-based experience extraction.
type Gemini struct {
	models          generativeModels
	embeddingModel  string
	extractionModel string
	dimension       int32
	logger          zerolog.Logger
}

// NewGemini builds a Gemini API client from config.
func NewGemini(ctx context.Context, cfg config.GeminiConfig, logger zerolog.Logger) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGemini(client.Models, cfg, logger), nil
}

func newGemini(models generativeModels, cfg config.GeminiConfig, logger zerolog.Logger) *Gemini {
	return &Gemini{
		models:          models,
		embeddingModel:  cfg.EmbeddingModel,
		extractionModel: cfg.ExtractionModel,
		dimension:       int32(cfg.EmbeddingDimension),
		logger:          logger,
	}
}

// Embed returns the embedding of text.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embed: empty text")
	}
	cfg := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}
	if g.dimension > 0 {
		dim := g.dimension
		cfg.OutputDimensionality = &dim
	}
	resp, err := g.models.EmbedContent(ctx, g.embeddingModel, genai.Text(text), cfg)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embed content: %w: no embedding returned", ErrMalformedResponse)
	}
	return resp.Embeddings[0].Values, nil
}

// ExtractExperience sends the resume document inline and parses the work history.
func (g *Gemini) ExtractExperience(ctx context.Context, doc []byte, mimeType string) ([]ExperienceItem, error) {
	if len(doc) == 0 {
		return nil, fmt.Errorf("extract experience: empty document")
	}
	if mimeType == "" {
		mimeType = "application/pdf"
	}
	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{Text: experiencePrompt},
			{InlineData: &genai.Blob{Data: doc, MIMEType: mimeType}},
		},
	}}
	resp, err := g.models.GenerateContent(ctx, g.extractionModel, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("extract experience: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("extract experience: %w: empty reply", ErrMalformedResponse)
	}
	return ParseExperience(text)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
