package pipeline

import (
	"context"

	"elexis-pipeline/internal/enrichment"

	"github.com/rs/zerolog"
)

// QAExtractor is the part of Enrichment the normalizer needs.
type QAExtractor interface {
	ExtractQA(ctx context.Context, transcript string, corrective bool) (string, error)
}

// Normalizer turns a raw transcript into question/answer pairs.
type Normalizer struct {
	model    QAExtractor
	attempts int
	logger   zerolog.Logger
}

func NewNormalizer(model QAExtractor, attempts int, logger zerolog.Logger) *Normalizer {
	if attempts <= 0 {
		attempts = 3
	}
	return &Normalizer{model: model, attempts: attempts, logger: logger}
}

// Normalize asks the model for Q&A pairs and validates the reply. After a bad
// reply the next attempt carries a corrective instruction. When every attempt
// fails it returns an empty slice; callers skip the transcript.
func (n *Normalizer) Normalize(ctx context.Context, transcript string) []enrichment.QAPair {
	corrective := false
	for attempt := 1; attempt <= n.attempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		raw, err := n.model.ExtractQA(ctx, transcript, corrective)
		if err == nil {
			pairs, perr := enrichment.ParseQAPairs(raw)
			if perr == nil && len(pairs) > 0 {
				return pairs
			}
			err = perr
			corrective = true
		}
		n.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", n.attempts).
			Msg("transcript normalization failed")
	}
	return nil
}
