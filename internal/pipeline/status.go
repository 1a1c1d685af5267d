package pipeline

import (
	"context"
	"strings"

	"elexis-pipeline/internal/storage/models"
)

// IsFinalStatus reports whether automatic inference must leave status alone.
func IsFinalStatus(status string) bool {
	switch status {
	case models.InterviewEnded, models.InterviewAccepted, models.InterviewRejected, models.InterviewHold:
		return true
	}
	return false
}

// InferStatus derives an interview's status from the fields that are set. Final
// statuses are returned unchanged.
func InferStatus(iv *models.Interview) string {
	if IsFinalStatus(iv.Status) {
		return iv.Status
	}
	hasRoom := present(iv.MeetingRoom)
	switch {
	case present(iv.Transcript):
		return models.InterviewEnded
	case hasRoom && iv.Status != models.InterviewStarted:
		return models.InterviewStarted
	case present(iv.Link) && !hasRoom && iv.Status != models.InterviewScheduled:
		return models.InterviewScheduled
	}
	return iv.Status
}

func present(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

// SweepNotJoined marks interviews still scheduled NotJoinedGrace after their start
// as not_joined.
func (p *Pipeline) SweepNotJoined(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.settings.NotJoinedGrace)
	n, err := p.store.MarkNotJoined(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info().Int64("interviews", n).Time("cutoff", cutoff).Msg("marked not_joined")
	}
	return n, nil
}
