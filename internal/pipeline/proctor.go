package pipeline

import (
	"context"

	"elexis-pipeline/internal/storage"
)

// RecordProctoring appends a proctoring video to the interview held in the room.
// Repeated URLs are ignored.
func (p *Pipeline) RecordProctoring(ctx context.Context, m ProctorMessage) error {
	iv, err := p.store.FindInterview(ctx, storage.InterviewRef{MeetingRoom: m.RoomURL})
	if err != nil {
		return stepError("find interview", m.Ref(), err)
	}
	added, err := p.store.AppendProctoringVideo(ctx, iv.ID, m.VideoURL)
	if err != nil {
		return stepError("append proctoring video", iv.ID, err)
	}
	p.logger.Info().Str("interview_id", iv.ID).Bool("added", added).Msg("proctoring video recorded")
	return nil
}
