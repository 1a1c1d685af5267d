package pipeline

import (
	"context"
	"fmt"
	"time"

	"elexis-pipeline/internal/storage"
	"elexis-pipeline/internal/tracker"
)

// UploadStatus returns the progress view of one upload batch.
func (p *Pipeline) UploadStatus(ctx context.Context, batchID string) (tracker.Status, error) {
	t, err := p.store.GetTracker(ctx, batchID)
	if err != nil {
		return tracker.Status{}, err
	}
	return tracker.Describe(t), nil
}

// RecentUploads lists an organization's latest batches, newest first.
func (p *Pipeline) RecentUploads(ctx context.Context, orgID string, limit int) ([]tracker.Status, error) {
	rows, err := p.store.RecentTrackers(ctx, orgID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]tracker.Status, 0, len(rows))
	for i := range rows {
		out = append(out, tracker.Describe(&rows[i]))
	}
	return out, nil
}

// TranscriptURL signs a read URL for an interview's transcript.
func (p *Pipeline) TranscriptURL(ctx context.Context, interviewID string, ttl time.Duration) (string, error) {
	if err := p.requireBlobs(); err != nil {
		return "", err
	}
	iv, err := p.store.FindInterview(ctx, storage.InterviewRef{ID: interviewID})
	if err != nil {
		return "", err
	}
	if !present(iv.Transcript) {
		return "", fmt.Errorf("interview %s has no transcript: %w", interviewID, storage.ErrNotFound)
	}
	ref, err := storage.ParseBlobRef(*iv.Transcript, p.settings.TranscriptBucket)
	if err != nil {
		return "", err
	}
	return p.blobs.SignedURL(ctx, ref.Bucket, ref.Key, ttl)
}
