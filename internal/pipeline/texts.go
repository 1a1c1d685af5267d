package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"

	"elexis-pipeline/internal/storage"
	"elexis-pipeline/internal/storage/models"
)

// loadResume 读取候选人简历原件
func (p *Pipeline) loadResume(ctx context.Context, cand *models.Candidate) ([]byte, error) {
	if cand.ResumeKey == "" {
		return nil, fmt.Errorf("candidate %s has no resume file: %w", cand.ID, storage.ErrNotFound)
	}
	if err := p.requireBlobs(); err != nil {
		return nil, err
	}
	bucket := cand.ResumeBucket
	if bucket == "" {
		bucket = p.settings.ResumeBucket
	}
	var data []byte
	err := p.retry(ctx, func(ctx context.Context) error {
		var err error
		data, err = p.blobs.Get(ctx, bucket, cand.ResumeKey)
		return err
	})
	if err != nil {
		return nil, stepError("get resume", bucket+"/"+cand.ResumeKey, err)
	}
	return data, nil
}

// resumeText 优先使用已保存的文本，否则从原件抽取并回写
func (p *Pipeline) resumeText(ctx context.Context, cand *models.Candidate) (string, error) {
	if strings.TrimSpace(cand.ResumeText) != "" {
		return cand.ResumeText, nil
	}
	if p.extractor == nil {
		return "", fmt.Errorf("candidate %s has no resume text and no extractor is configured", cand.ID)
	}
	data, err := p.loadResume(ctx, cand)
	if err != nil {
		return "", err
	}
	text, err := p.extractor.Extract(ctx, data, path.Base(cand.ResumeKey), cand.ResumeContentType)
	if err != nil {
		return "", stepError("extract resume text", cand.ID, err)
	}
	if err := p.store.SetCandidateResumeText(ctx, cand.ID, text); err != nil {
		p.logger.Warn().Err(err).Str("candidate_id", cand.ID).Msg("save resume text failed")
	}
	cand.ResumeText = text
	return text, nil
}

// jobText 岗位名称、描述和要求拼成一段文本
func (p *Pipeline) jobText(ctx context.Context, job *models.Job) (string, error) {
	reqs, err := p.store.ListRequirements(ctx, job.ID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Job title: ")
	b.WriteString(job.Name)
	if d := strings.TrimSpace(job.Description); d != "" {
		b.WriteString("\n\nDescription:\n")
		b.WriteString(d)
	}
	if len(reqs) > 0 {
		b.WriteString("\n\nRequirements:")
		for _, r := range reqs {
			fmt.Fprintf(&b, "\n- %s (weight %d)", r.Requirement, r.Weightage)
		}
	}
	return b.String(), nil
}

func (p *Pipeline) namespace(ctx context.Context, orgID string) (string, error) {
	org, err := p.store.GetOrganization(ctx, orgID)
	if err != nil {
		return "", err
	}
	return org.Namespace(), nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
