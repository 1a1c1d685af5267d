package handler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"elexis-pipeline/internal/pipeline"
	"elexis-pipeline/internal/storage"
	"elexis-pipeline/internal/tracker"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RequestIDHeader 调用方可指定重新触发的 request_id
const RequestIDHeader = "X-Request-ID"

// Service 运维接口依赖的查询能力，*pipeline.Pipeline 实现
type Service interface {
	UploadStatus(ctx context.Context, batchID string) (tracker.Status, error)
	RecentUploads(ctx context.Context, orgID string, limit int) ([]tracker.Status, error)
	TranscriptURL(ctx context.Context, interviewID string, ttl time.Duration) (string, error)
	SweepNotJoined(ctx context.Context) (int64, error)
}

var _ Service = (*pipeline.Pipeline)(nil)

// Publisher 直接投递到主交换机，*storage.RabbitMQ 实现
type Publisher interface {
	PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error
}

// OpsHandler 运维接口: 手动重新触发流水线消息，查询上传进度
type OpsHandler struct {
	svc        Service
	publisher  Publisher
	exchange   string
	routingKey string
	signedTTL  time.Duration
	logger     zerolog.Logger
}

type OpsOption func(*OpsHandler)

// WithSignedURLTTL 转写下载链接有效期，默认 15 分钟
func WithSignedURLTTL(ttl time.Duration) OpsOption {
	return func(h *OpsHandler) {
		if ttl > 0 {
			h.signedTTL = ttl
		}
	}
}

func NewOpsHandler(svc Service, publisher Publisher, exchange, routingKey string, logger zerolog.Logger, opts ...OpsOption) *OpsHandler {
	h := &OpsHandler{
		svc:        svc,
		publisher:  publisher,
		exchange:   exchange,
		routingKey: routingKey,
		signedTTL:  15 * time.Minute,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RecomputeScore POST /api/v1/scores/:score_id/recompute
func (h *OpsHandler) RecomputeScore(ctx context.Context, c *app.RequestContext) {
	h.publish(ctx, c, pipeline.ScoreMessage{ScoreID: c.Param("score_id")})
}

// EvaluateScore POST /api/v1/scores/:score_id/evaluate?batch_job_id=
func (h *OpsHandler) EvaluateScore(ctx context.Context, c *app.RequestContext) {
	h.publish(ctx, c, pipeline.AIEvaluationMessage{
		ScoreID:    c.Param("score_id"),
		BatchJobID: c.Query("batch_job_id"),
	})
}

// RankJob POST /api/v1/jobs/:job_id/rank
func (h *OpsHandler) RankJob(ctx context.Context, c *app.RequestContext) {
	h.publish(ctx, c, pipeline.RankMessage{JobID: c.Param("job_id")})
}

// SuggestCandidates POST /api/v1/jobs/:job_id/suggestions?candidate_id=
func (h *OpsHandler) SuggestCandidates(ctx context.Context, c *app.RequestContext) {
	h.publish(ctx, c, pipeline.SuggestionMessage{
		JobID:       c.Param("job_id"),
		CandidateID: c.Query("candidate_id"),
	})
}

type embeddingRequest struct {
	CandidateID string `json:"candidate_id"`
	JobID       string `json:"job_id"`
	Namespace   string `json:"organization_namespace"`
}

// GenerateEmbedding POST /api/v1/embeddings
func (h *OpsHandler) GenerateEmbedding(ctx context.Context, c *app.RequestContext) {
	var req embeddingRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid request body: " + err.Error()})
		return
	}
	h.publish(ctx, c, pipeline.EmbeddingMessage{
		CandidateID: req.CandidateID,
		JobID:       req.JobID,
		Namespace:   req.Namespace,
	})
}

// publish 编码后再解码一次，拒绝消费端会丢弃的消息
func (h *OpsHandler) publish(ctx context.Context, c *app.RequestContext, msg pipeline.Message) {
	requestID := string(c.GetHeader(RequestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	body, err := pipeline.Encode(msg, requestID)
	if err == nil {
		_, err = pipeline.Decode(body)
	}
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}

	log := h.logger.With().Str("type", msg.Type()).Str("ref", msg.Ref()).Str("request_id", requestID).Logger()
	if err := h.publisher.PublishMessage(ctx, h.exchange, h.routingKey, body, true); err != nil {
		log.Error().Err(err).Msg("re-trigger publish failed")
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "publish failed"})
		return
	}
	log.Info().Msg("message re-triggered")
	c.JSON(consts.StatusAccepted, utils.H{
		"type":       msg.Type(),
		"request_id": requestID,
	})
}

// UploadStatus GET /api/v1/uploads/:batch_job_id
func (h *OpsHandler) UploadStatus(ctx context.Context, c *app.RequestContext) {
	st, err := h.svc.UploadStatus(ctx, c.Param("batch_job_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(consts.StatusOK, st)
}

// RecentUploads GET /api/v1/organizations/:org_id/uploads?limit=
func (h *OpsHandler) RecentUploads(ctx context.Context, c *app.RequestContext) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := h.svc.RecentUploads(ctx, c.Param("org_id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"data": rows, "count": len(rows)})
}

// TranscriptURL GET /api/v1/interviews/:interview_id/transcript-url
func (h *OpsHandler) TranscriptURL(ctx context.Context, c *app.RequestContext) {
	url, err := h.svc.TranscriptURL(ctx, c.Param("interview_id"), h.signedTTL)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"url":        url,
		"expires_in": int(h.signedTTL.Seconds()),
	})
}

// SweepNotJoined POST /api/v1/sweeps/not-joined
func (h *OpsHandler) SweepNotJoined(ctx context.Context, c *app.RequestContext) {
	n, err := h.svc.SweepNotJoined(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"marked": n})
}

func (h *OpsHandler) fail(c *app.RequestContext, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
		return
	}
	h.logger.Error().Err(err).Str("path", string(c.Path())).Msg("ops request failed")
	c.JSON(consts.StatusInternalServerError, utils.H{"error": "internal error"})
}
