package router

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"elexis-pipeline/internal/api/handler"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
)

// APIKeyHeader 运维接口的认证头
const APIKeyHeader = "X-API-Key"

var errInvalidKey = errors.New("invalid api key")

// NewServer 创建带链路追踪与访问日志的 Hertz 服务并注册路由
func NewServer(address string, ops *handler.OpsHandler, apiKeys []string) *server.Hertz {
	tracer, tracingCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(address),
		server.WithHandleMethodNotAllowed(true),
		server.WithExitWaitTime(5*time.Second),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracingCfg))
	h.Use(accessLog)
	RegisterRoutes(h, ops, apiKeys)
	return h
}

func accessLog(c context.Context, ctx *app.RequestContext) {
	start := time.Now()
	ctx.Next(c)
	hlog.CtxInfof(c, "%s %s status=%d elapsed=%s",
		string(ctx.Method()), string(ctx.Path()), ctx.Response.StatusCode(), time.Since(start))
}

// RegisterRoutes 注册 API 路由。apiKeys 为空时 /api/v1 不做认证。
func RegisterRoutes(h *server.Hertz, ops *handler.OpsHandler, apiKeys []string) {
	h.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	api := h.Group("/api/v1")
	if len(apiKeys) > 0 {
		api.Use(apiKeyAuth(apiKeys))
	} else {
		hlog.Warn("no ops api keys configured, /api/v1 is unauthenticated")
	}

	api.POST("/scores/:score_id/recompute", ops.RecomputeScore)
	api.POST("/scores/:score_id/evaluate", ops.EvaluateScore)
	api.POST("/jobs/:job_id/rank", ops.RankJob)
	api.POST("/jobs/:job_id/suggestions", ops.SuggestCandidates)
	api.POST("/embeddings", ops.GenerateEmbedding)
	api.POST("/sweeps/not-joined", ops.SweepNotJoined)

	api.GET("/uploads/:batch_job_id", ops.UploadStatus)
	api.GET("/organizations/:org_id/uploads", ops.RecentUploads)
	api.GET("/interviews/:interview_id/transcript-url", ops.TranscriptURL)
}

func apiKeyAuth(keys []string) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:"+APIKeyHeader, ""),
		keyauth.WithValidator(func(_ context.Context, _ *app.RequestContext, key string) (bool, error) {
			for _, k := range keys {
				if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
					return true, nil
				}
			}
			return false, errInvalidKey
		}),
		keyauth.WithErrorHandler(func(_ context.Context, ctx *app.RequestContext, err error) {
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": err.Error()})
		}),
	)
}
