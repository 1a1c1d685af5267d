package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"elexis-pipeline/internal/config"
	"elexis-pipeline/internal/tracing"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var qdrantTracer = otel.Tracer("elexis-pipeline/storage/qdrant")

// ErrNoMatch 相似度查询没有命中目标向量
var ErrNoMatch = fmt.Errorf("vector similarity: no match found: %w", ErrNotFound)

const (
	payloadNamespace = "namespace"
	payloadVectorID  = "vector_id"
)

// Vector 待写入的向量
type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]interface{}
}

// VectorMatch 查询结果
type VectorMatch struct {
	ID       string
	Score    float64
	Metadata map[string]interface{}
}

// VectorIndex 按组织命名空间隔离的向量检索
type VectorIndex interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]interface{}) ([]VectorMatch, error)
	Fetch(ctx context.Context, namespace string, ids []string) (map[string][]float32, error)
	Similarity(ctx context.Context, id1, id2, namespace string) (float64, error)
}

var _ VectorIndex = (*Qdrant)(nil)

// Qdrant REST 客户端。命名空间通过 payload 字段过滤实现。
type Qdrant struct {
	endpoint       string
	collectionName string
	vectorSize     int
	distanceMetric string
	apiKey         string
	httpClient     *http.Client
}

// QdrantOption 选项
type QdrantOption func(*Qdrant)

// WithDistanceMetric 距离度量，默认 Cosine
func WithDistanceMetric(metric string) QdrantOption {
	return func(q *Qdrant) {
		q.distanceMetric = metric
	}
}

// WithHTTPClient 替换 HTTP 客户端
func WithHTTPClient(c *http.Client) QdrantOption {
	return func(q *Qdrant) {
		q.httpClient = c
	}
}

// NewQdrant 创建客户端并确保集合存在
func NewQdrant(ctx context.Context, cfg *config.QdrantConfig, opts ...QdrantOption) (*Qdrant, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("qdrant配置不能为空")
	}
	q := &Qdrant{
		endpoint:       strings.TrimRight(cfg.Endpoint, "/"),
		collectionName: cfg.Collection,
		vectorSize:     cfg.Dimension,
		distanceMetric: "Cosine",
		apiKey:         cfg.APIKey,
		httpClient:     &http.Client{Timeout: config.GetDuration(cfg.Timeout, 30*time.Second)},
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.ensureCollectionExists(ctx); err != nil {
		return nil, fmt.Errorf("确保集合 '%s' 存在失败: %w", q.collectionName, err)
	}
	return q, nil
}

func (q *Qdrant) ensureCollectionExists(ctx context.Context) error {
	path := "/collections/" + q.collectionName
	err := q.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err == nil {
		return nil
	}
	var se *qdrantStatusError
	if !errors.As(err, &se) || se.status != http.StatusNotFound {
		return err
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.vectorSize,
			"distance": q.distanceMetric,
		},
	}
	if err := q.doRequest(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	// namespace 与 vector_id 建 keyword 索引
	for _, field := range []string{payloadNamespace, payloadVectorID} {
		idx := map[string]interface{}{"field_name": field, "field_schema": "keyword"}
		if err := q.doRequest(ctx, http.MethodPut, path+"/index", idx, nil); err != nil {
			return fmt.Errorf("create payload index %s: %w", field, err)
		}
	}
	return nil
}

// PointID 业务向量 ID 到 Qdrant 点 ID 的确定性映射
func PointID(namespace, id string) string {
	return uuid.NewV5(uuid.NamespaceURL, "elexis:"+namespace+":"+id).String()
}

type qdrantPoint struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
	Score   float64                `json:"score,omitempty"`
}

func (q *Qdrant) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	points := make([]qdrantPoint, 0, len(vectors))
	for _, v := range vectors {
		if q.vectorSize > 0 && len(v.Values) != q.vectorSize {
			return fmt.Errorf("vector %s has dimension %d, want %d", v.ID, len(v.Values), q.vectorSize)
		}
		payload := make(map[string]interface{}, len(v.Metadata)+2)
		for k, val := range v.Metadata {
			payload[k] = val
		}
		payload[payloadNamespace] = namespace
		payload[payloadVectorID] = v.ID
		points = append(points, qdrantPoint{ID: PointID(namespace, v.ID), Vector: v.Values, Payload: payload})
	}
	path := fmt.Sprintf("/collections/%s/points?wait=true", q.collectionName)
	return q.doRequest(ctx, http.MethodPut, path, map[string]interface{}{"points": points}, nil)
}

// Query 在命名空间内检索最近邻。filter 的值为切片时按 match any 处理。
func (q *Qdrant) Query(ctx context.Context, namespace string, vector []float32, topK int, filter map[string]interface{}) ([]VectorMatch, error) {
	if topK <= 0 {
		topK = 10
	}
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"filter":       buildFilter(namespace, filter),
	}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", q.collectionName)
	if err := q.doRequest(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	out := make([]VectorMatch, 0, len(resp.Result))
	for _, p := range resp.Result {
		id, _ := p.Payload[payloadVectorID].(string)
		if id == "" {
			id = p.ID
		}
		out = append(out, VectorMatch{ID: id, Score: p.Score, Metadata: p.Payload})
	}
	return out, nil
}

// Fetch 按业务 ID 取原始向量，缺失的 ID 不出现在结果中
func (q *Qdrant) Fetch(ctx context.Context, namespace string, ids []string) (map[string][]float32, error) {
	pointIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, PointID(namespace, id))
	}
	var resp struct {
		Result []qdrantPoint `json:"result"`
	}
	body := map[string]interface{}{"ids": pointIDs, "with_vector": true, "with_payload": true}
	path := fmt.Sprintf("/collections/%s/points", q.collectionName)
	if err := q.doRequest(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	out := make(map[string][]float32, len(resp.Result))
	for _, p := range resp.Result {
		if ns, _ := p.Payload[payloadNamespace].(string); ns != namespace {
			continue
		}
		id, _ := p.Payload[payloadVectorID].(string)
		out[id] = p.Vector
	}
	return out, nil
}

// Similarity 取 id1 的向量，在命名空间内限定 id2 做 top-1 检索，命中 id2 时返回其得分。
// id2 带 "resume-" 前缀时同时匹配去掉前缀的旧 ID。
func (q *Qdrant) Similarity(ctx context.Context, id1, id2, namespace string) (float64, error) {
	vecs, err := q.Fetch(ctx, namespace, []string{id1})
	if err != nil {
		return 0, fmt.Errorf("fetch %s: %w", id1, err)
	}
	v, ok := vecs[id1]
	if !ok || len(v) == 0 {
		return 0, fmt.Errorf("vector %s in %s: %w", id1, namespace, ErrNotFound)
	}

	candidates := []string{id2}
	if trimmed := strings.TrimPrefix(id2, "resume-"); trimmed != id2 {
		candidates = append(candidates, trimmed)
	}
	matches, err := q.Query(ctx, namespace, v, 1, map[string]interface{}{payloadVectorID: candidates})
	if err != nil {
		return 0, fmt.Errorf("query similarity %s~%s: %w", id1, id2, err)
	}
	if len(matches) == 0 || matches[0].ID != id2 {
		return 0, fmt.Errorf("%s~%s in %s: %w", id1, id2, namespace, ErrNoMatch)
	}
	return matches[0].Score, nil
}

func buildFilter(namespace string, filter map[string]interface{}) map[string]interface{} {
	must := []map[string]interface{}{
		{"key": payloadNamespace, "match": map[string]interface{}{"value": namespace}},
	}
	for key, val := range filter {
		switch v := val.(type) {
		case []string:
			must = append(must, map[string]interface{}{"key": key, "match": map[string]interface{}{"any": v}})
		default:
			must = append(must, map[string]interface{}{"key": key, "match": map[string]interface{}{"value": v}})
		}
	}
	return map[string]interface{}{"must": must}
}

type qdrantStatusError struct {
	status int
	body   string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant API error: status=%d, body=%s", e.status, tracing.TruncateString(e.body, tracing.DefaultMaxLength))
}

func (q *Qdrant) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	ctx, span := qdrantTracer.Start(ctx, method+" "+strings.SplitN(path, "?", 2)[0],
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.collection", q.collectionName),
		attribute.String("net.peer.name", q.endpoint),
	)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return err
		}
		reader = bytes.NewReader(payload)
		span.SetAttributes(attribute.Int("http.request.body.size", len(payload)))
	}

	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+path, reader)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &qdrantStatusError{status: resp.StatusCode, body: string(respBody)}
		tracing.RecordHTTPError(span, se, resp.StatusCode)
		return se
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
