package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"elexis-pipeline/internal/tracing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultChatCompletionsURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"

var chatTracer = otel.Tracer("elexis-pipeline/enrichment")

// OpenAIChatModel is an eino ToolCallingChatModel over any OpenAI-compatible
// chat/completions endpoint.
type OpenAIChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature *float32
	jsonMode    bool
	httpClient  *http.Client
	tools       []openAITool
	logger      zerolog.Logger
}

var _ model.ToolCallingChatModel = (*OpenAIChatModel)(nil)

type OpenAIOption func(*OpenAIChatModel)

func WithTemperature(t float32) OpenAIOption {
	return func(m *OpenAIChatModel) { m.temperature = &t }
}

// WithJSONMode sets response_format json_object on every request.
func WithJSONMode() OpenAIOption {
	return func(m *OpenAIChatModel) { m.jsonMode = true }
}

func WithHTTPTimeout(d time.Duration) OpenAIOption {
	return func(m *OpenAIChatModel) { m.httpClient = &http.Client{Timeout: d} }
}

func WithLogger(l zerolog.Logger) OpenAIOption {
	return func(m *OpenAIChatModel) { m.logger = l }
}

// NewOpenAIChatModel apiURL defaults to the DashScope compatible endpoint.
func NewOpenAIChatModel(apiKey, modelName, apiURL string, opts ...OpenAIOption) (*OpenAIChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		return nil, fmt.Errorf("模型名不能为空")
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultChatCompletionsURL
	}
	m := &OpenAIChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []openAIMessage   `json:"messages"`
	Tools          []openAITool      `json:"tools,omitempty"`
	Temperature    *float32          `json:"temperature,omitempty"`
	MaxTokens      *int              `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (m *OpenAIChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	opts := model.GetCommonOptions(&model.Options{Temperature: m.temperature, Model: &m.modelName}, options...)

	req := chatCompletionRequest{
		Model:       *opts.Model,
		Messages:    toOpenAIMessages(messages),
		Tools:       m.tools,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if m.jsonMode {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}

	ctx, span := chatTracer.Start(ctx, "chat.completions")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.messages", len(req.Messages)),
	)

	payload, err := json.Marshal(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEnrichment)
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(payload))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEnrichment)
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	m.logger.Debug().
		Str("model", req.Model).
		Int("status", httpResp.StatusCode).
		Dur("latency", time.Since(start)).
		Str("body", tracing.TruncateString(string(body), tracing.MaxBodyLength)).
		Msg("chat completion response")

	if httpResp.StatusCode != http.StatusOK {
		err := fmt.Errorf("API 请求失败，状态 %d %s: %s", httpResp.StatusCode, http.StatusText(httpResp.StatusCode),
			tracing.TruncateString(string(body), tracing.MaxBodyLength))
		tracing.RecordHTTPError(span, err, httpResp.StatusCode)
		return nil, err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEnrichment)
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("从 API 收到空选项")
		tracing.RecordError(span, err, tracing.ErrorTypeEnrichment)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", resp.Usage.CompletionTokens),
	)
	span.SetStatus(codes.Ok, "")

	return fromOpenAIMessage(resp.Choices[0].Message), nil
}

// Stream is not used by the pipeline.
func (m *OpenAIChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("OpenAIChatModel: Stream 未实现")
}

// WithTools returns a copy bound to tools; parameter schemas come from ParamsOneOf.
func (m *OpenAIChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound := make([]openAITool, 0, len(tools))
	for _, ti := range tools {
		if ti == nil {
			continue
		}
		params := json.RawMessage(`{"type":"object","properties":{}}`)
		if ti.ParamsOneOf != nil {
			s, err := ti.ParamsOneOf.ToOpenAPIV3()
			if err != nil {
				return nil, fmt.Errorf("tool %s params: %w", ti.Name, err)
			}
			if b, err := json.Marshal(s); err == nil {
				params = b
			}
		}
		bound = append(bound, openAITool{
			Type:     "function",
			Function: openAIFunction{Name: ti.Name, Description: ti.Desc, Parameters: params},
		})
	}
	cp := *m
	cp.tools = bound
	return &cp, nil
}

func toOpenAIMessages(messages []*schema.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages))
	for _, msg := range messages {
		content := msg.Content
		om := openAIMessage{Role: string(msg.Role), Content: &content, ToolCallID: msg.ToolCallID}
		for _, tc := range msg.ToolCalls {
			call := openAIToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Function.Name
			call.Function.Arguments = tc.Function.Arguments
			om.ToolCalls = append(om.ToolCalls, call)
		}
		out = append(out, om)
	}
	return out
}

func fromOpenAIMessage(am openAIMessage) *schema.Message {
	msg := &schema.Message{Role: schema.RoleType(am.Role)}
	if am.Content != nil {
		msg.Content = *am.Content
	}
	if msg.Role == "" {
		msg.Role = schema.Assistant
	}
	for _, tc := range am.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:       tc.ID,
			Function: schema.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	return msg
}
