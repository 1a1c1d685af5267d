package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType 错误分类，写入 span 的 error.type 属性
type ErrorType string

const (
	ErrorTypeHTTP       ErrorType = "http"
	ErrorTypeDB         ErrorType = "db"
	ErrorTypeRedis      ErrorType = "redis"
	ErrorTypeRabbitMQ   ErrorType = "rabbitmq"
	ErrorTypeVectorDB   ErrorType = "vector_db"
	ErrorTypeBlobStore  ErrorType = "blob_store"
	ErrorTypeEnrichment ErrorType = "enrichment"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
)

// RecordError 记录错误并把 span 状态置为 Error
func RecordError(span trace.Span, err error, errorType ErrorType, attrs ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", TruncateString(err.Error(), DefaultMaxLength)),
	)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	span.SetStatus(codes.Error, err.Error())
}

// RecordHTTPError 记录带状态码的 HTTP 错误
func RecordHTTPError(span trace.Span, err error, statusCode int) {
	if span == nil || err == nil {
		return
	}
	category := "unknown"
	switch {
	case statusCode >= 400 && statusCode < 500:
		category = "client_error"
	case statusCode >= 500:
		category = "server_error"
	}
	RecordError(span, err, ErrorTypeHTTP,
		attribute.Int("http.status_code", statusCode),
		attribute.String("error.category", category),
	)
}

// RecordRejected 记录被消费者拒绝、转入重投队列的消息
func RecordRejected(span trace.Span, messageType string, reason string) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String("error.type", string(ErrorTypeRabbitMQ)),
		attribute.String("messaging.message_type", messageType),
		attribute.String("messaging.outcome", "rejected"),
	)
	span.SetStatus(codes.Error, TruncateString(reason, DefaultMaxLength))
}
