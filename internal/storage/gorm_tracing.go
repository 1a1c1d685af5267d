package storage

import (
	"context"
	"errors"
	"fmt"

	"elexis-pipeline/internal/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var mysqlTracer = otel.Tracer("elexis-pipeline/storage/mysql")

type gormSpanKey struct{}

// GormTracingPlugin 为 gorm 的每类回调创建 client span
type GormTracingPlugin struct {
	tracer         trace.Tracer
	dbName         string
	disableErrSkip bool
}

// NewGormTracingPlugin 创建追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:         mysqlTracer,
		dbName:         dbName,
		disableErrSkip: true,
	}
}

// WithDisableErrSkip SkipHooks 的语句不建 span
func (p *GormTracingPlugin) WithDisableErrSkip(disable bool) *GormTracingPlugin {
	p.disableErrSkip = disable
	return p
}

func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		op   string
		name string
		bef  func(string, func(*gorm.DB)) error
		aft  func(string, func(*gorm.DB)) error
	}{
		{"CREATE", "create", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"SELECT", "query", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"UPDATE", "update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"DELETE", "delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"ROW", "row", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
		{"RAW", "raw", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}
	for _, h := range hooks {
		if err := h.bef("otel:before_"+h.name, p.before(h.op)); err != nil {
			return fmt.Errorf("register before_%s: %w", h.name, err)
		}
		if err := h.aft("otel:after_"+h.name, p.after()); err != nil {
			return fmt.Errorf("register after_%s: %w", h.name, err)
		}
	}
	return nil
}

func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		if p.disableErrSkip && db.Statement.SkipHooks {
			return
		}
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}
		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}

		attrs := []attribute.KeyValue{
			semconv.DBSystemMySQL,
			attribute.String("db.name", p.dbName),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		}
		if sql := db.Statement.SQL.String(); sql != "" {
			attrs = append(attrs, attribute.String("db.statement", tracing.SafeSQL(sql)))
		}

		newCtx, span := p.tracer.Start(ctx, operation+" "+table,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attrs...),
		)
		db.Statement.Context = context.WithValue(newCtx, gormSpanKey{}, span)
	}
}

func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span, ok := db.Statement.Context.Value(gormSpanKey{}).(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
		switch {
		case db.Error == nil:
			span.SetStatus(codes.Ok, "")
		case errors.Is(db.Error, gorm.ErrRecordNotFound):
			// 查不到记录属于正常业务分支
			span.SetAttributes(attribute.String("error.type", "record_not_found"))
			span.SetStatus(codes.Ok, "record not found")
		default:
			tracing.RecordError(span, db.Error, tracing.ErrorTypeDB)
		}
	}
}
