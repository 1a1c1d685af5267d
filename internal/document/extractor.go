// Package document 简历文件转文本: PDF 走 eino-ext PDF 解析器，DOC/DOCX/ODT/RTF 走 docconv。
// 配置了 Tika 服务时优先使用 Tika。
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/rs/zerolog"
)

// ErrUnsupportedFormat 无法识别的文件类型
var ErrUnsupportedFormat = errors.New("document: unsupported format")

// ErrEmptyText 解析成功但没有文本，常见于扫描件
var ErrEmptyText = errors.New("document: no text extracted")

const (
	MimePDF  = "application/pdf"
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDOC  = "application/msword"
	MimeODT  = "application/vnd.oasis.opendocument.text"
	MimeRTF  = "application/rtf"
	MimeText = "text/plain"
)

// Extractor 文本提取器
type Extractor struct {
	pdf     *pdf.PDFParser
	tika    *tikaClient
	timeout time.Duration
	logger  zerolog.Logger
}

// NewExtractor 创建提取器，PDF 整份输出为一个文档
func NewExtractor(ctx context.Context, logger zerolog.Logger, opts ...Option) (*Extractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
	if err != nil {
		return nil, fmt.Errorf("failed to create Eino PDF parser: %w", err)
	}
	e := &Extractor{pdf: p, timeout: 30 * time.Second, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// DetectMIME 以 contentType 为准，缺失或为 octet-stream 时按扩展名和文件头判断
func DetectMIME(data []byte, filename, contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ct != "" && ct != "application/octet-stream" && ct != "binary/octet-stream" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return MimePDF
	case ".docx":
		return MimeDOCX
	case ".doc":
		return MimeDOC
	case ".odt":
		return MimeODT
	case ".rtf":
		return MimeRTF
	case ".txt", ".md":
		return MimeText
	}
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return MimePDF
	}
	if bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return MimeDOCX
	}
	if utf8.Valid(data) {
		return MimeText
	}
	return ""
}

// Extract 返回文档全文
func (e *Extractor) Extract(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	start := time.Now()
	mime := DetectMIME(data, filename, contentType)

	var (
		text string
		err  error
	)
	if e.tika != nil && mime != MimeText && mime != "" {
		text, err = e.tika.extract(ctx, data, filename, mime)
		if err == nil && strings.TrimSpace(text) != "" {
			return e.done(text, filename, "tika", start)
		}
		e.logger.Warn().Err(err).Str("file", filename).Msg("tika extraction failed, using local parser")
	}

	switch mime {
	case MimePDF:
		text, err = e.extractPDF(ctx, data, filename)
	case MimeDOCX, MimeDOC, MimeODT, MimeRTF:
		text, err = extractOffice(data, mime)
	case MimeText:
		text = string(data)
	default:
		return "", fmt.Errorf("%w: %q (%s)", ErrUnsupportedFormat, filename, contentType)
	}
	if err != nil {
		return "", err
	}

	return e.done(text, filename, mime, start)
}

func (e *Extractor) done(text, filename, via string, start time.Time) (string, error) {
	text = strings.TrimSpace(text)
	e.logger.Debug().
		Str("file", filename).
		Str("via", via).
		Int("chars", len(text)).
		Dur("took", time.Since(start)).
		Msg("document text extracted")
	if text == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyText, filename)
	}
	return text, nil
}

func (e *Extractor) extractPDF(ctx context.Context, data []byte, uri string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	docs, err := e.pdf.Parse(ctx, bytes.NewReader(data), einoParser.WithURI(uri))
	if err != nil {
		return "", fmt.Errorf("Eino PDF parser failed for %s: %w", uri, err)
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d != nil && d.Content != "" {
			parts = append(parts, d.Content)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func extractOffice(data []byte, mime string) (string, error) {
	res, err := docconv.Convert(bytes.NewReader(data), mime, true)
	if err != nil {
		return "", fmt.Errorf("docconv %s: %w", mime, err)
	}
	return res.Body, nil
}
