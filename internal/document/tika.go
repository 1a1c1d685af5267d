package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// tikaClient Apache Tika 服务端纯文本提取
type tikaClient struct {
	serverURL   string
	client      *http.Client
	annotations bool
}

// Option 提取器选项
type Option func(*Extractor)

// WithTika 配置 Tika 服务地址，配置后非纯文本文件优先走 Tika，失败时回退本地解析
func WithTika(serverURL string, timeout time.Duration) Option {
	return func(e *Extractor) {
		if strings.TrimSpace(serverURL) == "" {
			return
		}
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		e.tika = &tikaClient{
			serverURL:   strings.TrimRight(serverURL, "/"),
			client:      &http.Client{Timeout: timeout},
			annotations: true,
		}
	}
}

// WithTikaAnnotations 是否提取 PDF 链接注释文本，默认提取
func WithTikaAnnotations(on bool) Option {
	return func(e *Extractor) {
		if e.tika != nil {
			e.tika.annotations = on
		}
	}
}

func (t *tikaClient) extract(ctx context.Context, data []byte, filename, mime string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.serverURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("创建Tika请求失败: %w", err)
	}
	req.Header.Set("Content-Type", mime)
	req.Header.Set("Accept", "text/plain")
	if filename != "" {
		req.Header.Set("X-Tika-Resource-Name", filename)
	}
	if !t.annotations {
		req.Header.Set("X-Tika-PDFExtractAnnotationText", "false")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("发送请求到Tika服务器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tika服务器返回错误状态码: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取Tika响应失败: %w", err)
	}
	return string(body), nil
}
