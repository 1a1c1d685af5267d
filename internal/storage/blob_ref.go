package storage

import (
	"fmt"
	"net/url"
	"strings"
)

// BlobRef bucket + key
type BlobRef struct {
	Bucket string
	Key    string
}

func (r BlobRef) String() string {
	return r.Bucket + "/" + r.Key
}

// Sibling 同桶下 key 追加后缀的对象，例如转写 JSON: <key>.json
func (r BlobRef) Sibling(suffix string) BlobRef {
	return BlobRef{Bucket: r.Bucket, Key: r.Key + suffix}
}

// ParseBlobRef 解析消息里的对象地址。支持 s3://bucket/key、
// 虚拟主机风格 https://bucket.s3[.region].amazonaws.com/key、
// 路径风格 https://host/bucket/key，以及直接给出的 key (落到 defaultBucket)。
func ParseBlobRef(raw, defaultBucket string) (BlobRef, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return BlobRef{}, fmt.Errorf("empty blob reference")
	}

	if !strings.Contains(raw, "://") {
		if defaultBucket == "" {
			return BlobRef{}, fmt.Errorf("blob key %q has no bucket", raw)
		}
		return BlobRef{Bucket: defaultBucket, Key: strings.TrimPrefix(raw, "/")}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return BlobRef{}, fmt.Errorf("parse blob url: %w", err)
	}
	path := strings.TrimPrefix(u.Path, "/")

	switch {
	case u.Scheme == "s3":
		if u.Host == "" || path == "" {
			return BlobRef{}, fmt.Errorf("invalid s3 url %q", raw)
		}
		return BlobRef{Bucket: u.Host, Key: path}, nil

	case isVirtualHostS3(u.Hostname()):
		bucket := u.Hostname()[:strings.Index(u.Hostname(), ".s3")]
		if path == "" {
			return BlobRef{}, fmt.Errorf("blob url %q has no key", raw)
		}
		return BlobRef{Bucket: bucket, Key: path}, nil

	default:
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return BlobRef{}, fmt.Errorf("blob url %q is not bucket/key", raw)
		}
		return BlobRef{Bucket: parts[0], Key: parts[1]}, nil
	}
}

func isVirtualHostS3(host string) bool {
	i := strings.Index(host, ".s3")
	return i > 0 && strings.HasSuffix(host, ".amazonaws.com")
}
