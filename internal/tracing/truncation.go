package tracing

import (
	"strings"
)

const (
	// DefaultMaxLength 默认属性长度上限
	DefaultMaxLength = 200
	// MaxSQLLength SQL语句长度上限
	MaxSQLLength = 500
	// MaxBodyLength 消息体长度上限
	MaxBodyLength = 300
)

// 属性名包含这些关键字时做掩码
var piiKeywords = []string{"email", "phone", "password", "secret", "token", "name", "api_key"}

// SafeAttributeValue 对敏感字段掩码，其余按长度截断
func SafeAttributeValue(name, value string, maxLength int) string {
	lower := strings.ToLower(name)
	for _, kw := range piiKeywords {
		if strings.Contains(lower, kw) {
			return MaskPII(value)
		}
	}
	return TruncateString(value, maxLength)
}

// MaskPII 保留首尾字符，中间替换为 *
func MaskPII(value string) string {
	runes := []rune(value)
	n := len(runes)
	switch {
	case n == 0:
		return ""
	case n == 1:
		return "*"
	case n == 2:
		return string(runes[0]) + "*"
	case n <= 4:
		return string(runes[0]) + strings.Repeat("*", n-2) + string(runes[n-1])
	}
	return string(runes[:2]) + strings.Repeat("*", n-4) + string(runes[n-2:])
}

// TruncateString 超长时保留首尾，中间用 ... 连接
func TruncateString(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	half := (maxLength - 3) / 2
	if half < 1 {
		half = 1
	}
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

// SafeSQL 截断 SQL
func SafeSQL(sql string) string {
	return TruncateString(sql, MaxSQLLength)
}

// SafeBody 截断消息体
func SafeBody(body []byte) string {
	return TruncateString(string(body), MaxBodyLength)
}
