package tracing

import (
	"strings"
	"unicode/utf8"
)

// span 属性和日志字段的长度上限
const (
	DefaultMaxLength = 200
	MaxSQLLength     = 500
	MaxRedisLength   = 100
	MaxProviderBody  = 2000
)

const ellipsis = "..."

// TruncateString 超过 maxLength 个字符时截断，末尾追加省略号
func TruncateString(s string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLength {
		return s
	}
	runes := []rune(s)
	if maxLength <= len(ellipsis) {
		return string(runes[:maxLength])
	}
	return string(runes[:maxLength-len(ellipsis)]) + ellipsis
}

// MaskPII 只保留首字符
func MaskPII(value string) string {
	first, size := utf8.DecodeRuneInString(value)
	if size == 0 {
		return ""
	}
	rest := utf8.RuneCountInString(value) - 1
	return string(first) + strings.Repeat("*", max(rest, 1))
}

// MaskEmail ann@example.com -> a**@example.com，域名保留用于排查
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(strings.TrimSpace(email), "@")
	if !ok || local == "" || domain == "" {
		return MaskPII(email)
	}
	return MaskPII(local) + "@" + domain
}

// SafeSQL 截断 SQL 语句
func SafeSQL(sql string) string {
	return TruncateString(sql, MaxSQLLength)
}

// SafeRedisKey 截断 Redis 键
func SafeRedisKey(key string) string {
	return TruncateString(key, MaxRedisLength)
}
