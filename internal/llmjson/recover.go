package llmjson

import (
	"encoding/json"
	"strings"
)

const fence = "```"

// Sanitize 去掉首尾空白、BOM以及包裹在外层的Markdown代码围栏。
// 围栏之间的内容保持不变；没有围栏时只做空白裁剪。多次调用结果相同。
func Sanitize(raw string) string {
	s := raw
	for {
		next := sanitizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

func sanitizeOnce(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\uFEFF"))

	if strings.HasPrefix(s, fence) {
		s = s[len(fence):]
		s = s[languageTagLen(s):]
	}
	if strings.HasSuffix(s, fence) {
		s = s[:len(s)-len(fence)]
	}
	return strings.TrimSpace(s)
}

// languageTagLen 返回开头围栏后语言标记（如 json、JSON、js）的长度。
// 只有单词后紧跟换行或文本结束，或者单词本身是 json 时，才视为语言标记。
func languageTagLen(s string) int {
	i := 0
	for i < len(s) && isTagByte(s[i]) {
		i++
	}
	if i == 0 {
		return 0
	}
	if strings.EqualFold(s[:i], "json") {
		return i
	}
	if i == len(s) || s[i] == '\n' || s[i] == '\r' {
		return i
	}
	return 0
}

func isTagByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '_' || c == '+' || c == '.'
}

// ExtractSpan 返回从第一个 '{' 到最后一个 '}' 的子串。
// 文本中没有 '{' 时返回 ("", false)。有 '{' 但其后没有 '}'（常见于被截断的回复）时，
// 返回从 '{' 到文本末尾的部分，交给 ParseLenient 报告为格式错误。
// 多个并列对象会被整体截取，这是已知的局限。
func ExtractSpan(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(text, '}')
	if end < start {
		return text[start:], true
	}
	return text[start : end+1], true
}

// RemoveTrailingCommas 删除所有后面（忽略空白）紧跟 '}' 或 ']' 的逗号，只扫描一遍。
// 字符串字面量内部的逗号不受影响。
func RemoveTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inStr := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			b.WriteByte(c)
			continue
		}

		if c == '"' {
			inStr = true
		} else if c == ',' {
			j := i + 1
			for j < len(s) && isJSONSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// ParseLenient 先严格解析；失败后做一次尾随逗号修复并重试一次；仍失败则返回
// MalformedExtraction，Raw 为传入的原始片段。
func ParseLenient(span string) Result {
	fields, err := decodeObject(span)
	if err == nil {
		return Success(fields)
	}

	if repaired := RemoveTrailingCommas(span); repaired != span {
		fields, retryErr := decodeObject(repaired)
		if retryErr == nil {
			return Success(fields)
		}
		err = retryErr
	}
	return Failure(KindMalformedExtraction, err.Error(), span)
}

// Recover 串联 Sanitize、ExtractSpan 和 ParseLenient
func Recover(raw string) Result {
	clean := Sanitize(raw)
	span, ok := ExtractSpan(clean)
	if !ok {
		return Failure(KindNoJSONFound, "sanitized text contains no '{'", clean)
	}
	return ParseLenient(span)
}

func decodeObject(s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errEmptyExtractionInput
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, err
	}
	// "null" 能被解码为 nil map 而不报错
	if fields == nil {
		return nil, errTopLevelNotAnObject
	}
	return fields, nil
}
