// Package llmjson 从大模型的自由文本回复中恢复单个JSON对象。
//
// 处理顺序固定为 Sanitize -> ExtractSpan -> ParseLenient，整个过程不做I/O、不持有状态，
// 可在多个请求间并发调用。任何结果都以 Result 返回，不会向调用方抛出panic。
package llmjson

import (
	"errors"
	"fmt"
)

// Kind 恢复失败的类别
type Kind string

const (
	// KindNoJSONFound 清理后的文本中没有任何 '{'
	KindNoJSONFound Kind = "NoJsonFound"
	// KindMalformedExtraction 找到了JSON片段，但修复尾随逗号后仍无法解析
	KindMalformedExtraction Kind = "MalformedExtraction"
)

// 与 Kind 一一对应的哨兵错误，便于调用方使用 errors.Is 判断
var (
	ErrNoJSONFound          = errors.New("no valid JSON object found")
	ErrMalformedExtraction  = errors.New("failed to parse JSON after cleaning")
	errTopLevelNotAnObject  = errors.New("top-level JSON value is not an object")
	errEmptyExtractionInput = errors.New("empty input")
)

// Result 是一次恢复的结果：要么成功（Fields非nil），要么失败（Kind非空），二者互斥。
type Result struct {
	Fields  map[string]any
	Kind    Kind
	Message string
	Raw     string
}

// Success 构造成功结果
func Success(fields map[string]any) Result {
	if fields == nil {
		fields = map[string]any{}
	}
	return Result{Fields: fields}
}

// Failure 构造失败结果
func Failure(kind Kind, message, raw string) Result {
	return Result{Kind: kind, Message: message, Raw: raw}
}

// OK 是否为成功结果
func (r Result) OK() bool {
	return r.Kind == ""
}

// Err 将失败结果转换为 *RecoveryError，成功时返回nil
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &RecoveryError{Kind: r.Kind, Message: r.Message, Raw: r.Raw}
}

// ToMap 返回面向调用方的序列化形态。
// 成功时就是字段本身；失败时只包含 error/kind/raw，不混入任何提取字段。
func (r Result) ToMap() map[string]any {
	if r.OK() {
		return r.Fields
	}
	out := map[string]any{
		"error": r.errorText(),
		"kind":  string(r.Kind),
	}
	if r.Raw != "" {
		out["raw"] = r.Raw
	}
	return out
}

func (r Result) errorText() string {
	switch r.Kind {
	case KindNoJSONFound:
		return ErrNoJSONFound.Error()
	case KindMalformedExtraction:
		if r.Message != "" {
			return fmt.Sprintf("%s: %s", ErrMalformedExtraction, r.Message)
		}
		return ErrMalformedExtraction.Error()
	default:
		return r.Message
	}
}

// RecoveryError 把失败结果包装成 error，供需要 error 语义的上层使用
type RecoveryError struct {
	Kind    Kind
	Message string
	Raw     string
}

func (e *RecoveryError) Error() string {
	return Result{Kind: e.Kind, Message: e.Message}.errorText()
}

// Is 实现 errors.Is 接口
func (e *RecoveryError) Is(target error) bool {
	switch e.Kind {
	case KindNoJSONFound:
		return target == ErrNoJSONFound
	case KindMalformedExtraction:
		return target == ErrMalformedExtraction
	}
	return false
}
