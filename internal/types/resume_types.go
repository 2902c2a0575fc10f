package types

import (
	"strconv"
)

// 简历提取结果中各字段期望的形态
var (
	resumeTextKeys       = []string{"name", "email", "phone", "linkedin", "address", "portfolio", "summary"}
	experienceTextKeys   = []string{"title", "company", "start_date", "end_date", "detail"}
	educationTextKeys    = []string{"degree", "university", "graduation_year"}
	projectTextKeys      = []string{"title", "detail"}
	resumeStructuredKeys = []string{"skills", "experience", "education", "projects"}
)

// NormalizeResumeFields 按约定的形态校正模型提取出的字段，返回新映射和被改动的字段名。
// 只处理已出现的已知字段，未知字段原样保留：
// 文本字段中的数字、布尔转成字符串，其余非字符串置为空串；
// skills、technologies 只保留字符串元素，单个字符串视为一项；
// experience、projects 只保留对象元素，单个对象视为一项；
// education 必须是对象，否则置为空对象。
func NormalizeResumeFields(fields map[string]any) (map[string]any, []string) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	var changed []string

	for _, key := range resumeTextKeys {
		v, ok := fields[key]
		if !ok {
			continue
		}
		text, exact := textValue(v)
		out[key] = text
		if !exact {
			changed = append(changed, key)
		}
	}
	for _, key := range resumeStructuredKeys {
		v, ok := fields[key]
		if !ok {
			continue
		}
		var exact bool
		switch key {
		case "skills":
			out[key], exact = stringList(v)
		case "experience":
			out[key], exact = objectList(v, experienceTextKeys, nil)
		case "projects":
			out[key], exact = objectList(v, projectTextKeys, []string{"technologies"})
		case "education":
			obj, isObj := v.(map[string]any)
			if !isObj {
				out[key], exact = map[string]any{}, false
				break
			}
			out[key], exact = normalizeObject(obj, educationTextKeys, nil)
		}
		if !exact {
			changed = append(changed, key)
		}
	}
	return out, changed
}

// textValue 第二个返回值表示原值已经是字符串
func textValue(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), false
	case bool:
		return strconv.FormatBool(x), false
	}
	return "", false
}

func stringList(v any) ([]any, bool) {
	switch x := v.(type) {
	case []any:
		out := make([]any, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, len(out) == len(x)
	case string:
		if x == "" {
			return []any{}, false
		}
		return []any{x}, false
	}
	return []any{}, false
}

func objectList(v any, textKeys, listKeys []string) ([]any, bool) {
	var items []any
	exact := true
	switch x := v.(type) {
	case []any:
		items = x
	case map[string]any:
		items, exact = []any{x}, false
	default:
		return []any{}, false
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			exact = false
			continue
		}
		norm, objExact := normalizeObject(obj, textKeys, listKeys)
		exact = exact && objExact
		out = append(out, norm)
	}
	return out, exact
}

func normalizeObject(obj map[string]any, textKeys, listKeys []string) (map[string]any, bool) {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	exact := true
	for _, key := range textKeys {
		if v, ok := obj[key]; ok {
			var e bool
			out[key], e = textValue(v)
			exact = exact && e
		}
	}
	for _, key := range listKeys {
		if v, ok := obj[key]; ok {
			var e bool
			out[key], e = stringList(v)
			exact = exact && e
		}
	}
	return out, exact
}

// MatchResult 简历与岗位的匹配评估结果，分数范围 0-100
type MatchResult struct {
	OverallMatch            int      `json:"overallMatch"`
	SkillsMatch             int      `json:"skillsMatch"`
	ExperienceMatch         int      `json:"experienceMatch"`
	EducationMatch          int      `json:"educationMatch"`
	MissingKeywords         []string `json:"missingKeywords"`
	RecommendedImprovements []string `json:"recommendedImprovements"`
}

// ZeroMatchResult 评估失败时返回的全零结果
func ZeroMatchResult() *MatchResult {
	return &MatchResult{
		MissingKeywords:         []string{},
		RecommendedImprovements: []string{},
	}
}
