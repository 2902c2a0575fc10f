package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeResumeFields(t *testing.T) {
	t.Run("形态正确时不改动", func(t *testing.T) {
		fields := map[string]any{
			"name":   "Ann Lee",
			"email":  "ann@example.com",
			"skills": []any{"Go", "SQL"},
			"experience": []any{
				map[string]any{"title": "Dev", "company": "Acme", "start_date": "2020", "end_date": "Present", "detail": "APIs"},
			},
			"education": map[string]any{"degree": "BSc", "university": "MIT", "graduation_year": "2019"},
			"projects": []any{
				map[string]any{"title": "Parser", "detail": "PDF", "technologies": []any{"Go"}},
			},
		}
		out, changed := NormalizeResumeFields(fields)
		assert.Empty(t, changed)
		assert.Equal(t, fields, out)
	})

	t.Run("类型不符时校正", func(t *testing.T) {
		out, changed := NormalizeResumeFields(map[string]any{
			"name":      "Bob",
			"phone":     float64(5551234),
			"email":     nil,
			"skills":    []any{"Go", float64(3)},
			"education": "BSc somewhere",
			"projects":  "none",
		})
		assert.Equal(t, "Bob", out["name"])
		assert.Equal(t, "5551234", out["phone"])
		assert.Equal(t, "", out["email"])
		assert.Equal(t, []any{"Go"}, out["skills"])
		assert.Equal(t, map[string]any{}, out["education"])
		assert.Equal(t, []any{}, out["projects"])
		assert.ElementsMatch(t, []string{"phone", "email", "skills", "education", "projects"}, changed)
	})

	t.Run("单个字符串或对象视为一项", func(t *testing.T) {
		out, changed := NormalizeResumeFields(map[string]any{
			"skills":     "Go",
			"experience": map[string]any{"title": "Dev", "detail": true},
		})
		assert.Equal(t, []any{"Go"}, out["skills"])
		assert.Equal(t, []any{map[string]any{"title": "Dev", "detail": "true"}}, out["experience"])
		assert.ElementsMatch(t, []string{"skills", "experience"}, changed)
	})

	t.Run("缺失字段不补齐且不修改输入", func(t *testing.T) {
		edu := map[string]any{"graduation_year": float64(2020)}
		in := map[string]any{"education": edu, "hobbies": []any{float64(1)}}
		out, _ := NormalizeResumeFields(in)
		assert.Equal(t, float64(2020), edu["graduation_year"])
		assert.Equal(t, "2020", out["education"].(map[string]any)["graduation_year"])
		assert.Equal(t, []any{float64(1)}, out["hobbies"])
		_, hasName := out["name"]
		assert.False(t, hasName)
	})
}

func TestZeroMatchResult(t *testing.T) {
	r := ZeroMatchResult()
	assert.Zero(t, r.OverallMatch)
	assert.NotNil(t, r.MissingKeywords)
	assert.NotNil(t, r.RecommendedImprovements)
}
