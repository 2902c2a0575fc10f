package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/devil3515/resume-parser/internal/llmjson"
	"github.com/devil3515/resume-parser/internal/logger"
	"github.com/devil3515/resume-parser/internal/types"
)

var (
	// ErrMatchMalformed 模型回复中没有可用的匹配结果
	ErrMatchMalformed = errors.New("job match response could not be recovered")
	// ErrEmptyJobDescription 岗位描述为空
	ErrEmptyJobDescription = errors.New("job description is empty")
)

const (
	defaultMatchTemperature float32 = 0.3

	matchSystemMessage = "You are a helpful assistant that evaluates job-resume matches."

	matchPromptTemplate = `You are an AI job match analyzer. Compare the parsed resume with the job description and return the following:

- overallMatch (0-100): How well the resume matches overall
- skillsMatch (0-100): Match based on required vs. resume skills
- experienceMatch (0-100): Match based on relevant work history
- educationMatch (0-100): Match based on degree and school
- missingKeywords: Important keywords in the job description that are missing in the resume
- recommendedImprovements: Specific changes to improve the match

Return JSON only, without any markdown or commentary.

Resume Data:
%s

Job Description:
%s`

	matchFewShotExample = `Example of the expected output format:
{
  "overallMatch": 72,
  "skillsMatch": 80,
  "experienceMatch": 65,
  "educationMatch": 70,
  "missingKeywords": ["Kubernetes", "CI/CD"],
  "recommendedImprovements": [
    "Describe the deployment pipeline you built at Acme, naming the CI/CD tools used.",
    "Add container orchestration experience if you have any."
  ]
}`
)

// JobMatcher 评估解析后的简历与岗位描述的匹配度
type JobMatcher struct {
	llmModel        model.ToolCallingChatModel
	promptTemplate  string
	fewShotExamples string
	temperature     float32
	log             zerolog.Logger
}

// JobMatcherOption 是匹配器的配置选项
type JobMatcherOption func(*JobMatcher)

// WithMatchPrompt 自定义提示词模板，依次包含简历JSON和岗位描述两个 %s
func WithMatchPrompt(template string) JobMatcherOption {
	return func(m *JobMatcher) {
		if strings.Count(template, "%s") == 2 {
			m.promptTemplate = template
		}
	}
}

// WithMatchFewShotExamples 替换系统消息中的示例，传空字符串表示不使用示例
func WithMatchFewShotExamples(examples string) JobMatcherOption {
	return func(m *JobMatcher) {
		m.fewShotExamples = examples
	}
}

// WithMatchTemperature 设置匹配温度
func WithMatchTemperature(t float32) JobMatcherOption {
	return func(m *JobMatcher) {
		m.temperature = t
	}
}

// NewJobMatcher 创建匹配器
func NewJobMatcher(llmModel model.ToolCallingChatModel, options ...JobMatcherOption) *JobMatcher {
	m := &JobMatcher{
		llmModel:        llmModel,
		promptTemplate:  matchPromptTemplate,
		fewShotExamples: matchFewShotExample,
		temperature:     defaultMatchTemperature,
		log:             logger.Component("job_matcher"),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Match 评估匹配度。分数被限制在 0-100 之间。
// 模型回复无法恢复时返回包装了 ErrMatchMalformed 的错误，可用 errors.As 取出 *llmjson.RecoveryError。
func (m *JobMatcher) Match(ctx context.Context, resumeFields map[string]any, jobDescription string) (*types.MatchResult, error) {
	if m.llmModel == nil {
		return nil, fmt.Errorf("JobMatcher: llmModel is not initialized")
	}
	if strings.TrimSpace(jobDescription) == "" {
		return nil, ErrEmptyJobDescription
	}

	resumeJSON, err := json.MarshalIndent(resumeFields, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("JobMatcher: 序列化简历数据失败: %w", err)
	}

	systemContent := matchSystemMessage
	if m.fewShotExamples != "" {
		systemContent = m.fewShotExamples + "\n\n" + matchSystemMessage
	}
	messages := []*einoschema.Message{
		einoschema.SystemMessage(systemContent),
		einoschema.UserMessage(fmt.Sprintf(m.promptTemplate, string(resumeJSON), jobDescription)),
	}

	response, err := m.llmModel.Generate(ctx, messages, model.WithTemperature(m.temperature))
	if err != nil {
		m.log.Error().Err(err).Msg("LLM调用失败")
		return nil, fmt.Errorf("JobMatcher: LLM call failed: %w", err)
	}

	content := ""
	if response != nil {
		content = response.Content
	}
	recovered := llmjson.Recover(content)
	if !recovered.OK() {
		m.log.Warn().Str("kind", string(recovered.Kind)).Str("message", recovered.Message).Msg("匹配结果无法解析")
		return nil, fmt.Errorf("%w: %w", ErrMatchMalformed, recovered.Err())
	}

	result, err := matchResultFromFields(recovered.Fields)
	if err != nil {
		m.log.Warn().Err(err).Int("raw_len", len(content)).Msg("匹配结果分数无效")
		failure := llmjson.Failure(llmjson.KindMalformedExtraction, err.Error(), content)
		return nil, fmt.Errorf("%w: %w", ErrMatchMalformed, failure.Err())
	}
	return result, nil
}

var scoreKeys = []string{"overallMatch", "skillsMatch", "experienceMatch", "educationMatch"}

// matchResultFromFields 缺失或为 null 的分数记 0；出现非数字分数，
// 或四个分数一个都没有时视为回复不是匹配结果
func matchResultFromFields(fields map[string]any) (*types.MatchResult, error) {
	scores := make(map[string]int, len(scoreKeys))
	found := 0
	for _, key := range scoreKeys {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		score, ok := scoreField(v)
		if !ok {
			return nil, fmt.Errorf("%s is not a number: %v", key, v)
		}
		scores[key] = score
		found++
	}
	if found == 0 {
		return nil, errors.New("response contains no match scores")
	}

	result := types.ZeroMatchResult()
	result.OverallMatch = scores["overallMatch"]
	result.SkillsMatch = scores["skillsMatch"]
	result.ExperienceMatch = scores["experienceMatch"]
	result.EducationMatch = scores["educationMatch"]
	result.MissingKeywords = stringList(fields["missingKeywords"])
	result.RecommendedImprovements = stringList(fields["recommendedImprovements"])
	return result, nil
}

// scoreField 接受数字或 "85"、"85%" 这样的字符串，结果限制在 0-100
func scoreField(v any) (int, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(x), "%"), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Round(math.Max(0, math.Min(100, f)))), true
}

// stringList 接受字符串数组或单个字符串
func stringList(v any) []string {
	out := []string{}
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
	case string:
		if strings.TrimSpace(x) != "" {
			out = append(out, x)
		}
	}
	return out
}
