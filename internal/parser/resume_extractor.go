package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/devil3515/resume-parser/internal/llmjson"
	"github.com/devil3515/resume-parser/internal/logger"
	"github.com/devil3515/resume-parser/internal/types"
)

// ErrEmptyResumeText 没有可供提取的简历文本
var ErrEmptyResumeText = errors.New("resume text is empty")

const (
	defaultParseTemperature float32 = 0.2

	resumeSystemMessage = "You are a helpful assistant that parses resumes into structured JSON data."

	resumePromptTemplate = `You are an AI bot designed to parse resumes. Extract the following fields in **valid JSON format only**. Do not add explanations, code blocks, or any trailing notes. Return only a JSON object.
- name
- email
- phone
- linkedin
- address (if available)
- portfolio (if available)
- summary (2-3 sentence professional summary)
- skills (as a list of strings)
- experience (as a list of objects with: title, company, start_date (if available), end_date (if available), detail (main bullet point or summary of the experience))
- education (an object with: degree, university, graduation_year (if available))
- projects (if available, as a list of objects with: title, detail, technologies (as a list of strings))
Use exactly these keys. Use an empty string or an empty list when a field is not present in the resume.
Resume text:
"""%s"""`
)

// ResumeExtractor 调用大模型把简历文本转换为结构化字段
type ResumeExtractor struct {
	llmModel       model.ToolCallingChatModel
	promptTemplate string
	temperature    float32
	maxTokens      int
	log            zerolog.Logger
}

// ResumeExtractorOption 是提取器的配置选项
type ResumeExtractorOption func(*ResumeExtractor)

// WithExtractionPrompt 使用自定义提示词模板，模板中用一个 %s 表示简历文本
func WithExtractionPrompt(template string) ResumeExtractorOption {
	return func(e *ResumeExtractor) {
		if strings.Count(template, "%s") == 1 {
			e.promptTemplate = template
		}
	}
}

// WithExtractionTemperature 设置提取温度
func WithExtractionTemperature(t float32) ResumeExtractorOption {
	return func(e *ResumeExtractor) {
		e.temperature = t
	}
}

// WithExtractionMaxTokens 设置最大输出 token 数
func WithExtractionMaxTokens(n int) ResumeExtractorOption {
	return func(e *ResumeExtractor) {
		e.maxTokens = n
	}
}

// NewResumeExtractor 创建提取器
func NewResumeExtractor(llmModel model.ToolCallingChatModel, options ...ResumeExtractorOption) *ResumeExtractor {
	e := &ResumeExtractor{
		llmModel:       llmModel,
		promptTemplate: resumePromptTemplate,
		temperature:    defaultParseTemperature,
		log:            logger.Component("resume_extractor"),
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Extract 提取简历字段，成功结果经 types.NormalizeResumeFields 校正。
// 模型调用失败(包括 agent.ProviderError 与 agent.TransportError)以 error 返回；
// 模型回复无法恢复为JSON对象时返回失败的 llmjson.Result，error 为 nil。
func (e *ResumeExtractor) Extract(ctx context.Context, resumeText string) (llmjson.Result, error) {
	if e.llmModel == nil {
		return llmjson.Result{}, fmt.Errorf("ResumeExtractor: llmModel is not initialized")
	}
	if strings.TrimSpace(resumeText) == "" {
		return llmjson.Result{}, ErrEmptyResumeText
	}

	messages := []*einoschema.Message{
		einoschema.SystemMessage(resumeSystemMessage),
		einoschema.UserMessage(fmt.Sprintf(e.promptTemplate, resumeText)),
	}

	opts := []model.Option{model.WithTemperature(e.temperature)}
	if e.maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(e.maxTokens))
	}

	response, err := e.llmModel.Generate(ctx, messages, opts...)
	if err != nil {
		e.log.Error().Err(err).Msg("LLM调用失败")
		return llmjson.Result{}, fmt.Errorf("ResumeExtractor: LLM call failed: %w", err)
	}

	content := ""
	if response != nil {
		content = response.Content
	}
	result := llmjson.Recover(content)
	if !result.OK() {
		e.log.Warn().
			Str("kind", string(result.Kind)).
			Str("message", result.Message).
			Int("raw_len", len(result.Raw)).
			Msg("无法从模型回复中恢复JSON")
		return result, nil
	}

	fields, changed := types.NormalizeResumeFields(result.Fields)
	if len(changed) > 0 {
		e.log.Warn().Strs("fields", changed).Msg("模型输出的字段类型不符，已校正")
	}
	e.log.Debug().Int("fields", len(fields)).Msg("简历字段提取完成")
	return llmjson.Success(fields), nil
}
