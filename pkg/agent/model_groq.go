package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultGroqAPIURL Groq 的 OpenAI 兼容接口
	DefaultGroqAPIURL = "https://api.groq.com/openai/v1/chat/completions"
	// DefaultGroqModelName 默认模型
	DefaultGroqModelName = "llama3-70b-8192"

	defaultHTTPTimeout = 60 * time.Second
	maxLoggedBodyBytes = 512
)

// --- OpenAI 兼容的工具描述 ---

type OpenAIFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

type OpenAITool struct {
	Type     string         `json:"type"` // 固定为 "function"
	Function OpenAIFunction `json:"function"`
}

// GroqChatModel 通过 OpenAI 兼容的 chat completions 接口调用 Groq，
// 实现 model.ChatModel 与 model.ToolCallingChatModel。
type GroqChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	httpClient  *http.Client
	temperature *float32
	maxTokens   *int
	tools       []OpenAITool
}

// GroqOption 配置 GroqChatModel
type GroqOption func(*GroqChatModel)

// WithHTTPClient 替换默认的 HTTP 客户端
func WithHTTPClient(c *http.Client) GroqOption {
	return func(g *GroqChatModel) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// WithDefaultTemperature 设置调用方未指定温度时使用的默认温度
func WithDefaultTemperature(t float32) GroqOption {
	return func(g *GroqChatModel) {
		g.temperature = &t
	}
}

// WithDefaultMaxTokens 设置默认的最大输出 token 数
func WithDefaultMaxTokens(n int) GroqOption {
	return func(g *GroqChatModel) {
		if n > 0 {
			g.maxTokens = &n
		}
	}
}

// WithTimeout 设置单次请求超时
func WithTimeout(d time.Duration) GroqOption {
	return func(g *GroqChatModel) {
		if d > 0 {
			g.httpClient.Timeout = d
		}
	}
}

// NewGroqChatModel 创建 GroqChatModel。modelName 与 apiURL 为空时使用默认值。
func NewGroqChatModel(apiKey, modelName, apiURL string, opts ...GroqOption) (*GroqChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = DefaultGroqModelName
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = DefaultGroqAPIURL
	}

	g := &GroqChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(g)
	}

	log.Info().Str("api_url", apiURL).Str("model", modelName).Msg("使用 Groq LLM 客户端")
	return g, nil
}

// ModelName 返回模型名
func (g *GroqChatModel) ModelName() string {
	return g.modelName
}

// --- OpenAI 兼容的请求/响应结构 ---

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []toolCallData `json:"tool_calls,omitempty"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	TopP        *float32      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Tools       []OpenAITool  `json:"tools,omitempty"`
}

type toolCallData struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type responseMessage struct {
	Role      string         `json:"role"`
	Content   *string        `json:"content"`
	ToolCalls []toolCallData `json:"tool_calls,omitempty"`
}

type chatChoice struct {
	Index        int             `json:"index"`
	Message      responseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type completionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatCompletionResponse struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Choices []chatChoice    `json:"choices"`
	Usage   completionUsage `json:"usage"`
}

func (g *GroqChatModel) buildRequest(messages []*schema.Message, options ...model.Option) chatCompletionRequest {
	opts := model.GetCommonOptions(&model.Options{
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
		Model:       &g.modelName,
	}, options...)

	req := chatCompletionRequest{
		Model:       g.modelName,
		Messages:    make([]chatMessage, 0, len(messages)),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
		Stop:        opts.Stop,
		Tools:       g.tools,
	}
	if opts.Model != nil && *opts.Model != "" {
		req.Model = *opts.Model
	}

	for _, m := range messages {
		if m == nil {
			continue
		}
		cm := chatMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			var d toolCallData
			d.ID = tc.ID
			d.Type = "function"
			d.Function.Name = tc.Function.Name
			d.Function.Arguments = tc.Function.Arguments
			cm.ToolCalls = append(cm.ToolCalls, d)
		}
		req.Messages = append(req.Messages, cm)
	}
	return req
}

// Generate 实现 model.ChatModel 接口。
// 非200响应返回 *ProviderError，网络失败返回 *TransportError。
func (g *GroqChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	reqPayload := g.buildRequest(messages, options...)

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	log.Debug().Str("model", reqPayload.Model).Int("messages", len(reqPayload.Messages)).Msg("[Groq] 发送请求")

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: "send", Err: err}
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read", Err: err}
	}

	log.Debug().
		Int("status", httpResp.StatusCode).
		Dur("latency", time.Since(start)).
		Str("body", truncate(string(bodyBytes), maxLoggedBodyBytes)).
		Msg("[Groq] 收到响应")

	if httpResp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			StatusCode: httpResp.StatusCode,
			Body:       string(bodyBytes),
			RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After")),
		}
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyChoices, truncate(string(bodyBytes), maxLoggedBodyBytes))
	}

	apiMessage := resp.Choices[0].Message
	content := ""
	if apiMessage.Content != nil {
		content = *apiMessage.Content
	}

	result := &schema.Message{
		Role:    schema.RoleType(apiMessage.Role),
		Content: content,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: resp.Choices[0].FinishReason,
			Usage: &schema.TokenUsage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		},
	}
	if result.Role == "" {
		result.Role = schema.Assistant
	}
	if len(apiMessage.ToolCalls) > 0 {
		result.ToolCalls = make([]schema.ToolCall, len(apiMessage.ToolCalls))
		for i, tc := range apiMessage.ToolCalls {
			result.ToolCalls[i] = schema.ToolCall{
				ID: tc.ID,
				Function: schema.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
		}
	}
	return result, nil
}

// Stream 暂不支持流式输出
func (g *GroqChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("GroqChatModel 不支持 Stream")
}

// BindTools 将工具转换为 OpenAI function 描述。
// 参数 schema 通过 ToolInfo.ParamsOneOf 转成 OpenAPI v3 schema。
func (g *GroqChatModel) BindTools(tools []*schema.ToolInfo) error {
	bound := make([]OpenAITool, 0, len(tools))
	for _, info := range tools {
		if info == nil {
			continue
		}
		var params any = map[string]any{"type": "object", "properties": map[string]any{}}
		if info.ParamsOneOf != nil {
			s, err := info.ParamsOneOf.ToOpenAPIV3()
			if err != nil {
				return fmt.Errorf("转换工具 %s 的参数失败: %w", info.Name, err)
			}
			if s != nil {
				params = s
			}
		}
		bound = append(bound, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        info.Name,
				Description: info.Desc,
				Parameters:  params,
			},
		})
	}
	g.tools = bound
	return nil
}

// WithTools 返回绑定了工具的新实例，原实例不受影响
func (g *GroqChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	clone := *g
	if err := clone.BindTools(tools); err != nil {
		return nil, err
	}
	return &clone, nil
}

var (
	_ model.ChatModel            = (*GroqChatModel)(nil)
	_ model.ToolCallingChatModel = (*GroqChatModel)(nil)
)

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
