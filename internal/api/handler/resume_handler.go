package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"go.opentelemetry.io/otel/trace"

	"github.com/devil3515/resume-parser/internal/auth"
	"github.com/devil3515/resume-parser/internal/billing"
	"github.com/devil3515/resume-parser/internal/llmjson"
	"github.com/devil3515/resume-parser/internal/parser"
	"github.com/devil3515/resume-parser/internal/processor"
	"github.com/devil3515/resume-parser/internal/tracing"
)

// UploadField 上传表单中的文件字段名
const UploadField = "pdf_doc"

// ResumeHandler 简历解析与岗位匹配接口
type ResumeHandler struct {
	resumes *processor.ResumeService
	matches *processor.MatchService
}

// NewResumeHandler 创建简历处理器
func NewResumeHandler(resumes *processor.ResumeService, matches *processor.MatchService) *ResumeHandler {
	return &ResumeHandler{resumes: resumes, matches: matches}
}

// Process 接收 multipart 上传的 PDF，返回提取出的字段
func (h *ResumeHandler) Process(ctx context.Context, c *app.RequestContext) {
	fileHeader, err := c.FormFile(UploadField)
	if err != nil {
		// 选择了空文件输入时表单里只有同名的普通字段
		if form, formErr := c.MultipartForm(); formErr == nil {
			if _, ok := form.Value[UploadField]; ok {
				errorJSON(c, consts.StatusBadRequest, processor.ErrNoSelectedFile.Error())
				return
			}
		}
		errorJSON(c, consts.StatusBadRequest, processor.ErrNoFilePart.Error())
		return
	}
	if fileHeader.Filename == "" {
		errorJSON(c, consts.StatusBadRequest, processor.ErrNoSelectedFile.Error())
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		internalError(ctx, c, err, "打开上传文件失败")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		internalError(ctx, c, err, "读取上传文件失败")
		return
	}

	result, err := h.resumes.Process(ctx, processor.Upload{
		Filename: fileHeader.Filename,
		Data:     data,
		UserID:   auth.UserIDFrom(c),
	})
	if err != nil {
		h.writeProcessError(ctx, c, err)
		return
	}
	if !result.OK() {
		c.JSON(consts.StatusUnprocessableEntity, result.ToMap())
		return
	}
	c.JSON(consts.StatusOK, result.ToMap())
}

func (h *ResumeHandler) writeProcessError(ctx context.Context, c *app.RequestContext, err error) {
	span := trace.SpanFromContext(ctx)

	var quotaErr *billing.QuotaError
	switch {
	case errors.Is(err, processor.ErrNoSelectedFile),
		errors.Is(err, processor.ErrNotPDF),
		errors.Is(err, processor.ErrFileTooLarge),
		errors.Is(err, processor.ErrEmptyText),
		errors.Is(err, processor.ErrExtractTextFailed),
		errors.Is(err, parser.ErrEmptyResumeText):
		errorJSON(c, consts.StatusBadRequest, rootMessage(err))
		return
	case errors.As(err, &quotaErr):
		c.JSON(consts.StatusForbidden, utils.H{
			"error":             billing.ErrQuotaExceeded.Error(),
			"remaining_resumes": quotaErr.Remaining,
			"max_resumes":       quotaErr.Max,
		})
		return
	}

	if status, body, ok := llmErrorResponse(err); ok {
		tracing.RecordHTTPError(span, err, status)
		c.JSON(status, body)
		return
	}
	internalError(ctx, c, err, "简历处理失败")
}

// matchRequest resume_data 可以是对象，也可以是 JSON 字符串
type matchRequest struct {
	ResumeData     json.RawMessage `json:"resume_data"`
	JobDescription string          `json:"job_description"`
}

// Match 比较简历与岗位描述
func (h *ResumeHandler) Match(ctx context.Context, c *app.RequestContext) {
	var req matchRequest
	if err := bindJSON(c, &req); err != nil {
		errorJSON(c, consts.StatusBadRequest, errInvalidJSON.Error())
		return
	}

	resume, err := decodeResumeData(req.ResumeData)
	if err != nil {
		errorJSON(c, consts.StatusBadRequest, err.Error())
		return
	}

	result, err := h.matches.Match(ctx, auth.UserIDFrom(c), resume, req.JobDescription)
	if err != nil {
		h.writeMatchError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, result)
}

func (h *ResumeHandler) writeMatchError(ctx context.Context, c *app.RequestContext, err error) {
	var featureErr *billing.FeatureError
	var recoveryErr *llmjson.RecoveryError
	switch {
	case errors.Is(err, processor.ErrEmptyResumeData),
		errors.Is(err, processor.ErrEmptyJobDescription),
		errors.Is(err, parser.ErrEmptyJobDescription):
		errorJSON(c, consts.StatusBadRequest, err.Error())
		return
	case errors.As(err, &featureErr):
		c.JSON(consts.StatusForbidden, utils.H{
			"error":   billing.ErrFeatureNotAvailable.Error(),
			"feature": featureErr.Feature,
			"plan":    featureErr.Plan,
		})
		return
	case errors.As(err, &recoveryErr):
		c.JSON(consts.StatusUnprocessableEntity, llmjson.Failure(recoveryErr.Kind, recoveryErr.Message, recoveryErr.Raw).ToMap())
		return
	}

	if status, body, ok := llmErrorResponse(err); ok {
		tracing.RecordHTTPError(trace.SpanFromContext(ctx), err, status)
		c.JSON(status, body)
		return
	}
	internalError(ctx, c, err, "岗位匹配失败")
}

// decodeResumeData 字符串形式的简历走一遍 llmjson 恢复，兼容直接粘贴的模型输出
func decodeResumeData(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, processor.ErrEmptyResumeData
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, errInvalidJSON
		}
		recovered := llmjson.Recover(s)
		if !recovered.OK() {
			return nil, recovered.Err()
		}
		return recovered.Fields, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.New("resume_data must be a JSON object")
	}
	return fields, nil
}

// rootMessage 去掉包装，返回最内层哨兵错误的文案
func rootMessage(err error) string {
	for _, sentinel := range []error{
		processor.ErrNoSelectedFile,
		processor.ErrNotPDF,
		processor.ErrFileTooLarge,
		processor.ErrEmptyText,
		processor.ErrExtractTextFailed,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
