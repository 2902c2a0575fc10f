package processor

import (
	"errors"
	"fmt"
)

// 上传校验错误，对应 HTTP 400
var (
	ErrNoFilePart     = errors.New("No file part")
	ErrNoSelectedFile = errors.New("No selected file")
	ErrNotPDF         = errors.New("only PDF files are supported")
	ErrFileTooLarge   = errors.New("file exceeds the upload size limit")
)

// 处理流程错误
var (
	ErrExtractTextFailed    = errors.New("提取简历文本失败")
	ErrEmptyText            = errors.New("could not extract any text from the PDF")
	ErrEmptyJobDescription  = errors.New("job_description is required")
	ErrEmptyResumeData      = errors.New("resume_data is required")
	ErrExtractorNotInit     = errors.New("extractor is not initialized")
	ErrMatcherNotInit       = errors.New("matcher is not initialized")
	ErrPDFExtractorNotInit  = errors.New("pdf extractor is not initialized")
	ErrArchiveFailed        = errors.New("归档原始简历失败")
	ErrPublishMessageFailed = errors.New("写入简历事件失败")
)

// ResumeProcessError 包含详细错误信息的自定义错误
type ResumeProcessError struct {
	FileMD5 string
	Op      string
	BaseErr error
	Detail  string
}

func (e *ResumeProcessError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, MD5:%s): %s", e.BaseErr, e.Op, e.FileMD5, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, MD5:%s)", e.BaseErr, e.Op, e.FileMD5)
}

func (e *ResumeProcessError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *ResumeProcessError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// NewExtractTextError 文本提取失败
func NewExtractTextError(md5, detail string) error {
	return &ResumeProcessError{FileMD5: md5, Op: "extract_text", BaseErr: ErrExtractTextFailed, Detail: detail}
}

// NewEmptyTextError PDF 中没有可用文本
func NewEmptyTextError(md5 string) error {
	return &ResumeProcessError{FileMD5: md5, Op: "extract_text", BaseErr: ErrEmptyText}
}

// NewArchiveError 原始文件归档失败
func NewArchiveError(md5, detail string) error {
	return &ResumeProcessError{FileMD5: md5, Op: "archive", BaseErr: ErrArchiveFailed, Detail: detail}
}

// NewPublishError 解析事件写入失败
func NewPublishError(md5, detail string) error {
	return &ResumeProcessError{FileMD5: md5, Op: "publish", BaseErr: ErrPublishMessageFailed, Detail: detail}
}
