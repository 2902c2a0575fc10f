package constants

import "time"

const (
	// ResumeObjectPrefix 原始简历在对象存储中的前缀，对象名为 resume/{md5}.pdf
	ResumeObjectPrefix = "resume/"

	// DefaultResultCacheTTL 解析结果默认缓存时间
	DefaultResultCacheTTL = 7 * 24 * time.Hour

	// ResumeParsedEvent 简历解析完成事件
	ResumeParsedEvent = "resume.parsed"
	// PaymentCompletedEvent 支付完成事件
	PaymentCompletedEvent = "billing.payment.completed"
)
