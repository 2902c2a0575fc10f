package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// ResumeModulePrefix 简历模块
	ResumeModulePrefix = "resume"
	// MatchModulePrefix 岗位匹配模块
	MatchModulePrefix = "match"
	// BillingModulePrefix 计费模块
	BillingModulePrefix = "billing"

	// EntityResult 解析结果实体
	EntityResult = "result"
	// EntityWebhookEvent webhook 事件实体
	EntityWebhookEvent = "webhook_event"

	// KeyResumeResult 简历解析结果缓存 (STRING, JSON)
	// 格式: app:resume:result:{fileMD5}
	KeyResumeResult = AppPrefix + ":" + ResumeModulePrefix + ":" + EntityResult + ":%s"

	// KeyMatchResult 岗位匹配结果缓存 (STRING, JSON)
	// 格式: app:match:result:{sha256(resume+jd)}
	KeyMatchResult = AppPrefix + ":" + MatchModulePrefix + ":" + EntityResult + ":%s"

	// KeyWebhookEvent 已处理的 Stripe 事件 (STRING, SETNX)
	// 格式: app:billing:webhook_event:{eventID}
	KeyWebhookEvent = AppPrefix + ":" + BillingModulePrefix + ":" + EntityWebhookEvent + ":%s"
)
