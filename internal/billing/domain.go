// Package billing 管理套餐、订阅、支付以及每月简历解析配额
package billing

import (
	"time"
)

// 功能名称，与套餐的功能开关一一对应
const (
	FeatureResumeProcessing = "resume_processing"
	FeatureATSAnalysis      = "ats_analysis"
	FeatureJobMatching      = "job_matching"
	FeatureResumeTemplates  = "resume_templates"
	FeaturePrioritySupport  = "priority_support"
	FeatureAPIAccess        = "api_access"
)

// Unlimited 表示不限次数
const Unlimited = -1

// Features 套餐功能开关
type Features struct {
	MaxResumesPerMonth int  `json:"max_resumes_per_month"`
	ATSAnalysis        bool `json:"ats_analysis"`
	JobMatching        bool `json:"job_matching"`
	ResumeTemplates    bool `json:"resume_templates"`
	PrioritySupport    bool `json:"priority_support"`
	APIAccess          bool `json:"api_access"`
}

// Has 返回功能开关，未知功能返回 false
func (f Features) Has(feature string) bool {
	switch feature {
	case FeatureATSAnalysis:
		return f.ATSAnalysis
	case FeatureJobMatching:
		return f.JobMatching
	case FeatureResumeTemplates:
		return f.ResumeTemplates
	case FeaturePrioritySupport:
		return f.PrioritySupport
	case FeatureAPIAccess:
		return f.APIAccess
	}
	return false
}

// Plan 订阅套餐，金额以分为单位
type Plan struct {
	ID            int64
	Name          string
	PriceCents    int64
	Currency      string
	StripePriceID string
	Description   string
	Features      Features
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Price 以元为单位的价格
func (p *Plan) Price() float64 {
	return float64(p.PriceCents) / 100
}

// Unlimited 套餐是否不限解析次数
func (p *Plan) Unlimited() bool {
	return p.Features.MaxResumesPerMonth < 0
}

// PlanView 对外展示的套餐
type PlanView struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency"`
	Description string   `json:"description"`
	Features    Features `json:"features"`
}

// View 转换为对外视图
func (p *Plan) View() PlanView {
	return PlanView{
		ID:          p.ID,
		Name:        p.Name,
		Price:       p.Price(),
		Currency:    p.Currency,
		Description: p.Description,
		Features:    p.Features,
	}
}

// SubscriptionStatus 订阅状态
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusUnpaid    SubscriptionStatus = "unpaid"
)

// Subscription 用户订阅及当月用量
type Subscription struct {
	ID                        int64
	UserID                    string
	PlanID                    int64
	Plan                      *Plan
	Status                    SubscriptionStatus
	StripeSubscriptionID      string
	StripeCustomerID          string
	StartDate                 time.Time
	EndDate                   *time.Time
	CancelledAt               *time.Time
	ResumesProcessedThisMonth int
	LastUsageReset            time.Time
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// IsActive 状态为 active 且未过结束时间
func (s *Subscription) IsActive(now time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	if s.EndDate != nil && now.After(*s.EndDate) {
		return false
	}
	return true
}

// ResetIfNewMonth 进入新的自然月时清零用量，返回是否发生了重置
func (s *Subscription) ResetIfNewMonth(now time.Time) bool {
	ly, lm, _ := s.LastUsageReset.Date()
	ny, nm, _ := now.Date()
	if ly == ny && lm == nm {
		return false
	}
	s.ResumesProcessedThisMonth = 0
	s.LastUsageReset = now
	return true
}

// CanProcess 是否还能解析简历，调用前应先 ResetIfNewMonth
func (s *Subscription) CanProcess(now time.Time) bool {
	if !s.IsActive(now) || s.Plan == nil {
		return false
	}
	if s.Plan.Unlimited() {
		return true
	}
	return s.ResumesProcessedThisMonth < s.Plan.Features.MaxResumesPerMonth
}

// Remaining 当月剩余次数，不限次数时返回 Unlimited
func (s *Subscription) Remaining() int {
	if s.Plan == nil {
		return 0
	}
	if s.Plan.Unlimited() {
		return Unlimited
	}
	return max(0, s.Plan.Features.MaxResumesPerMonth-s.ResumesProcessedThisMonth)
}

// PaymentStatus 支付状态
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment 一次 Checkout 支付，UserID 为空表示匿名下单
type Payment struct {
	ID              int64
	StripeSessionID string
	UserID          string
	SubscriptionID  *int64
	AmountCents     int64
	Currency        string
	Status          PaymentStatus
	Metadata        map[string]string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Amount 以元为单位的金额
func (p *Payment) Amount() float64 {
	return float64(p.AmountCents) / 100
}

// DefaultPlans 初始化用的默认套餐
func DefaultPlans() []Plan {
	return []Plan{
		{
			Name:        "Free",
			PriceCents:  0,
			Currency:    "USD",
			Description: "Basic resume parsing with limited features",
			Features:    Features{MaxResumesPerMonth: 2, ATSAnalysis: true},
			IsActive:    true,
		},
		{
			Name:        "Basic",
			PriceCents:  999,
			Currency:    "USD",
			Description: "Essential resume parsing and analysis",
			Features:    Features{MaxResumesPerMonth: 10, ATSAnalysis: true, JobMatching: true, ResumeTemplates: true},
			IsActive:    true,
		},
		{
			Name:        "Professional",
			PriceCents:  2999,
			Currency:    "USD",
			Description: "Advanced features for professionals",
			Features: Features{MaxResumesPerMonth: 50, ATSAnalysis: true, JobMatching: true, ResumeTemplates: true,
				PrioritySupport: true},
			IsActive: true,
		},
		{
			Name:        "Enterprise",
			PriceCents:  9999,
			Currency:    "USD",
			Description: "Full access with API and unlimited processing",
			Features: Features{MaxResumesPerMonth: Unlimited, ATSAnalysis: true, JobMatching: true, ResumeTemplates: true,
				PrioritySupport: true, APIAccess: true},
			IsActive: true,
		},
	}
}
