package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// User 用户表
type User struct {
	UserID         string    `gorm:"type:char(36);primaryKey"`
	Email          string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_users_email_unique"`
	PasswordHash   string    `gorm:"type:varchar(255);not null"`
	FirstName      string    `gorm:"type:varchar(150)"`
	LastName       string    `gorm:"type:varchar(150)"`
	ProfilePicture string    `gorm:"type:varchar(500)"`
	IsActive       bool      `gorm:"not null"`
	CreatedAt      time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt      time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}

// Plan 订阅套餐表
type Plan struct {
	PlanID             int64     `gorm:"primaryKey;autoIncrement"`
	Name               string    `gorm:"type:varchar(100);not null;uniqueIndex:idx_plans_name_unique"`
	PriceCents         int64     `gorm:"not null;index:idx_plans_price"`
	Currency           string    `gorm:"type:varchar(3);not null;default:'USD'"`
	StripePriceID      string    `gorm:"type:varchar(100)"`
	Description        string    `gorm:"type:text"`
	MaxResumesPerMonth int       `gorm:"not null"`
	ATSAnalysis        bool      `gorm:"not null"`
	JobMatching        bool      `gorm:"not null"`
	ResumeTemplates    bool      `gorm:"not null"`
	PrioritySupport    bool      `gorm:"not null"`
	APIAccess          bool      `gorm:"not null"`
	IsActive           bool      `gorm:"not null"`
	CreatedAt          time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt          time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Plan) TableName() string {
	return "plans"
}

// Subscription 用户订阅表
type Subscription struct {
	SubscriptionID            int64      `gorm:"primaryKey;autoIncrement"`
	UserID                    string     `gorm:"type:char(36);not null;index:idx_subscriptions_user_status"`
	PlanID                    int64      `gorm:"not null"`
	Plan                      Plan       `gorm:"foreignKey:PlanID;references:PlanID"`
	Status                    string     `gorm:"type:varchar(20);not null;index:idx_subscriptions_user_status"`
	StripeSubscriptionID      string     `gorm:"type:varchar(100)"`
	StripeCustomerID          string     `gorm:"type:varchar(100)"`
	StartDate                 time.Time  `gorm:"type:datetime(6)"`
	EndDate                   *time.Time `gorm:"type:datetime(6)"`
	CancelledAt               *time.Time `gorm:"type:datetime(6)"`
	ResumesProcessedThisMonth int        `gorm:"not null"`
	LastUsageReset            time.Time  `gorm:"type:datetime(6)"`
	CreatedAt                 time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt                 time.Time  `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Payment 支付记录表
type Payment struct {
	PaymentID       int64          `gorm:"primaryKey;autoIncrement"`
	StripeSessionID string         `gorm:"type:varchar(255);not null;uniqueIndex:idx_payments_session_unique"`
	UserID          *string        `gorm:"type:char(36);index"`
	SubscriptionID  *int64         `gorm:"index"`
	AmountCents     int64          `gorm:"not null"`
	Currency        string         `gorm:"type:varchar(3);not null;default:'USD'"`
	Status          string         `gorm:"type:varchar(20);not null"`
	MetadataJSON    datatypes.JSON `gorm:"type:json"`
	CreatedAt       time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);index"`
	UpdatedAt       time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Payment) TableName() string {
	return "payments"
}

// StringMapToJSON Helper function to convert map[string]string to datatypes.JSON
func StringMapToJSON(m map[string]string) (datatypes.JSON, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// JSONToStringMap datatypes.JSON 转回 map[string]string，空值返回 nil
func JSONToStringMap(j datatypes.JSON) (map[string]string, error) {
	if len(j) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(j, &m); err != nil {
		return nil, err
	}
	return m, nil
}
