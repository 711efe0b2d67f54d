package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
)

// EarningLog is written once per (order, role, beneficiary). Voided rows are
// kept for audit when an accepted delivery is released or cancelled.
type EarningLog struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID            uuid.UUID         `gorm:"column:order_id;type:uuid;not null;uniqueIndex:uq_earning_logs_order_role_beneficiary,priority:1"`
	Role               enums.EarningRole `gorm:"column:role;not null;uniqueIndex:uq_earning_logs_order_role_beneficiary,priority:2"`
	BeneficiaryID      uuid.UUID         `gorm:"column:beneficiary_id;type:uuid;not null;uniqueIndex:uq_earning_logs_order_role_beneficiary,priority:3"`
	ItemTotal          decimal.Decimal   `gorm:"column:item_total;type:numeric(12,2);not null;default:0"`
	DeliveryCharge     decimal.Decimal   `gorm:"column:delivery_charge;type:numeric(12,2);not null;default:0"`
	PlatformCommission decimal.Decimal   `gorm:"column:platform_commission;type:numeric(12,2);not null;default:0"`
	NetEarning         decimal.Decimal   `gorm:"column:net_earning;type:numeric(12,2);not null"`
	Paid               bool              `gorm:"column:paid;not null;default:false"`
	PaidAt             *time.Time        `gorm:"column:paid_at"`
	VoidedAt           *time.Time        `gorm:"column:voided_at"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
}

func (EarningLog) TableName() string { return "earning_logs" }

func (e *EarningLog) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
