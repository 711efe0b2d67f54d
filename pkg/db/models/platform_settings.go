package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlatformSettingsID is the primary key of the singleton settings row.
const PlatformSettingsID = 1

// PlatformSettings holds marketplace-wide rates. Null rates fall back to defaults.
type PlatformSettings struct {
	ID                     int                 `gorm:"column:id;primaryKey"`
	DeliveryAgentShareRate decimal.NullDecimal `gorm:"column:delivery_agent_share_rate;type:numeric(5,4)"`
	PlatformCommissionRate decimal.NullDecimal `gorm:"column:platform_commission_rate;type:numeric(5,4)"`
	UpdatedAt              time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (PlatformSettings) TableName() string { return "platform_settings" }
