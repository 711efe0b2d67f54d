package earnings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
)

// Repository persists earning rows and reads platform settings.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LoadSettings(ctx context.Context) (*models.PlatformSettings, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.EarningLog, error)
	Insert(ctx context.Context, row *models.EarningLog) (bool, error)
	Reinstate(ctx context.Context, row *models.EarningLog) (bool, error)
	VoidUnpaid(ctx context.Context, orderID uuid.UUID, role enums.EarningRole, beneficiaryID uuid.UUID, at time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an earnings repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LoadSettings returns nil without error when the singleton row is missing.
func (r *repository) LoadSettings(ctx context.Context) (*models.PlatformSettings, error) {
	var rows []models.PlatformSettings
	err := r.db.WithContext(ctx).
		Where("id = ?", models.PlatformSettingsID).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC").Order("id ASC") }).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListByOrder returns rows that have not been voided.
func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.EarningLog, error) {
	var rows []models.EarningLog
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND voided_at IS NULL", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Insert writes row unless one already exists for the same order, role and
// beneficiary. false means the row was already there.
func (r *repository) Insert(ctx context.Context, row *models.EarningLog) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Reinstate overwrites a voided row for the same key with fresh amounts.
// false means there was no voided row to bring back.
func (r *repository) Reinstate(ctx context.Context, row *models.EarningLog) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.EarningLog{}).
		Where("order_id = ? AND role = ? AND beneficiary_id = ? AND voided_at IS NOT NULL", row.OrderID, row.Role, row.BeneficiaryID).
		Updates(map[string]any{
			"item_total":          row.ItemTotal,
			"delivery_charge":     row.DeliveryCharge,
			"platform_commission": row.PlatformCommission,
			"net_earning":         row.NetEarning,
			"paid":                false,
			"paid_at":             nil,
			"voided_at":           nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) VoidUnpaid(ctx context.Context, orderID uuid.UUID, role enums.EarningRole, beneficiaryID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.EarningLog{}).
		Where("order_id = ? AND role = ? AND beneficiary_id = ? AND paid = ? AND voided_at IS NULL", orderID, role, beneficiaryID, false).
		Update("voided_at", at)
	return res.RowsAffected, res.Error
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
