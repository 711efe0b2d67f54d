package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/pagination"
)

var openDeliveryStatuses = []enums.DeliveryStatus{
	enums.DeliveryStatusAssigned,
	enums.DeliveryStatusAccepted,
	enums.DeliveryStatusPickedUp,
	enums.DeliveryStatusInTransit,
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderDetail(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC").Order("id ASC") }).
		Preload("Assignments", func(db *gorm.DB) *gorm.DB { return db.Order("attempt ASC") }).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}

func (r *repository) ReleaseAgent(ctx context.Context, agentID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Where("id = ? AND assigned_orders > 0", agentID).
		UpdateColumn("assigned_orders", gorm.Expr("assigned_orders - ?", 1))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CloseOutstandingOffer answers the agent's unanswered offer on the order, if one is open.
func (r *repository) CloseOutstandingOffer(ctx context.Context, orderID, agentID uuid.UUID, response enums.AgentResponse, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.DeliveryAssignment{}).
		Where("order_id = ? AND agent_id = ? AND response = ?", orderID, agentID, enums.AgentResponsePending).
		Updates(map[string]any{"response": response, "response_at": at}).Error
}

// CompleteDelivery frees the agent's slot and bumps the completed counter in one statement.
func (r *repository) CompleteDelivery(ctx context.Context, agentID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Where("id = ?", agentID).
		UpdateColumns(map[string]any{
			"completed_orders": gorm.Expr("completed_orders + ?", 1),
			"assigned_orders":  gorm.Expr("CASE WHEN assigned_orders > 0 THEN assigned_orders - 1 ELSE 0 END"),
		}).Error
}

// ListAgentDeliveries pages through the orders an agent currently holds.
func (r *repository) ListAgentDeliveries(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*AgentDeliveryPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	query := r.db.WithContext(ctx).
		Where("delivery_agent_id = ? AND delivery_status IN ?", agentID, openDeliveryStatuses)
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	if err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	rows, next := pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	page := &AgentDeliveryPage{Deliveries: make([]AgentDelivery, 0, len(rows)), NextCursor: next}
	for _, o := range rows {
		page.Deliveries = append(page.Deliveries, AgentDelivery{
			OrderID:         o.ID,
			DeliveryStatus:  o.DeliveryStatus,
			OfferedAt:       o.DeliveryOfferedAt,
			AcceptedAt:      o.AcceptedAt,
			PickupAddress:   o.PickupAddress,
			DeliveryAddress: o.DeliveryAddress,
			DeliveryCharge:  o.DeliveryCharge,
			CreatedAt:       o.CreatedAt,
		})
	}
	return page, nil
}
