package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/db"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
)

// ErrLedgerVersionConflict means another writer appended to the order's
// assignment history between our read and our append.
var ErrLedgerVersionConflict = errors.New("assignment ledger version conflict")

// Repository is the dispatch view over orders, agents and the assignment ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListAssignments(ctx context.Context, orderID uuid.UUID) ([]models.DeliveryAssignment, error)
	ListPoolAgents(ctx context.Context) ([]models.DeliveryAgent, error)
	CountPoolAgents(ctx context.Context) (int64, error)
	FindAgent(ctx context.Context, agentID uuid.UUID) (*models.DeliveryAgent, error)
	ReserveAgent(ctx context.Context, agentID uuid.UUID, capacity int) (bool, error)
	ReleaseAgent(ctx context.Context, agentID uuid.UUID) (bool, error)
	AppendAssignment(ctx context.Context, order *models.Order, entry *models.DeliveryAssignment, updates map[string]any) error
	RecordResponse(ctx context.Context, entryID uuid.UUID, response enums.AgentResponse, at time.Time) error
	UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	ListPendingOrders(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error)
	ListExpiredOffers(ctx context.Context, offeredBefore time.Time, limit int) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a dispatch repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LockOrder reads the order with a row lock (a no-op on sqlite, which
// serialises writers anyway).
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

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListAssignments(ctx context.Context, orderID uuid.UUID) ([]models.DeliveryAssignment, error) {
	var history []models.DeliveryAssignment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("attempt ASC").
		Find(&history).Error
	if err != nil {
		return nil, err
	}
	return history, nil
}

// ListPoolAgents returns agents passing all three gates. Capacity and history
// filtering happen in Rank.
func (r *repository) ListPoolAgents(ctx context.Context) ([]models.DeliveryAgent, error) {
	var agents []models.DeliveryAgent
	err := r.db.WithContext(ctx).
		Where("approved = ? AND active = ? AND available = ?", true, true, true).
		Order("created_at ASC").
		Order("id ASC").
		Find(&agents).Error
	if err != nil {
		return nil, err
	}
	return agents, nil
}

func (r *repository) CountPoolAgents(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Where("approved = ? AND active = ? AND available = ?", true, true, true).
		Count(&count).Error
	return count, err
}

func (r *repository) FindAgent(ctx context.Context, agentID uuid.UUID) (*models.DeliveryAgent, error) {
	var agent models.DeliveryAgent
	if err := r.db.WithContext(ctx).Where("id = ?", agentID).First(&agent).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}

// ReserveAgent takes one capacity slot if the agent is still below capacity.
// false means the slot was lost to a concurrent dispatch.
func (r *repository) ReserveAgent(ctx context.Context, agentID uuid.UUID, capacity int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DeliveryAgent{}).
		Where("id = ? AND assigned_orders < ?", agentID, capacity).
		UpdateColumn("assigned_orders", gorm.Expr("assigned_orders + ?", 1))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseAgent gives a slot back, floored at zero. false means the counter was already zero.
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

// AppendAssignment bumps the order's ledger version from the value held in
// order and inserts entry as the next attempt, applying updates to the order
// in the same statement. A stale version returns ErrLedgerVersionConflict.
func (r *repository) AppendAssignment(ctx context.Context, order *models.Order, entry *models.DeliveryAssignment, updates map[string]any) error {
	expected := order.DeliveryAttempts
	next := expected + 1

	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["delivery_attempts"] = next

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND delivery_attempts = ?", order.ID, expected).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLedgerVersionConflict
	}

	entry.OrderID = order.ID
	entry.Attempt = next
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		// a concurrent writer took this attempt number
		if db.IsUniqueViolation(err, "") {
			return ErrLedgerVersionConflict
		}
		return err
	}
	order.DeliveryAttempts = next
	return nil
}

func (r *repository) RecordResponse(ctx context.Context, entryID uuid.UUID, response enums.AgentResponse, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.DeliveryAssignment{}).
		Where("id = ?", entryID).
		Updates(map[string]any{"response": response, "response_at": at}).Error
}

func (r *repository) UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}

func (r *repository) ListPendingOrders(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	q := r.db.WithContext(ctx).
		Where("delivery_status = ? AND created_at <= ?", enums.DeliveryStatusPending, createdBefore).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) ListExpiredOffers(ctx context.Context, offeredBefore time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	q := r.db.WithContext(ctx).
		Where("delivery_status = ? AND delivery_agent_response = ? AND delivery_offered_at < ?",
			enums.DeliveryStatusAssigned, enums.AgentResponsePending, offeredBefore).
		Order("delivery_offered_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
