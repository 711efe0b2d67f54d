package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-dispatch/internal/notify"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/pagination"
)

// Repository defines persistence operations for the delivery lifecycle.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindOrderDetail(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	ReleaseAgent(ctx context.Context, agentID uuid.UUID) (bool, error)
	CloseOutstandingOffer(ctx context.Context, orderID, agentID uuid.UUID, response enums.AgentResponse, at time.Time) error
	CompleteDelivery(ctx context.Context, agentID uuid.UUID) error
	ListAgentDeliveries(ctx context.Context, agentID uuid.UUID, params pagination.Params) (*AgentDeliveryPage, error)
}

// EarningsWriter settles earnings at delivery and voids them on cancellation.
type EarningsWriter interface {
	RecordSellerEarnings(ctx context.Context, tx *gorm.DB, order models.Order) error
	VoidAgentEarning(ctx context.Context, tx *gorm.DB, orderID, agentID uuid.UUID) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventPublisher interface {
	Publish(ctx context.Context, event notify.Event)
}
