package earnings

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-dispatch/pkg/errors"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/logger"
)

const settingsSavepoint = "earnings_settings"

// Row is one earning line, either read from the ledger or projected.
type Row struct {
	Role               enums.EarningRole `json:"role"`
	BeneficiaryID      uuid.UUID         `json:"beneficiary_id"`
	ItemTotal          decimal.Decimal   `json:"item_total"`
	DeliveryCharge     decimal.Decimal   `json:"delivery_charge"`
	PlatformCommission decimal.Decimal   `json:"platform_commission"`
	NetEarning         decimal.Decimal   `json:"net_earning"`
	Paid               bool              `json:"paid"`
	Persisted          bool              `json:"persisted"`
}

// Summary is the earnings view of one order.
type Summary struct {
	OrderID        uuid.UUID            `json:"order_id"`
	DeliveryStatus enums.DeliveryStatus `json:"delivery_status"`
	Rows           []Row                `json:"rows"`
	AgentTotal     decimal.Decimal      `json:"agent_total"`
	SellerTotal    decimal.Decimal      `json:"seller_total"`
	RatesDefaulted bool                 `json:"rates_defaulted"`
}

// Service writes earning rows on acceptance and delivery and reports them.
type Service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewService builds an earnings service.
func NewService(repo Repository, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("earnings repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{repo: repo, logg: logg, now: time.Now}, nil
}

// Rates reads platform settings and falls back to defaults on any failure.
// Inside a transaction the read runs under a savepoint so a failed query does
// not poison the caller's transaction.
func (s *Service) Rates(ctx context.Context, tx *gorm.DB) Rates {
	if tx != nil {
		if err := tx.SavePoint(settingsSavepoint).Error; err != nil {
			s.warnDefaults(ctx, err)
			return DefaultRates()
		}
	}
	settings, err := s.repo.WithTx(tx).LoadSettings(ctx)
	if err != nil {
		if tx != nil {
			_ = tx.RollbackTo(settingsSavepoint).Error
		}
		s.warnDefaults(ctx, err)
		return DefaultRates()
	}
	return RatesFrom(settings)
}

func (s *Service) warnDefaults(ctx context.Context, err error) {
	logCtx := s.logg.WithField(ctx, "error", err.Error())
	s.logg.Warn(logCtx, "platform settings unavailable, using default rates")
}

// RecordAgentEarning writes the agent row for an accepted delivery. Writing the
// same row twice is a no-op; a previously voided row is reinstated.
func (s *Service) RecordAgentEarning(ctx context.Context, tx *gorm.DB, order models.Order, agentID uuid.UUID) error {
	breakdown := AgentEarning(order, s.Rates(ctx, tx))
	row := &models.EarningLog{
		OrderID:            order.ID,
		Role:               enums.EarningRoleAgent,
		BeneficiaryID:      agentID,
		ItemTotal:          decimal.Zero,
		DeliveryCharge:     breakdown.DeliveryCharge,
		PlatformCommission: breakdown.PlatformCommission,
		NetEarning:         breakdown.NetEarning,
	}
	return s.write(ctx, tx, row)
}

// RecordSellerEarnings writes one row per seller in the order's items.
func (s *Service) RecordSellerEarnings(ctx context.Context, tx *gorm.DB, order models.Order) error {
	items := order.Items
	if items == nil {
		loaded, err := s.repo.WithTx(tx).FindOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
		}
		items = loaded.Items
	}

	for _, seller := range SellerEarnings(items, s.Rates(ctx, tx)) {
		row := &models.EarningLog{
			OrderID:            order.ID,
			Role:               enums.EarningRoleSeller,
			BeneficiaryID:      seller.SellerID,
			ItemTotal:          seller.ItemTotal,
			DeliveryCharge:     decimal.Zero,
			PlatformCommission: seller.PlatformCommission,
			NetEarning:         seller.NetEarning,
		}
		if err := s.write(ctx, tx, row); err != nil {
			return err
		}
	}
	return nil
}

// VoidAgentEarning marks the agent's unpaid row void when the delivery is taken away.
func (s *Service) VoidAgentEarning(ctx context.Context, tx *gorm.DB, orderID, agentID uuid.UUID) error {
	n, err := s.repo.WithTx(tx).VoidUnpaid(ctx, orderID, enums.EarningRoleAgent, agentID, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "void agent earning")
	}
	if n > 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": orderID.String(), "agent_id": agentID.String()})
		s.logg.Info(logCtx, "agent earning voided")
	}
	return nil
}

func (s *Service) write(ctx context.Context, tx *gorm.DB, row *models.EarningLog) error {
	repo := s.repo.WithTx(tx)
	inserted, err := repo.Insert(ctx, row)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert earning log")
	}
	if inserted {
		return nil
	}
	if _, err := repo.Reinstate(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reinstate earning log")
	}
	return nil
}

// ComputeEarnings reports the order's earnings. Persisted rows win; rows not
// yet written are projected from the current rates without being stored.
func (s *Service) ComputeEarnings(ctx context.Context, orderID uuid.UUID) (*Summary, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.InvalidInput("order id required")
	}
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.NotFound("order", orderID.String())
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	persisted, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list earning logs")
	}

	summary := &Summary{
		OrderID:        order.ID,
		DeliveryStatus: order.DeliveryStatus,
		AgentTotal:     decimal.Zero,
		SellerTotal:    decimal.Zero,
	}
	written := make(map[string]struct{}, len(persisted))
	for _, entry := range persisted {
		written[rowKey(entry.Role, entry.BeneficiaryID)] = struct{}{}
		summary.add(Row{
			Role:               entry.Role,
			BeneficiaryID:      entry.BeneficiaryID,
			ItemTotal:          entry.ItemTotal,
			DeliveryCharge:     entry.DeliveryCharge,
			PlatformCommission: entry.PlatformCommission,
			NetEarning:         entry.NetEarning,
			Paid:               entry.Paid,
			Persisted:          true,
		})
	}

	if order.DeliveryStatus == enums.DeliveryStatusCancelled {
		return summary, nil
	}

	var rates *Rates
	lazyRates := func() Rates {
		if rates == nil {
			r := s.Rates(ctx, nil)
			rates = &r
			summary.RatesDefaulted = r.Defaulted
		}
		return *rates
	}

	if order.DeliveryAgentID != nil {
		if _, ok := written[rowKey(enums.EarningRoleAgent, *order.DeliveryAgentID)]; !ok {
			agent := AgentEarning(*order, lazyRates())
			summary.add(Row{
				Role:               enums.EarningRoleAgent,
				BeneficiaryID:      *order.DeliveryAgentID,
				ItemTotal:          decimal.Zero,
				DeliveryCharge:     agent.DeliveryCharge,
				PlatformCommission: agent.PlatformCommission,
				NetEarning:         agent.NetEarning,
			})
		}
	}

	missingSeller := false
	for _, item := range order.Items {
		if _, ok := written[rowKey(enums.EarningRoleSeller, item.SellerID)]; !ok {
			missingSeller = true
			break
		}
	}
	if missingSeller {
		for _, seller := range SellerEarnings(order.Items, lazyRates()) {
			if _, ok := written[rowKey(enums.EarningRoleSeller, seller.SellerID)]; ok {
				continue
			}
			summary.add(Row{
				Role:               enums.EarningRoleSeller,
				BeneficiaryID:      seller.SellerID,
				ItemTotal:          seller.ItemTotal,
				DeliveryCharge:     decimal.Zero,
				PlatformCommission: seller.PlatformCommission,
				NetEarning:         seller.NetEarning,
			})
		}
	}
	return summary, nil
}

func (s *Summary) add(row Row) {
	s.Rows = append(s.Rows, row)
	switch row.Role {
	case enums.EarningRoleAgent:
		s.AgentTotal = s.AgentTotal.Add(row.NetEarning)
	case enums.EarningRoleSeller:
		s.SellerTotal = s.SellerTotal.Add(row.NetEarning)
	}
}

func rowKey(role enums.EarningRole, id uuid.UUID) string {
	return role.String() + ":" + id.String()
}
