package earnings

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/db/models"
)

var (
	// DefaultAgentShareRate applies when platform settings carry no share rate.
	DefaultAgentShareRate = decimal.RequireFromString("0.8")
	// DefaultCommissionRate applies when platform settings carry no commission rate.
	DefaultCommissionRate = decimal.RequireFromString("0.1")
)

// Rates are the platform rates in effect for a computation.
type Rates struct {
	AgentShare decimal.Decimal
	Commission decimal.Decimal
	// Defaulted is set when at least one rate came from the hardcoded defaults.
	Defaulted bool
}

// DefaultRates is used when settings are absent or unreadable.
func DefaultRates() Rates {
	return Rates{AgentShare: DefaultAgentShareRate, Commission: DefaultCommissionRate, Defaulted: true}
}

// RatesFrom reads the singleton settings row, defaulting each missing rate on its own.
func RatesFrom(settings *models.PlatformSettings) Rates {
	if settings == nil {
		return DefaultRates()
	}
	rates := Rates{AgentShare: DefaultAgentShareRate, Commission: DefaultCommissionRate}
	if settings.DeliveryAgentShareRate.Valid {
		rates.AgentShare = settings.DeliveryAgentShareRate.Decimal
	} else {
		rates.Defaulted = true
	}
	if settings.PlatformCommissionRate.Valid {
		rates.Commission = settings.PlatformCommissionRate.Decimal
	} else {
		rates.Defaulted = true
	}
	return rates
}

// AgentBreakdown is the agent side of an order.
type AgentBreakdown struct {
	DeliveryCharge     decimal.Decimal
	PlatformCommission decimal.Decimal
	NetEarning         decimal.Decimal
}

// AgentEarning pays the admin-set amount when the platform covers the agent,
// otherwise the agent's share of the delivery charge. The platform keeps the
// remainder of the charge, never less than zero.
func AgentEarning(order models.Order, rates Rates) AgentBreakdown {
	charge := order.DeliveryCharge.Round(2)
	if order.AdminPaysAgent {
		return AgentBreakdown{
			DeliveryCharge:     charge,
			PlatformCommission: decimal.Zero,
			NetEarning:         order.AdminAgentPayment.Round(2),
		}
	}
	net := charge.Mul(rates.AgentShare).Round(2)
	kept := charge.Sub(net)
	if kept.IsNegative() {
		kept = decimal.Zero
	}
	return AgentBreakdown{DeliveryCharge: charge, PlatformCommission: kept, NetEarning: net}
}

// SellerBreakdown is one seller's share of an order.
type SellerBreakdown struct {
	SellerID           uuid.UUID
	ItemTotal          decimal.Decimal
	PlatformCommission decimal.Decimal
	NetEarning         decimal.Decimal
}

// SellerEarnings groups items by seller in order of first appearance.
func SellerEarnings(items []models.OrderItem, rates Rates) []SellerBreakdown {
	totals := make(map[uuid.UUID]decimal.Decimal, len(items))
	order := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		current, seen := totals[item.SellerID]
		if !seen {
			order = append(order, item.SellerID)
		}
		totals[item.SellerID] = current.Add(item.LineTotal())
	}

	out := make([]SellerBreakdown, 0, len(order))
	for _, sellerID := range order {
		total := totals[sellerID].Round(2)
		commission := total.Mul(rates.Commission).Round(2)
		out = append(out, SellerBreakdown{
			SellerID:           sellerID,
			ItemTotal:          total,
			PlatformCommission: commission,
			NetEarning:         total.Sub(commission),
		})
	}
	return out
}
