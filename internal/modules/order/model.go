// README: Order aggregate, deliveries, relay legs, and routing status definitions.
package order

import (
	"time"

	"github.com/shopspring/decimal"

	"relaydispatch/internal/types"
)

type RoutingStatus string

const (
	RoutingNotRelay   RoutingStatus = "not_relay"
	RoutingPending    RoutingStatus = "pending"
	RoutingProcessing RoutingStatus = "processing"
	RoutingReady      RoutingStatus = "ready"
	RoutingFailed     RoutingStatus = "failed"
)

type PaymentMethod string

const (
	PaymentWallet PaymentMethod = "wallet"
	PaymentCash   PaymentMethod = "cash"
)

// Order is the aggregate root for a delivery. Routing fields are mutated by
// the materializer; escrow flags by the cancellation/completion flows. The
// two never call each other directly.
type Order struct {
	ID              types.ID
	OrderNumber     int64
	MerchantID      types.ID
	PickupAddress   string
	PickupPoint     *types.Point
	TotalAmount     decimal.Decimal
	PaymentMethod   PaymentMethod
	IsRelayOrder    bool
	RoutingStatus   RoutingStatus
	RoutingError    string
	DistanceKm      float64
	DurationMinutes int
	RelayLegsCount  int
	// SuggestedRiderID is a hint, not an ownership edge; the rider may
	// vanish and the order stays valid.
	SuggestedRiderID *types.ID
	EscrowHeld       bool
	EscrowReleased   bool
	CreatedAt        time.Time
}

// Delivery is one dropoff of an order. The relay core reads only the first
// delivery's dropoff; multi-drop relay is not modeled.
type Delivery struct {
	ID             types.ID
	OrderID        types.ID
	DropoffAddress string
	DropoffPoint   *types.Point
	ReceiverName   string
	ReceiverPhone  string
	Status         string
}

// Leg is one relay hop. StartNodeID nil means "pickup"; EndNodeID nil on the
// last leg means "final dropoff".
type Leg struct {
	ID              types.ID
	OrderID         types.ID
	LegNumber       int
	StartNodeID     *types.ID
	EndNodeID       *types.ID
	DistanceKm      float64
	DurationMinutes int
	RiderPayout     decimal.Decimal
	HandoffPIN      string
	RiderID         *types.ID
}

// Rider is the slice of the rider record the suggestion scan needs.
type Rider struct {
	ID       types.ID
	Position *types.Point
}
