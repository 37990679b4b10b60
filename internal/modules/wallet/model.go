// README: Wallet and escrow-tagged transaction definitions.
package wallet

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"relaydispatch/internal/types"
)

type TxType string

const (
	TxDebit  TxType = "debit"
	TxCredit TxType = "credit"
)

type TxStatus string

const (
	TxCompleted TxStatus = "completed"
)

type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "held"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

// Wallet balance is a materialized view of the transaction log; the two must
// never diverge, which is why every mutation writes a paired transaction row
// inside the same locked transaction.
type Wallet struct {
	ID      types.ID
	UserID  types.ID
	Balance decimal.Decimal
}

// Transaction is an immutable-once-settled ledger entry with before/after
// balance snapshots. Refund rows link back to their hold via HoldID, not by
// reference naming alone.
type Transaction struct {
	ID            string
	WalletID      types.ID
	Type          TxType
	Status        TxStatus
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Reference     string
	Description   string
	IsEscrow      bool
	EscrowStatus  EscrowStatus
	CanRefund     bool
	HoldID        *string
	Metadata      map[string]string
	CreatedAt     time.Time
}

// RemainingEscrow is the refundable remainder of a hold: the original amount
// until a partial refund overwrites it.
func (t *Transaction) RemainingEscrow() decimal.Decimal {
	if t.Metadata != nil {
		if raw, ok := t.Metadata["remaining_escrow"]; ok {
			if d, err := decimal.NewFromString(raw); err == nil {
				return d
			}
		}
	}
	return t.Amount
}

func HoldReference(orderNumber int64) string {
	return fmt.Sprintf("ORDER-%d", orderNumber)
}

func RefundReference(orderNumber int64) string {
	return fmt.Sprintf("REFUND-%d", orderNumber)
}
