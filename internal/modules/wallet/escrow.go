// README: Escrow ledger; hold/release/refund state machine over wallet funds.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"relaydispatch/internal/modules/activity"
	"relaydispatch/internal/types"
)

var (
	ErrInsufficientFunds   = errors.New("insufficient wallet balance for escrow hold")
	ErrEscrowAlreadyHeld   = errors.New("an escrow hold already exists for this order")
	ErrEscrowNotHeld       = errors.New("no held escrow transaction for this order")
	ErrEscrowNotRefundable = errors.New("escrow is no longer refundable")
	ErrInvalidRefundAmount = errors.New("refund amount exceeds the held escrow")
)

// Ledger implements the funds-holding state machine:
// none -> held -> released, or held -> refunded (full), or
// held -> partially refunded (remainder stays refundable).
//
// Escrow is modeled as money already left the wallet at hold time; release
// only finalizes ledger state and never moves balance again.
type Ledger struct {
	store Store
	feed  activity.Sink
	log   *zap.Logger
}

func NewLedger(store Store, feed activity.Sink, log *zap.Logger) *Ledger {
	return &Ledger{store: store, feed: feed, log: log}
}

// HoldFunds debits the wallet and records a held escrow transaction
// referenced ORDER-{orderNumber}. Callers run order creation in the same
// flow: the balance check here happens before any order row exists, so an
// insufficient balance aborts cleanly with no cleanup to do.
func (l *Ledger) HoldFunds(ctx context.Context, walletID types.ID, amount decimal.Decimal, orderNumber int64, description string) (*Transaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("hold amount must be positive")
	}

	ref := HoldReference(orderNumber)
	var held *Transaction
	err := l.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		existing, err := tx.GetHoldByReference(ctx, ref)
		if err != nil {
			return err
		}
		if existing != nil && existing.EscrowStatus == EscrowHeld {
			return ErrEscrowAlreadyHeld
		}

		w, err := tx.GetWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		if w.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		newBalance := w.Balance.Sub(amount)
		if err := tx.UpdateWalletBalance(ctx, walletID, newBalance); err != nil {
			return err
		}

		held = &Transaction{
			ID:            uuid.NewString(),
			WalletID:      walletID,
			Type:          TxDebit,
			Status:        TxCompleted,
			Amount:        amount,
			BalanceBefore: w.Balance,
			BalanceAfter:  newBalance,
			Reference:     ref,
			Description:   description,
			IsEscrow:      true,
			EscrowStatus:  EscrowHeld,
			CanRefund:     true,
			CreatedAt:     time.Now(),
		}
		return tx.InsertTransaction(ctx, held)
	})
	if err != nil {
		return nil, err
	}

	l.feed.Emit(ctx, activity.Event{
		Type:    activity.TypeEscrowHeld,
		Message: fmt.Sprintf("Escrow of %s held for order %d", amount.StringFixed(2), orderNumber),
		Color:   "blue",
		Metadata: map[string]string{
			"order_number": fmt.Sprintf("%d", orderNumber),
			"amount":       amount.StringFixed(2),
		},
	})
	return held, nil
}

// ReleaseFunds finalizes a held escrow. Funds already left the wallet at
// hold time, so there is no balance movement here.
func (l *Ledger) ReleaseFunds(ctx context.Context, orderNumber int64, description string) (*Transaction, error) {
	ref := HoldReference(orderNumber)
	var released *Transaction
	err := l.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		hold, err := tx.GetHoldByReference(ctx, ref)
		if err != nil {
			return err
		}
		if hold == nil || hold.Status != TxCompleted || hold.EscrowStatus != EscrowHeld {
			return ErrEscrowNotHeld
		}

		meta := cloneMetadata(hold.Metadata)
		meta["release_description"] = description
		if err := tx.UpdateTransactionEscrow(ctx, hold.ID, EscrowReleased, false, meta); err != nil {
			return err
		}
		hold.EscrowStatus = EscrowReleased
		hold.CanRefund = false
		hold.Metadata = meta
		released = hold
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.feed.Emit(ctx, activity.Event{
		Type:    activity.TypeEscrowReleased,
		Message: fmt.Sprintf("Escrow released for order %d", orderNumber),
		Color:   "green",
		Metadata: map[string]string{
			"order_number": fmt.Sprintf("%d", orderNumber),
		},
	})
	return released, nil
}

// RefundFunds credits the wallet back with the full or partial held amount
// and records a REFUND-{orderNumber} credit linked to the hold. A partial
// refund overwrites the hold's partial_refund/remaining_escrow metadata and
// leaves can_refund true; the remaining amount becomes the new ceiling.
func (l *Ledger) RefundFunds(ctx context.Context, orderNumber int64, reason string, partialAmount *decimal.Decimal) (*Transaction, *Transaction, error) {
	ref := HoldReference(orderNumber)
	var hold, refund *Transaction
	err := l.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		h, err := tx.GetHoldByReference(ctx, ref)
		if err != nil {
			return err
		}
		if h == nil || !h.CanRefund {
			return ErrEscrowNotRefundable
		}

		remaining := h.RemainingEscrow()
		amount := remaining
		if partialAmount != nil {
			amount = *partialAmount
			if amount.LessThanOrEqual(decimal.Zero) || amount.GreaterThan(remaining) {
				return ErrInvalidRefundAmount
			}
		}

		w, err := tx.GetWalletForUpdate(ctx, h.WalletID)
		if err != nil {
			return err
		}
		newBalance := w.Balance.Add(amount)
		if err := tx.UpdateWalletBalance(ctx, h.WalletID, newBalance); err != nil {
			return err
		}

		holdID := h.ID
		refund = &Transaction{
			ID:            uuid.NewString(),
			WalletID:      h.WalletID,
			Type:          TxCredit,
			Status:        TxCompleted,
			Amount:        amount,
			BalanceBefore: w.Balance,
			BalanceAfter:  newBalance,
			Reference:     RefundReference(orderNumber),
			Description:   reason,
			IsEscrow:      true,
			EscrowStatus:  EscrowRefunded,
			HoldID:        &holdID,
			CreatedAt:     time.Now(),
		}
		if err := tx.InsertTransaction(ctx, refund); err != nil {
			return err
		}

		meta := cloneMetadata(h.Metadata)
		meta["refund_reason"] = reason
		full := amount.Equal(remaining)
		if full {
			if err := tx.UpdateTransactionEscrow(ctx, h.ID, EscrowRefunded, false, meta); err != nil {
				return err
			}
			h.EscrowStatus = EscrowRefunded
			h.CanRefund = false
		} else {
			meta["partial_refund"] = amount.StringFixed(2)
			meta["remaining_escrow"] = remaining.Sub(amount).StringFixed(2)
			if err := tx.UpdateTransactionEscrow(ctx, h.ID, h.EscrowStatus, true, meta); err != nil {
				return err
			}
		}
		h.Metadata = meta
		hold = h
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	l.feed.Emit(ctx, activity.Event{
		Type:    activity.TypeEscrowRefunded,
		Message: fmt.Sprintf("Escrow refund of %s for order %d", refund.Amount.StringFixed(2), orderNumber),
		Color:   "orange",
		Metadata: map[string]string{
			"order_number": fmt.Sprintf("%d", orderNumber),
			"amount":       refund.Amount.StringFixed(2),
			"reason":       reason,
		},
	})
	return hold, refund, nil
}

// Status is the read-only escrow projection for one order.
type Status struct {
	Exists       bool              `json:"exists"`
	Status       TxStatus          `json:"status,omitempty"`
	Amount       decimal.Decimal   `json:"amount"`
	EscrowStatus EscrowStatus      `json:"escrow_status,omitempty"`
	CanRefund    bool              `json:"can_refund"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// EscrowStatus reports the hold state for an order; absence is a zero
// Status, never an error.
func (l *Ledger) EscrowStatus(ctx context.Context, orderNumber int64) (Status, error) {
	hold, err := l.store.GetHoldByReference(ctx, HoldReference(orderNumber))
	if err != nil {
		return Status{}, err
	}
	if hold == nil {
		return Status{}, nil
	}
	return Status{
		Exists:       true,
		Status:       hold.Status,
		Amount:       hold.Amount,
		EscrowStatus: hold.EscrowStatus,
		CanRefund:    hold.CanRefund,
		Metadata:     hold.Metadata,
	}, nil
}

// TotalEscrowed sums a wallet's currently-held escrow.
func (l *Ledger) TotalEscrowed(ctx context.Context, walletID types.ID) (decimal.Decimal, error) {
	return l.store.SumHeldEscrow(ctx, walletID)
}

// EscrowHistory lists a wallet's escrow transactions, newest first; an
// unknown wallet yields an empty list.
func (l *Ledger) EscrowHistory(ctx context.Context, walletID types.ID) ([]Transaction, error) {
	return l.store.ListEscrowHistory(ctx, walletID)
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}
