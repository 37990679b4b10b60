// README: Wallet/transaction store backed by PostgreSQL; wallet rows locked per mutation.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"relaydispatch/internal/types"
)

var ErrWalletNotFound = errors.New("wallet not found")

// Tx is the transaction-scoped store surface used by the ledger while a
// mutation is in flight.
type Tx interface {
	GetWalletForUpdate(ctx context.Context, walletID types.ID) (*Wallet, error)
	UpdateWalletBalance(ctx context.Context, walletID types.ID, balance decimal.Decimal) error
	InsertTransaction(ctx context.Context, t *Transaction) error
	// GetHoldByReference returns the escrow hold row for the reference, or
	// nil when none exists.
	GetHoldByReference(ctx context.Context, reference string) (*Transaction, error)
	UpdateTransactionEscrow(ctx context.Context, txnID string, status EscrowStatus, canRefund bool, metadata map[string]string) error
}

// Store is the persistence dependency of the escrow ledger.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// Read-only projections; absence is empty/zero, never an error.
	GetHoldByReference(ctx context.Context, reference string) (*Transaction, error)
	SumHeldEscrow(ctx context.Context, walletID types.ID) (decimal.Decimal, error)
	ListEscrowHistory(ctx context.Context, walletID types.ID) ([]Transaction, error)
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	pgtx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer pgtx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: pgtx}); err != nil {
		return err
	}
	return pgtx.Commit(ctx)
}

func (s *PGStore) GetHoldByReference(ctx context.Context, reference string) (*Transaction, error) {
	return scanHold(ctx, s.db, reference)
}

func (s *PGStore) SumHeldEscrow(ctx context.Context, walletID types.ID) (decimal.Decimal, error) {
	row := s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM wallet_transactions
		WHERE wallet_id = $1 AND is_escrow = TRUE AND escrow_status = 'held'`,
		string(walletID))
	var total decimal.Decimal
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (s *PGStore) ListEscrowHistory(ctx context.Context, walletID types.ID) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, txSelect+`
		WHERE wallet_id = $1 AND is_escrow = TRUE
		ORDER BY created_at DESC`, string(walletID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetWalletForUpdate(ctx context.Context, walletID types.ID) (*Wallet, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, user_id, balance
		FROM wallets
		WHERE id = $1
		FOR UPDATE`, string(walletID))
	var w Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (t *pgTx) UpdateWalletBalance(ctx context.Context, walletID types.ID, balance decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE wallets SET balance = $1 WHERE id = $2`,
		balance, string(walletID))
	return err
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *Transaction) error {
	meta, err := json.Marshal(txn.Metadata)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO wallet_transactions (
			id, wallet_id, tx_type, status, amount,
			balance_before, balance_after, reference, description,
			is_escrow, escrow_status, can_refund, hold_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		txn.ID, string(txn.WalletID), string(txn.Type), string(txn.Status), txn.Amount,
		txn.BalanceBefore, txn.BalanceAfter, txn.Reference, txn.Description,
		txn.IsEscrow, string(txn.EscrowStatus), txn.CanRefund, txn.HoldID, meta, txn.CreatedAt)
	return err
}

func (t *pgTx) GetHoldByReference(ctx context.Context, reference string) (*Transaction, error) {
	return scanHold(ctx, t.tx, reference)
}

func (t *pgTx) UpdateTransactionEscrow(ctx context.Context, txnID string, status EscrowStatus, canRefund bool, metadata map[string]string) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		UPDATE wallet_transactions
		SET escrow_status = $1, can_refund = $2, metadata = $3
		WHERE id = $4`,
		string(status), canRefund, meta, txnID)
	return err
}

const txSelect = `
	SELECT id, wallet_id, tx_type, status, amount,
	       balance_before, balance_after, reference, description,
	       is_escrow, escrow_status, can_refund, hold_id, metadata, created_at
	FROM wallet_transactions`

type rowScanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanHold(ctx context.Context, q querier, reference string) (*Transaction, error) {
	row := q.QueryRow(ctx, txSelect+`
		WHERE reference = $1 AND is_escrow = TRUE AND tx_type = 'debit'
		ORDER BY created_at DESC
		LIMIT 1`, reference)
	t, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var t Transaction
	var meta []byte
	err := row.Scan(
		&t.ID, &t.WalletID, &t.Type, &t.Status, &t.Amount,
		&t.BalanceBefore, &t.BalanceAfter, &t.Reference, &t.Description,
		&t.IsEscrow, &t.EscrowStatus, &t.CanRefund, &t.HoldID, &meta, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &t.Metadata)
	}
	return &t, nil
}
