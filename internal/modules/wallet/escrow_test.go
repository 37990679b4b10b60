package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"relaydispatch/internal/modules/activity"
	"relaydispatch/internal/types"
)

// memStore applies ledger mutations to in-memory wallets and transactions.
// WithTx snapshots state and restores it when fn errors, mirroring rollback.
type memStore struct {
	wallets map[types.ID]*Wallet
	txns    []*Transaction
}

func newMemStore() *memStore {
	return &memStore{wallets: make(map[types.ID]*Wallet)}
}

func (s *memStore) addWallet(id types.ID, balance int64) {
	s.wallets[id] = &Wallet{ID: id, UserID: types.ID("u-" + id), Balance: decimal.NewFromInt(balance)}
}

func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	snapshot := s.clone()
	if err := fn(ctx, &memTx{store: s}); err != nil {
		s.wallets = snapshot.wallets
		s.txns = snapshot.txns
		return err
	}
	return nil
}

func (s *memStore) clone() *memStore {
	c := newMemStore()
	for id, w := range s.wallets {
		cw := *w
		c.wallets[id] = &cw
	}
	for _, t := range s.txns {
		ct := *t
		ct.Metadata = cloneMetadata(t.Metadata)
		c.txns = append(c.txns, &ct)
	}
	return c
}

func (s *memStore) GetHoldByReference(ctx context.Context, reference string) (*Transaction, error) {
	return (&memTx{store: s}).GetHoldByReference(ctx, reference)
}

func (s *memStore) SumHeldEscrow(ctx context.Context, walletID types.ID) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, t := range s.txns {
		if t.WalletID == walletID && t.IsEscrow && t.EscrowStatus == EscrowHeld {
			total = total.Add(t.Amount)
		}
	}
	return total, nil
}

func (s *memStore) ListEscrowHistory(ctx context.Context, walletID types.ID) ([]Transaction, error) {
	var out []Transaction
	for i := len(s.txns) - 1; i >= 0; i-- {
		if s.txns[i].WalletID == walletID && s.txns[i].IsEscrow {
			out = append(out, *s.txns[i])
		}
	}
	return out, nil
}

type memTx struct {
	store *memStore
}

func (t *memTx) GetWalletForUpdate(ctx context.Context, walletID types.ID) (*Wallet, error) {
	w, ok := t.store.wallets[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cw := *w
	return &cw, nil
}

func (t *memTx) UpdateWalletBalance(ctx context.Context, walletID types.ID, balance decimal.Decimal) error {
	w, ok := t.store.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	w.Balance = balance
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *Transaction) error {
	ct := *txn
	t.store.txns = append(t.store.txns, &ct)
	return nil
}

func (t *memTx) GetHoldByReference(ctx context.Context, reference string) (*Transaction, error) {
	for i := len(t.store.txns) - 1; i >= 0; i-- {
		txn := t.store.txns[i]
		if txn.Reference == reference && txn.IsEscrow && txn.Type == TxDebit {
			ct := *txn
			ct.Metadata = cloneMetadata(txn.Metadata)
			return &ct, nil
		}
	}
	return nil, nil
}

func (t *memTx) UpdateTransactionEscrow(ctx context.Context, txnID string, status EscrowStatus, canRefund bool, metadata map[string]string) error {
	for _, txn := range t.store.txns {
		if txn.ID == txnID {
			txn.EscrowStatus = status
			txn.CanRefund = canRefund
			txn.Metadata = metadata
			return nil
		}
	}
	return errors.New("transaction not found")
}

type nopSink struct{}

func (nopSink) Emit(context.Context, activity.Event) {}

func newTestLedger(store *memStore) *Ledger {
	return NewLedger(store, nopSink{}, zap.NewNop())
}

func dec(v string) decimal.Decimal {
	d, _ := decimal.NewFromString(v)
	return d
}

func TestHoldFunds_DebitsWalletAndRecordsHold(t *testing.T) {
	store := newMemStore()
	store.addWallet("w1", 1000)
	l := newTestLedger(store)

	txn, err := l.HoldFunds(context.Background(), "w1", dec("500"), 42, "order placement")
	if err != nil {
		t.Fatalf("HoldFunds: %v", err)
	}
	if !store.wallets["w1"].Balance.Equal(dec("500")) {
		t.Errorf("balance %s, want 500", store.wallets["w1"].Balance)
	}
	if txn.Reference != "ORDER-42" || txn.Type != TxDebit || txn.EscrowStatus != EscrowHeld || !txn.CanRefund {
		t.Errorf("hold transaction malformed: %+v", txn)
	}
	if !txn.BalanceBefore.Equal(dec("1000")) || !txn.BalanceAfter.Equal(dec("500")) {
		t.Errorf("balance snapshots %s/%s, want 1000/500", txn.BalanceBefore, txn.BalanceAfter)
	}
}

func TestHoldFunds_InsufficientBalanceLeavesWalletUntouched(t *testing.T) {
	store := newMemStore()
	store.addWallet("w1", 100)
	l := newTestLedger(store)

	_, err := l.HoldFunds(context.Background(), "w1", dec("500"), 7, "order placement")
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if !store.wallets["w1"].Balance.Equal(dec("100")) {
		t.Errorf("balance %s, want exactly 100 (no partial debit)", store.wallets["w1"].Balance)
	}
	if len(store.txns) != 0 {
		t.Errorf("failed hold wrote %d transactions, want 0", len(store.txns))
	}
}

func TestHoldFunds_SecondHoldForSameOrderRejected(t *testing.T) {
	store := newMemStore()
	store.addWallet("w1", 1000)
	l := newTestLedger(store)
	ctx := context.Background()

	if _, err := l.HoldFunds(ctx, "w1", dec("200"), 9, "first"); err != nil {
		t.Fatalf("first hold: %v", err)
	}
	if _, err := l.HoldFunds(ctx, "w1", dec("200"), 9, "second"); !errors.Is(err, ErrEscrowAlreadyHeld) {
		t.Errorf("err = %v, want ErrEscrowAlreadyHeld", err)
	}
}

func TestReleaseFunds_RoundTripLeavesBalanceAndBlocksRefund(t *testing.T) {
	store := newMemStore()
	store.addWallet("w1", 1000)
	l := newTestLedger(store)
	ctx := context.Background()

	if _, err := l.HoldFunds(ctx, "w1", dec("500"), 11, "order placement"); err != nil {
		t.Fatalf("HoldFunds: %v", err)
	}
	afterHold := store.wallets["w1"].Balance

	released, err := l.ReleaseFunds(ctx, 11, "delivery complete")
	if err != nil {
		t.Fatalf("ReleaseFunds: %v", err)
	}
	if !store.wallets["w1"].Balance.Equal(afterHold) {
		t.Errorf("release moved balance: %s, want %s", store.wallets["w1"].Balance, afterHold)
	}
	if released.EscrowStatus != EscrowReleased || released.CanRefund {
		t.Errorf("released hold = %+v, want released/can_refund=false", released)
	}

	if _, _, err := l.RefundFunds(ctx, 11, "too late", nil); !errors.Is(err, ErrEscrowNotRefundable) {
		t.Errorf("refund after release: err = %v, want ErrEscrowNotRefundable", err)
	}
}

func TestReleaseFunds_FailsWithoutHold(t *testing.T) {
	store := newMemStore()
	store.addWallet("w1", 1000)
	l := newTestLedger(store)

	if _, err := l.ReleaseFunds(context.Background(), 99, "nothing held"); !errors.Is(err, ErrEscrowNotHeld) {
		t.Errorf("err = %v, want ErrEscrowNotHeld", err)
	}
}

func TestRefundFunds_FullRefundRestoresBalance(t *testing.T) {
	store := newMemStore()
	store.addWallet("w1", 2500)
	l := newTestLedger(store)
	ctx := context.Background()

	if _, err := l.HoldFunds(ctx, "w1", dec("1000"), 13, "order placement"); err != nil {
		t.Fatalf("HoldFunds: %v", err)
	}

	hold, refund, err := l.RefundFunds(ctx, 13, "order cancelled", nil)
	if err != nil {
		t.Fatalf("RefundFunds: %v", err)
	}
	if !store.wallets["w1"].Balance.Equal(dec("2500")) {
		t.Errorf("balance %s, want pre-hold 2500", store.wallets["w1"].Balance)
	}
	if hold.EscrowStatus != EscrowRefunded || hold.CanRefund {
		t.Errorf("hold after full refund = %+v, want refunded/can_refund=false", hold)
	}
	if refund.Reference != "REFUND-13" || refund.Type != TxCredit {
		t.Errorf("refund transaction malformed: %+v", refund)
	}
	if refund.HoldID == nil || *refund.HoldID != hold.ID {
		t.Error("refund must link back to its hold")
	}
}

func TestRefundFunds_PartialLeavesRemainderRefundable(t *testing.T) {
	store := newMemStore()
	store.addWallet("w1", 1000)
	l := newTestLedger(store)
	ctx := context.Background()

	if _, err := l.HoldFunds(ctx, "w1", dec("600"), 17, "order placement"); err != nil {
		t.Fatalf("HoldFunds: %v", err)
	}

	partial := dec("200")
	hold, _, err := l.RefundFunds(ctx, 17, "damaged item", &partial)
	if err != nil {
		t.Fatalf("partial RefundFunds: %v", err)
	}
	if !store.wallets["w1"].Balance.Equal(dec("600")) {
		t.Errorf("balance %s, want 600 after 200 refund", store.wallets["w1"].Balance)
	}
	if !hold.CanRefund {
		t.Error("partial refund must leave can_refund true")
	}
	if hold.Metadata["partial_refund"] != "200.00" || hold.Metadata["remaining_escrow"] != "400.00" {
		t.Errorf("partial metadata = %v", hold.Metadata)
	}

	// The remainder is the new ceiling: refunding more than 400 must fail.
	over := dec("500")
	if _, _, err := l.RefundFunds(ctx, 17, "again", &over); !errors.Is(err, ErrInvalidRefundAmount) {
		t.Errorf("over-remainder refund: err = %v, want ErrInvalidRefundAmount", err)
	}

	// Refunding exactly the remainder closes the hold.
	rest := dec("400")
	hold2, _, err := l.RefundFunds(ctx, 17, "rest", &rest)
	if err != nil {
		t.Fatalf("remainder RefundFunds: %v", err)
	}
	if !store.wallets["w1"].Balance.Equal(dec("1000")) {
		t.Errorf("balance %s, want fully restored 1000", store.wallets["w1"].Balance)
	}
	if hold2.CanRefund || hold2.EscrowStatus != EscrowRefunded {
		t.Errorf("hold after remainder refund = %+v, want closed", hold2)
	}
}

func TestRefundFunds_InvalidPartialAmountRejected(t *testing.T) {
	store := newMemStore()
	store.addWallet("w1", 1000)
	l := newTestLedger(store)
	ctx := context.Background()

	if _, err := l.HoldFunds(ctx, "w1", dec("300"), 19, "order placement"); err != nil {
		t.Fatalf("HoldFunds: %v", err)
	}

	over := dec("400")
	if _, _, err := l.RefundFunds(ctx, 19, "too much", &over); !errors.Is(err, ErrInvalidRefundAmount) {
		t.Errorf("err = %v, want ErrInvalidRefundAmount", err)
	}
	if !store.wallets["w1"].Balance.Equal(dec("700")) {
		t.Errorf("failed refund moved balance: %s, want 700", store.wallets["w1"].Balance)
	}
}

func TestEscrowStatus_MissingOrderIsZeroNotError(t *testing.T) {
	store := newMemStore()
	l := newTestLedger(store)

	st, err := l.EscrowStatus(context.Background(), 12345)
	if err != nil {
		t.Fatalf("EscrowStatus: %v", err)
	}
	if st.Exists {
		t.Errorf("status for unknown order = %+v, want zero", st)
	}
}

func TestTotalEscrowed_SumsOnlyHeldTransactions(t *testing.T) {
	store := newMemStore()
	store.addWallet("w1", 5000)
	l := newTestLedger(store)
	ctx := context.Background()

	if _, err := l.HoldFunds(ctx, "w1", dec("1000"), 21, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.HoldFunds(ctx, "w1", dec("700"), 22, "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.ReleaseFunds(ctx, 22, "done"); err != nil {
		t.Fatal(err)
	}

	total, err := l.TotalEscrowed(ctx, "w1")
	if err != nil {
		t.Fatalf("TotalEscrowed: %v", err)
	}
	if !total.Equal(dec("1000")) {
		t.Errorf("total escrowed %s, want 1000 (released hold excluded)", total)
	}
}

func TestEscrowHistory_ListsEscrowTransactions(t *testing.T) {
	store := newMemStore()
	store.addWallet("w1", 5000)
	l := newTestLedger(store)
	ctx := context.Background()

	if _, err := l.HoldFunds(ctx, "w1", dec("1000"), 31, "a"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := l.RefundFunds(ctx, 31, "cancelled", nil); err != nil {
		t.Fatal(err)
	}

	hist, err := l.EscrowHistory(ctx, "w1")
	if err != nil {
		t.Fatalf("EscrowHistory: %v", err)
	}
	if len(hist) != 2 {
		t.Errorf("history has %d entries, want hold + refund", len(hist))
	}
}
