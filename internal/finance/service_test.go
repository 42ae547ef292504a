package finance

import (
	"context"
	"testing"
	"time"
)

func newAccount(t *testing.T, m *InMemory, opening int64) Account {
	t.Helper()
	acc, err := m.CreateAccount(context.Background(), CreateAccountInput{
		Name: "checking", Type: AccountBank, Currency: "VND", OpeningBalance: opening,
	})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return acc
}

func newTx(t *testing.T, m *InMemory, accID string, typ TxType, amount int64) Transaction {
	t.Helper()
	tx, err := m.CreateTransaction(context.Background(), CreateTransactionInput{
		AccountID: accID, Type: typ, Amount: amount, Status: TxActive,
		OccurredOn: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateTransaction(%s %d): %v", typ, amount, err)
	}
	return tx
}

func balance(t *testing.T, m *InMemory, accID string) int64 {
	t.Helper()
	acc, err := m.GetAccount(context.Background(), accID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return acc.CurrentBalance
}

func TestCreateTransactionAppliesSignedEffect(t *testing.T) {
	m := NewInMemory()
	acc := newAccount(t, m, 1000)

	newTx(t, m, acc.ID, TxIncome, 200)
	if got := balance(t, m, acc.ID); got != 1200 {
		t.Fatalf("after income: balance=%d, want 1200", got)
	}

	newTx(t, m, acc.ID, TxExpense, 200)
	if got := balance(t, m, acc.ID); got != 1000 {
		t.Fatalf("after expense: balance=%d, want 1000", got)
	}
}

func TestPendingTransactionContributesZero(t *testing.T) {
	m := NewInMemory()
	acc := newAccount(t, m, 500)
	ctx := context.Background()

	tx, err := m.CreateTransaction(ctx, CreateTransactionInput{
		AccountID: acc.ID, Type: TxIncome, Amount: 300, Status: TxPending,
		OccurredOn: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := balance(t, m, acc.ID); got != 500 {
		t.Fatalf("pending changed balance: %d", got)
	}

	// pending -> active applies the effect exactly once.
	active := TxActive
	if _, err := m.UpdateTransaction(ctx, tx.ID, UpdateTransactionInput{Status: &active}); err != nil {
		t.Fatal(err)
	}
	if got := balance(t, m, acc.ID); got != 800 {
		t.Fatalf("after activation: balance=%d, want 800", got)
	}
}

func TestAmendAmountAppliesDeltaOnly(t *testing.T) {
	m := NewInMemory()
	acc := newAccount(t, m, 1000)
	tx := newTx(t, m, acc.ID, TxIncome, 100)

	amount := int64(150)
	if _, err := m.UpdateTransaction(context.Background(), tx.ID, UpdateTransactionInput{Amount: &amount}); err != nil {
		t.Fatal(err)
	}
	if got := balance(t, m, acc.ID); got != 1150 {
		t.Fatalf("amend 100->150 income: balance=%d, want 1150 (delta +50)", got)
	}
}

func TestAmendDescriptionOnlyKeepsBalance(t *testing.T) {
	m := NewInMemory()
	acc := newAccount(t, m, 1000)
	tx := newTx(t, m, acc.ID, TxExpense, 400)

	notes := "groceries run"
	if _, err := m.UpdateTransaction(context.Background(), tx.ID, UpdateTransactionInput{Notes: &notes}); err != nil {
		t.Fatal(err)
	}
	if got := balance(t, m, acc.ID); got != 600 {
		t.Fatalf("description amend changed balance: %d", got)
	}
}

func TestAmendTypeFlipsEffect(t *testing.T) {
	m := NewInMemory()
	acc := newAccount(t, m, 1000)
	tx := newTx(t, m, acc.ID, TxExpense, 200) // 800

	income := TxIncome
	if _, err := m.UpdateTransaction(context.Background(), tx.ID, UpdateTransactionInput{Type: &income}); err != nil {
		t.Fatal(err)
	}
	if got := balance(t, m, acc.ID); got != 1200 {
		t.Fatalf("expense->income flip: balance=%d, want 1200", got)
	}
}

func TestAmendAdjustmentAmountWithoutResendingType(t *testing.T) {
	m := NewInMemory()
	acc := newAccount(t, m, 1000)
	tx := newTx(t, m, acc.ID, TxAdjustment, 200) // 1200

	// The sign exemption follows the stored type; the patch carries only
	// the new amount.
	amount := int64(-300)
	if _, err := m.UpdateTransaction(context.Background(), tx.ID, UpdateTransactionInput{Amount: &amount}); err != nil {
		t.Fatalf("amend adjustment: %v", err)
	}
	if got := balance(t, m, acc.ID); got != 700 {
		t.Fatalf("adjustment 200->-300: balance=%d, want 700", got)
	}

	zero := int64(0)
	if _, err := m.UpdateTransaction(context.Background(), tx.ID, UpdateTransactionInput{Amount: &zero}); err == nil {
		t.Fatal("zero adjustment amount accepted")
	}
}

func TestVoidReversesExactlyOnce(t *testing.T) {
	m := NewInMemory()
	acc := newAccount(t, m, 1000)
	tx := newTx(t, m, acc.ID, TxIncome, 250)
	ctx := context.Background()

	if err := m.VoidTransaction(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	if got := balance(t, m, acc.ID); got != 1000 {
		t.Fatalf("void did not reverse: %d", got)
	}

	if err := m.VoidTransaction(ctx, tx.ID); err != ErrNotFound {
		t.Fatalf("second void: got %v, want ErrNotFound", err)
	}
	if got := balance(t, m, acc.ID); got != 1000 {
		t.Fatalf("second void changed balance: %d", got)
	}
}

func TestVoidMissingTransaction(t *testing.T) {
	m := NewInMemory()
	acc := newAccount(t, m, 700)

	if err := m.VoidTransaction(context.Background(), "no-such-id"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if got := balance(t, m, acc.ID); got != 700 {
		t.Fatalf("balance changed: %d", got)
	}
}

func TestVoidNonActiveTransactionConflicts(t *testing.T) {
	m := NewInMemory()
	acc := newAccount(t, m, 1000)
	ctx := context.Background()

	tx, err := m.CreateTransaction(ctx, CreateTransactionInput{
		AccountID: acc.ID, Type: TxExpense, Amount: 100, Status: TxPending,
		OccurredOn: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	// pending rows cancel, they do not void.
	if err := m.VoidTransaction(ctx, tx.ID); err != ErrConflict {
		t.Fatalf("void pending: got %v, want ErrConflict", err)
	}

	canceled := TxCanceled
	if _, err := m.UpdateTransaction(ctx, tx.ID, UpdateTransactionInput{Status: &canceled}); err != nil {
		t.Fatal(err)
	}
	if err := m.VoidTransaction(ctx, tx.ID); err != ErrConflict {
		t.Fatalf("void canceled: got %v, want ErrConflict", err)
	}
	if got := balance(t, m, acc.ID); got != 1000 {
		t.Fatalf("balance changed: %d", got)
	}
}

func TestBalanceInvariantAfterMutationSequence(t *testing.T) {
	m := NewInMemory()
	acc := newAccount(t, m, 10_000)
	ctx := context.Background()

	t1 := newTx(t, m, acc.ID, TxIncome, 5_000)
	t2 := newTx(t, m, acc.ID, TxExpense, 1_200)
	newTx(t, m, acc.ID, TxDebt, 2_000)
	t4 := newTx(t, m, acc.ID, TxRepayment, 800)

	amount := int64(6_000)
	if _, err := m.UpdateTransaction(ctx, t1.ID, UpdateTransactionInput{Amount: &amount}); err != nil {
		t.Fatal(err)
	}
	if err := m.VoidTransaction(ctx, t2.ID); err != nil {
		t.Fatal(err)
	}
	sub := TxSubscription
	if _, err := m.UpdateTransaction(ctx, t4.ID, UpdateTransactionInput{Type: &sub}); err != nil {
		t.Fatal(err)
	}

	// Reconciliation replay must agree with the incrementally kept balance.
	st, err := m.AccountStatement(ctx, acc.ID, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if st.Drift != 0 {
		t.Fatalf("drift=%d: computed=%d current=%d", st.Drift, st.Computed, st.CurrentBalance)
	}
	want := int64(10_000 + 6_000 - 2_000 - 800)
	if st.CurrentBalance != want {
		t.Fatalf("balance=%d, want %d", st.CurrentBalance, want)
	}
}

func TestHistorySequenceGapless(t *testing.T) {
	m := NewInMemory()
	acc := newAccount(t, m, 1000)
	tx := newTx(t, m, acc.ID, TxIncome, 100)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		amount := int64(100 + i)
		if _, err := m.UpdateTransaction(ctx, tx.ID, UpdateTransactionInput{Amount: &amount}); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.VoidTransaction(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}

	entries := m.history[tx.ID]
	if len(entries) != 5 {
		t.Fatalf("history entries=%d, want 5", len(entries))
	}
	for i, e := range entries {
		if e.SeqNo != i+1 {
			t.Fatalf("seq_no[%d]=%d, want %d", i, e.SeqNo, i+1)
		}
	}
	if entries[4].Action != ActionDelete {
		t.Fatalf("last action=%s, want delete", entries[4].Action)
	}
}

func TestVoidedTransitionIsTerminal(t *testing.T) {
	m := NewInMemory()
	acc := newAccount(t, m, 1000)
	tx := newTx(t, m, acc.ID, TxIncome, 100)
	ctx := context.Background()

	if err := m.VoidTransaction(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	active := TxActive
	if _, err := m.UpdateTransaction(ctx, tx.ID, UpdateTransactionInput{Status: &active}); err != ErrNotFound {
		t.Fatalf("amending a void transaction: got %v, want ErrNotFound", err)
	}
}

func TestCloseAccountWithActiveTransactionsConflicts(t *testing.T) {
	m := NewInMemory()
	acc := newAccount(t, m, 1000)
	tx := newTx(t, m, acc.ID, TxExpense, 100)
	ctx := context.Background()

	if err := m.CloseAccount(ctx, acc.ID); err != ErrConflict {
		t.Fatalf("close with active tx: got %v, want ErrConflict", err)
	}
	if err := m.VoidTransaction(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.CloseAccount(ctx, acc.ID); err != nil {
		t.Fatalf("close after void: %v", err)
	}
	if _, err := m.GetAccount(ctx, acc.ID); err != ErrNotFound {
		t.Fatalf("closed account still readable: %v", err)
	}
	if err := m.CloseAccount(ctx, acc.ID); err != ErrNotFound {
		t.Fatalf("second close: got %v, want ErrNotFound", err)
	}
}

func TestCreateTransactionOnClosedAccount(t *testing.T) {
	m := NewInMemory()
	acc := newAccount(t, m, 0)
	ctx := context.Background()
	if err := m.CloseAccount(ctx, acc.ID); err != nil {
		t.Fatal(err)
	}
	_, err := m.CreateTransaction(ctx, CreateTransactionInput{
		AccountID: acc.ID, Type: TxIncome, Amount: 10, OccurredOn: time.Now().UTC(),
	})
	if err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestDebtSettlementFiresExactlyOnce(t *testing.T) {
	m := NewInMemory()
	ctx := context.Background()
	p, err := m.CreatePerson(ctx, CreatePersonInput{FullName: "Lan"})
	if err != nil {
		t.Fatal(err)
	}
	ledger, err := m.CreateDebt(ctx, CreateDebtInput{CreditorPersonID: p.ID, Amount: 300})
	if err != nil {
		t.Fatal(err)
	}

	repaid := DebtRepaid
	settled, err := m.UpdateDebt(ctx, ledger.ID, UpdateDebtInput{Status: &repaid})
	if err != nil {
		t.Fatal(err)
	}
	if settled.Status != DebtRepaid || settled.NetDebt != 0 {
		t.Fatalf("settled=%+v", settled)
	}

	// Repeating the PATCH with the same target is a no-op, not a second fire.
	if _, err := m.UpdateDebt(ctx, ledger.ID, UpdateDebtInput{Status: &repaid}); err != nil {
		t.Fatalf("repeat settle: %v", err)
	}

	movements, err := m.ListDebtMovements(ctx, ledger.ID)
	if err != nil {
		t.Fatal(err)
	}
	var settleCount int
	for _, mv := range movements {
		if mv.Type == MovementRepay && mv.Status == MovementSettled {
			settleCount++
			if mv.Amount != 300 {
				t.Fatalf("settle movement amount=%d, want 300", mv.Amount)
			}
		}
	}
	if settleCount != 1 {
		t.Fatalf("settle movements=%d, want exactly 1", settleCount)
	}
}

func TestDebtPartialRepaymentDerivesStatus(t *testing.T) {
	m := NewInMemory()
	ctx := context.Background()
	p, _ := m.CreatePerson(ctx, CreatePersonInput{FullName: "Minh"})
	ledger, err := m.CreateDebt(ctx, CreateDebtInput{CreditorPersonID: p.ID, Amount: 1000})
	if err != nil {
		t.Fatal(err)
	}

	repay := int64(400)
	l, err := m.UpdateDebt(ctx, ledger.ID, UpdateDebtInput{Repayment: &repay})
	if err != nil {
		t.Fatal(err)
	}
	if l.Status != DebtPartial || l.NetDebt != 600 {
		t.Fatalf("after partial repay: %+v", l)
	}

	repay = 600
	l, err = m.UpdateDebt(ctx, ledger.ID, UpdateDebtInput{Repayment: &repay})
	if err != nil {
		t.Fatal(err)
	}
	if l.Status != DebtRepaid || l.NetDebt != 0 {
		t.Fatalf("after full repay: %+v", l)
	}
}

func TestApplyCashbackCreditsThroughTransaction(t *testing.T) {
	m := NewInMemory()
	ctx := context.Background()
	acc := newAccount(t, m, 1000)
	src := newTx(t, m, acc.ID, TxExpense, 200_000) // balance 1000-200000

	cb, err := m.CreateCashback(ctx, CreateCashbackInput{
		AccountID: acc.ID, TransactionID: src.ID,
		Type: CashbackPercent, Value: "1.5", Base: 200_000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if cb.Status != CashbackInit || cb.Amount != 3000 {
		t.Fatalf("created cashback: %+v", cb)
	}
	before := balance(t, m, acc.ID)

	applied, err := m.ApplyCashback(ctx, cb.ID)
	if err != nil {
		t.Fatal(err)
	}
	if applied.Status != CashbackApplied {
		t.Fatalf("status=%s", applied.Status)
	}
	if got := balance(t, m, acc.ID); got != before+3000 {
		t.Fatalf("balance=%d, want %d", got, before+3000)
	}

	// Applying twice is a conflict and credits nothing further.
	if _, err := m.ApplyCashback(ctx, cb.ID); err != ErrConflict {
		t.Fatalf("second apply: got %v, want ErrConflict", err)
	}
	if got := balance(t, m, acc.ID); got != before+3000 {
		t.Fatalf("double credit: %d", got)
	}

	// The credit rides a cashback transaction, so replay still matches.
	st, err := m.AccountStatement(ctx, acc.ID, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if st.Drift != 0 {
		t.Fatalf("drift after cashback apply: %d", st.Drift)
	}

	// Source transaction history got a cashback_update row.
	_, history, err := m.GetTransaction(ctx, src.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Action != ActionCashbackUpdate {
		t.Fatalf("history=%+v", history)
	}
}

func TestApplyCashbackCapMarksExceedCap(t *testing.T) {
	m := NewInMemory()
	ctx := context.Background()
	acc := newAccount(t, m, 0)

	cb, err := m.CreateCashback(ctx, CreateCashbackInput{
		AccountID: acc.ID, Type: CashbackPercent, Value: "10", Base: 1_000_000, BudgetCap: 50_000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if cb.Amount != 50_000 {
		t.Fatalf("capped amount=%d", cb.Amount)
	}

	applied, err := m.ApplyCashback(ctx, cb.ID)
	if err != nil {
		t.Fatal(err)
	}
	if applied.Status != CashbackExceedCap {
		t.Fatalf("status=%s, want exceed_cap", applied.Status)
	}
	if got := balance(t, m, acc.ID); got != 50_000 {
		t.Fatalf("balance=%d, want 50000", got)
	}
}

func TestCashbackSummary(t *testing.T) {
	m := NewInMemory()
	ctx := context.Background()
	acc := newAccount(t, m, 0)

	a, _ := m.CreateCashback(ctx, CreateCashbackInput{AccountID: acc.ID, Type: CashbackFixed, Value: "2000"})
	if _, err := m.CreateCashback(ctx, CreateCashbackInput{AccountID: acc.ID, Type: CashbackFixed, Value: "3000"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ApplyCashback(ctx, a.ID); err != nil {
		t.Fatal(err)
	}

	_, sum, err := m.ListCashback(ctx, CashbackFilter{AccountID: acc.ID})
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalCredited != 2000 || sum.TotalPending != 3000 {
		t.Fatalf("summary=%+v", sum)
	}
}

func TestListTransactionsFilterAndPaging(t *testing.T) {
	m := NewInMemory()
	acc := newAccount(t, m, 0)
	other := newAccount(t, m, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		newTx(t, m, acc.ID, TxExpense, int64(100+i))
	}
	newTx(t, m, other.ID, TxIncome, 999)

	items, total, err := m.ListTransactions(ctx, TransactionFilter{
		AccountID: acc.ID,
		Type:      TxExpense,
		Page:      Page{Limit: 2, Offset: 4},
	})
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 {
		t.Fatalf("total=%d, want 5", total)
	}
	if len(items) != 1 {
		t.Fatalf("page items=%d, want 1", len(items))
	}
}
