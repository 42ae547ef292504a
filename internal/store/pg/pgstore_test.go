package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"finbook.org/internal/finance"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func txRow(id, accountID string, typ finance.TxType, amount, fee int64, status finance.TxStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"transaction_id", "account_id", "person_id", "type", "amount", "fee",
		"category", "notes", "status", "occurred_on", "created_at", "updated_at", "deleted_at",
	}).AddRow(id, accountID, "", string(typ), amount, fee, "", "", string(status), now, now, now, nil)
}

func TestCreateTransactionAppliesEffect(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from accounts").
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("insert into transactions").
		WithArgs("acc-1", "", "expense", int64(500), int64(0), "", "", "active", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id"}).AddRow("tx-1"))
	mock.ExpectQuery("select (.+) from transactions t where t.transaction_id").
		WithArgs("tx-1").
		WillReturnRows(txRow("tx-1", "acc-1", finance.TxExpense, 500, 0, finance.TxActive))
	mock.ExpectExec("update accounts set current_balance = current_balance \\+ \\$2").
		WithArgs("acc-1", int64(-500)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := s.CreateTransaction(context.Background(), finance.CreateTransactionInput{
		AccountID:  "acc-1",
		Type:       finance.TxExpense,
		Amount:     500,
		Status:     finance.TxActive,
		OccurredOn: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if tx.ID != "tx-1" {
		t.Fatalf("unexpected id: %s", tx.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateTransactionPendingSkipsBalanceWrite(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from accounts").
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("insert into transactions").
		WillReturnRows(sqlmock.NewRows([]string{"transaction_id"}).AddRow("tx-2"))
	mock.ExpectQuery("select (.+) from transactions t where t.transaction_id").
		WithArgs("tx-2").
		WillReturnRows(txRow("tx-2", "acc-1", finance.TxIncome, 900, 0, finance.TxPending))
	// Effect of a pending transaction is zero; no balance update is issued.
	mock.ExpectCommit()

	_, err := s.CreateTransaction(context.Background(), finance.CreateTransactionInput{
		AccountID:  "acc-1",
		Type:       finance.TxIncome,
		Amount:     900,
		Status:     finance.TxPending,
		OccurredOn: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateTransactionMissingAccount(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from accounts").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.CreateTransaction(context.Background(), finance.CreateTransactionInput{
		AccountID:  "ghost",
		Type:       finance.TxExpense,
		Amount:     100,
		Status:     finance.TxActive,
		OccurredOn: time.Now().UTC(),
	})
	if !errors.Is(err, finance.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateDebtSkipsArchivedCreditor(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`select 1 from people where person_id = \$1 and status <> 'archived'`).
		WithArgs("person-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.CreateDebt(context.Background(), finance.CreateDebtInput{
		CreditorPersonID: "person-1",
		Amount:           1000,
		CycleTag:         "2026-08",
	})
	if !errors.Is(err, finance.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateTransactionAmendWritesDeltaAndHistory(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from transactions t").
		WithArgs("tx-1").
		WillReturnRows(txRow("tx-1", "acc-1", finance.TxIncome, 100, 0, finance.TxActive))
	mock.ExpectExec("update transactions set").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select (.+) from transactions t where t.transaction_id").
		WithArgs("tx-1").
		WillReturnRows(txRow("tx-1", "acc-1", finance.TxIncome, 150, 0, finance.TxActive))
	mock.ExpectExec("update accounts set current_balance = current_balance \\+ \\$2").
		WithArgs("acc-1", int64(50)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into transaction_history").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	amount := int64(150)
	tx, err := s.UpdateTransaction(context.Background(), "tx-1", finance.UpdateTransactionInput{Amount: &amount})
	if err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	if tx.Amount != 150 {
		t.Fatalf("unexpected amount: %d", tx.Amount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateTransactionRejectsBadTransition(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from transactions t").
		WithArgs("tx-1").
		WillReturnRows(txRow("tx-1", "acc-1", finance.TxIncome, 100, 0, finance.TxPending))
	mock.ExpectRollback()

	status := finance.TxVoid
	_, err := s.UpdateTransaction(context.Background(), "tx-1", finance.UpdateTransactionInput{Status: &status})
	if !errors.Is(err, finance.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestVoidTransactionGoneReturnsNotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from transactions t").
		WithArgs("tx-9").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := s.VoidTransaction(context.Background(), "tx-9")
	if !errors.Is(err, finance.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCloseAccountWithActiveTransactionsConflicts(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select 1 from accounts").
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery("select count\\(\\*\\) from transactions").
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	err := s.CloseAccount(context.Background(), "acc-1")
	if !errors.Is(err, finance.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func debtRow(id string, initial, newDebt, repayments, discount int64, status finance.DebtStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	net := initial + newDebt - repayments - discount
	return sqlmock.NewRows([]string{
		"debt_ledger_id", "creditor_person_id", "debtor_account_id", "cycle_tag",
		"initial_debt", "new_debt", "repayments", "debt_discount", "net_debt",
		"status", "reason", "due_date", "last_updated",
	}).AddRow(id, "person-1", "", "2026-08", initial, newDebt, repayments, discount, net,
		string(status), "", nil, now)
}

func TestUpdateDebtExplicitSettleEmitsOneSettledMovement(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from debt_ledger").
		WithArgs("debt-1").
		WillReturnRows(debtRow("debt-1", 1000, 0, 700, 0, finance.DebtPartial))
	mock.ExpectExec("insert into debt_movements").
		WithArgs("debt-1", "person-1", "", "repay", int64(300), "2026-08", "settled").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("update debt_ledger set").
		WithArgs("debt-1", int64(1000), int64(0), int64(0), "repaid", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	status := finance.DebtRepaid
	l, err := s.UpdateDebt(context.Background(), "debt-1", finance.UpdateDebtInput{Status: &status})
	if err != nil {
		t.Fatalf("UpdateDebt: %v", err)
	}
	if l.Status != finance.DebtRepaid || l.NetDebt != 0 {
		t.Fatalf("unexpected ledger: status=%s net=%d", l.Status, l.NetDebt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateDebtRepeatedSettleIsNoOp(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from debt_ledger").
		WithArgs("debt-1").
		WillReturnRows(debtRow("debt-1", 1000, 0, 1000, 0, finance.DebtRepaid))
	mock.ExpectRollback()

	status := finance.DebtRepaid
	l, err := s.UpdateDebt(context.Background(), "debt-1", finance.UpdateDebtInput{Status: &status})
	if err != nil {
		t.Fatalf("UpdateDebt: %v", err)
	}
	if l.Status != finance.DebtRepaid {
		t.Fatalf("unexpected status: %s", l.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func cashbackRow(id, accountID string, amount, cap int64, status finance.CashbackStatus) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"cashback_movement_id", "transaction_id", "account_id", "cycle_tag",
		"cashback_type", "cashback_value", "cashback_amount", "budget_cap",
		"status", "note", "created_at", "updated_at",
	}).AddRow(id, "", accountID, "2026-08", "fixed", "3000", amount, cap, string(status), "", now, now)
}

func TestApplyCashbackCreditsThroughTransaction(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from cashback_movements").
		WithArgs("cb-1").
		WillReturnRows(cashbackRow("cb-1", "acc-1", 3000, 0, finance.CashbackInit))
	mock.ExpectQuery("select 1 from accounts").
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("insert into transactions").
		WithArgs("acc-1", int64(3000), "cashback cb-1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("update accounts set current_balance = current_balance \\+ \\$2").
		WithArgs("acc-1", int64(3000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("update cashback_movements set status").
		WithArgs("cb-1", "applied").
		WillReturnRows(cashbackRow("cb-1", "acc-1", 3000, 0, finance.CashbackApplied))
	mock.ExpectCommit()

	cb, err := s.ApplyCashback(context.Background(), "cb-1")
	if err != nil {
		t.Fatalf("ApplyCashback: %v", err)
	}
	if cb.Status != finance.CashbackApplied {
		t.Fatalf("unexpected status: %s", cb.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyCashbackTwiceConflicts(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from cashback_movements").
		WithArgs("cb-1").
		WillReturnRows(cashbackRow("cb-1", "acc-1", 3000, 0, finance.CashbackApplied))
	mock.ExpectRollback()

	_, err := s.ApplyCashback(context.Background(), "cb-1")
	if !errors.Is(err, finance.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
