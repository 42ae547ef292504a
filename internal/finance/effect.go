package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignedEffect returns the balance delta a transaction of the given type and
// positive magnitude produces. income/cashback/repayment credit the account,
// expense/debt/subscription debit it, adjustment carries its own sign, and
// import is neutral: imported rows describe history already reflected in the
// opening balance.
func SignedEffect(t TxType, amount int64) int64 {
	switch t {
	case TxIncome, TxCashback, TxRepayment:
		return amount
	case TxExpense, TxDebt, TxSubscription:
		return -amount
	case TxAdjustment:
		return amount
	case TxImport:
		return 0
	}
	return 0
}

// Effect is the contribution a transaction makes to its account balance in
// its current state. Only active transactions contribute; pending, void and
// canceled rows count for zero. Fees always debit.
func Effect(tx Transaction) int64 {
	if tx.Status != TxActive || tx.DeletedAt != nil {
		return 0
	}
	return SignedEffect(tx.Type, tx.Amount) - tx.Fee
}

// TransitionAllowed reports whether a transaction status change is legal.
// active -> void is terminal; pending -> active|canceled; canceled terminal.
func TransitionAllowed(from, to TxStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case TxActive:
		return to == TxVoid
	case TxPending:
		return to == TxActive || to == TxCanceled
	}
	return false
}

// NetDebt applies the ledger identity:
// net = initial + new - repayments - discount.
func NetDebt(l DebtLedger) int64 {
	return l.InitialDebt + l.NewDebt - l.Repayments - l.Discount
}

// DeriveDebtStatus computes the ledger status from its amounts and due date.
// repaid is terminal; overdue is time-based and never set by the caller.
func DeriveDebtStatus(l DebtLedger, now time.Time) DebtStatus {
	net := NetDebt(l)
	switch {
	case net <= 0 && l.InitialDebt+l.NewDebt > 0:
		return DebtRepaid
	case l.DueDate != nil && now.After(*l.DueDate) && net > 0:
		return DebtOverdue
	case l.Repayments+l.Discount > 0 && net > 0:
		return DebtPartial
	default:
		return DebtOpen
	}
}

// CashbackAmount computes the accrued minor units for a movement. Percent
// rates use decimal arithmetic and round half-up; the budget cap truncates
// the result, and capped reports whether it did.
func CashbackAmount(kind CashbackType, value string, base int64, cap int64) (amount int64, capped bool, err error) {
	val, err := decimal.NewFromString(value)
	if err != nil {
		return 0, false, invalid("cashback_value", "must be a decimal number")
	}
	if val.IsNegative() {
		return 0, false, invalid("cashback_value", "must not be negative")
	}

	var accrued decimal.Decimal
	switch kind {
	case CashbackPercent:
		accrued = val.Mul(decimal.NewFromInt(base)).Div(decimal.NewFromInt(100))
	case CashbackFixed:
		accrued = val
	default:
		return 0, false, invalid("cashback_type", "must be percent or fixed")
	}

	amount = accrued.Round(0).IntPart()
	if cap > 0 && amount > cap {
		return cap, true, nil
	}
	return amount, false, nil
}

// Replay folds active transactions occurring up to asOf into a Statement.
// The caller fills CurrentBalance and Drift from the account row; this path
// exists for reconciliation and never feeds live balances.
func Replay(accountID string, opening int64, txs []Transaction, asOf time.Time) Statement {
	st := Statement{
		AccountID:      accountID,
		AsOf:           asOf,
		OpeningBalance: opening,
	}
	for _, tx := range txs {
		if tx.Status != TxActive || tx.DeletedAt != nil {
			continue
		}
		if tx.OccurredOn.After(asOf) {
			continue
		}
		switch tx.Type {
		case TxIncome:
			st.TotalIncome += tx.Amount
		case TxExpense, TxSubscription:
			st.TotalExpense += tx.Amount
		case TxDebt:
			st.TotalDebt += tx.Amount
		case TxRepayment:
			st.TotalRepayments += tx.Amount
		case TxCashback:
			st.TotalCashback += tx.Amount
		case TxAdjustment:
			if tx.Amount >= 0 {
				st.TotalIncome += tx.Amount
			} else {
				st.TotalExpense += -tx.Amount
			}
		}
		st.TotalFees += tx.Fee
	}
	st.Computed = st.OpeningBalance + st.TotalIncome + st.TotalCashback +
		st.TotalRepayments - st.TotalExpense - st.TotalDebt - st.TotalFees
	return st
}
