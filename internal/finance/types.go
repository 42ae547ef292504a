package finance

import (
	"errors"
	"fmt"
	"time"
)

// Amounts are stored in minor units of the account currency. No floats.

// AccountType classifies an account.
type AccountType string

const (
	AccountBank     AccountType = "bank"
	AccountCredit   AccountType = "credit"
	AccountSaving   AccountType = "saving"
	AccountInvest   AccountType = "invest"
	AccountEWallet  AccountType = "e-wallet"
	AccountGroup    AccountType = "group"
	AccountLoan     AccountType = "loan"
	AccountMortgage AccountType = "mortgage"
	AccountCash     AccountType = "cash"
	AccountOther    AccountType = "other"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountInactive  AccountStatus = "inactive"
	AccountClosed    AccountStatus = "closed"
	AccountSuspended AccountStatus = "suspended"
)

// TxType is the transaction type; it fixes the sign of the balance effect.
type TxType string

const (
	TxExpense      TxType = "expense"
	TxIncome       TxType = "income"
	TxDebt         TxType = "debt"
	TxRepayment    TxType = "repayment"
	TxCashback     TxType = "cashback"
	TxSubscription TxType = "subscription"
	TxImport       TxType = "import"
	TxAdjustment   TxType = "adjustment"
)

// TxStatus is the lifecycle state of a transaction.
// active -> void is terminal; pending -> active|canceled, canceled terminal.
type TxStatus string

const (
	TxActive   TxStatus = "active"
	TxPending  TxStatus = "pending"
	TxVoid     TxStatus = "void"
	TxCanceled TxStatus = "canceled"
)

// PersonStatus is the lifecycle state of a person record.
type PersonStatus string

const (
	PersonActive   PersonStatus = "active"
	PersonInactive PersonStatus = "inactive"
	PersonArchived PersonStatus = "archived"
)

// DebtStatus is the lifecycle state of a debt ledger.
// open -> partial -> repaid (terminal); open -> overdue is time-based.
type DebtStatus string

const (
	DebtOpen    DebtStatus = "open"
	DebtPartial DebtStatus = "partial"
	DebtRepaid  DebtStatus = "repaid"
	DebtOverdue DebtStatus = "overdue"
)

// DebtMovementType classifies an append-only debt ledger event.
type DebtMovementType string

const (
	MovementBorrow   DebtMovementType = "borrow"
	MovementRepay    DebtMovementType = "repay"
	MovementAdjust   DebtMovementType = "adjust"
	MovementDiscount DebtMovementType = "discount"
	MovementSplit    DebtMovementType = "split"
)

// DebtMovementStatus is the state of a debt movement.
type DebtMovementStatus string

const (
	MovementActive   DebtMovementStatus = "active"
	MovementSettled  DebtMovementStatus = "settled"
	MovementReversed DebtMovementStatus = "reversed"
)

// CashbackType selects how the accrual is computed.
type CashbackType string

const (
	CashbackPercent CashbackType = "percent"
	CashbackFixed   CashbackType = "fixed"
)

// CashbackStatus is the accrual state of a cashback movement.
// Only applied movements are reflected in the account balance.
type CashbackStatus string

const (
	CashbackInit        CashbackStatus = "init"
	CashbackApplied     CashbackStatus = "applied"
	CashbackExceedCap   CashbackStatus = "exceed_cap"
	CashbackInvalidated CashbackStatus = "invalidated"
)

// HistoryAction is the kind of mutation a history row records.
type HistoryAction string

const (
	ActionUpdate         HistoryAction = "update"
	ActionDelete         HistoryAction = "delete"
	ActionCashbackUpdate HistoryAction = "cashback_update"
)

// AssetType classifies an asset.
type AssetType string

const (
	AssetSaving     AssetType = "saving"
	AssetInvest     AssetType = "invest"
	AssetRealEstate AssetType = "real_estate"
	AssetCrypto     AssetType = "crypto"
	AssetBond       AssetType = "bond"
	AssetCollateral AssetType = "collateral"
	AssetOther      AssetType = "other"
)

// AssetStatus is the lifecycle state of an asset.
type AssetStatus string

const (
	AssetActive      AssetStatus = "active"
	AssetSold        AssetStatus = "sold"
	AssetTransferred AssetStatus = "transferred"
	AssetFrozen      AssetStatus = "frozen"
)

// Account holds a running balance maintained by the transaction protocol.
// CurrentBalance always equals OpeningBalance plus the signed sum of the
// effects of its non-void, non-deleted transactions.
type Account struct {
	ID             string        `json:"id"`
	Name           string        `json:"account_name"`
	Type           AccountType   `json:"account_type"`
	Currency       string        `json:"currency"`
	OpeningBalance int64         `json:"opening_balance"`
	CurrentBalance int64         `json:"current_balance"`
	Status         AccountStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	DeletedAt      *time.Time    `json:"deleted_at,omitempty"`
}

// Transaction is the sole authority for balance deltas on its account.
type Transaction struct {
	ID         string     `json:"id"`
	AccountID  string     `json:"account_id"`
	PersonID   string     `json:"person_id,omitempty"`
	Type       TxType     `json:"type"`
	Amount     int64      `json:"amount"` // positive magnitude; sign comes from Type
	Fee        int64      `json:"fee,omitempty"`
	Category   string     `json:"category,omitempty"`
	Notes      string     `json:"description,omitempty"`
	Status     TxStatus   `json:"status"`
	OccurredOn time.Time  `json:"transaction_date"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// Person is a creditor/debtor counterparty.
type Person struct {
	ID        string       `json:"id"`
	FullName  string       `json:"person_name"`
	Email     string       `json:"email,omitempty"`
	Phone     string       `json:"phone,omitempty"`
	Status    PersonStatus `json:"status"`
	Note      string       `json:"note,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Category names a spending/earning bucket for transactions.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DebtLedger tracks what one person owes within a billing cycle.
// NetDebt = InitialDebt + NewDebt - Repayments - Discount.
type DebtLedger struct {
	ID               string     `json:"id"`
	CreditorPersonID string     `json:"creditor_person_id"`
	DebtorAccountID  string     `json:"debtor_account_id,omitempty"`
	CycleTag         string     `json:"cycle_tag,omitempty"`
	InitialDebt      int64      `json:"initial_debt"`
	NewDebt          int64      `json:"new_debt"`
	Repayments       int64      `json:"repayments"`
	Discount         int64      `json:"debt_discount"`
	NetDebt          int64      `json:"net_debt"`
	Status           DebtStatus `json:"status"`
	Reason           string     `json:"reason,omitempty"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	UpdatedAt        time.Time  `json:"last_updated"`
}

// DebtMovement is an append-only record of a debt ledger event.
type DebtMovement struct {
	ID        string             `json:"id"`
	LedgerID  string             `json:"debt_ledger_id"`
	PersonID  string             `json:"person_id"`
	AccountID string             `json:"account_id,omitempty"`
	Type      DebtMovementType   `json:"movement_type"`
	Amount    int64              `json:"amount"`
	CycleTag  string             `json:"cycle_tag,omitempty"`
	Status    DebtMovementStatus `json:"status"`
	CreatedAt time.Time          `json:"created_at"`
}

// CashbackMovement is a cashback accrual against an account.
type CashbackMovement struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transaction_id,omitempty"`
	AccountID     string         `json:"account_id"`
	CycleTag      string         `json:"cycle_tag"`
	Type          CashbackType   `json:"cashback_type"`
	Value         string         `json:"cashback_value"` // decimal string: percent rate or fixed minor units
	Amount        int64          `json:"cashback_amount"`
	BudgetCap     int64          `json:"budget_cap,omitempty"`
	Status        CashbackStatus `json:"status"`
	Note          string         `json:"note,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// HistoryEntry is an immutable audit row for one transaction mutation.
// SeqNo is gapless per transaction, starting at 1.
type HistoryEntry struct {
	ID            string        `json:"id"`
	TransactionID string        `json:"transaction_id"`
	SnapshotID    string        `json:"transaction_id_snapshot"`
	OldAmount     *int64        `json:"old_amount,omitempty"`
	NewAmount     *int64        `json:"new_amount,omitempty"`
	OldCashback   *int64        `json:"old_cashback,omitempty"`
	NewCashback   *int64        `json:"new_cashback,omitempty"`
	Action        HistoryAction `json:"action"`
	SeqNo         int           `json:"seq_no"`
	EditedBy      string        `json:"edited_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Asset is a tracked holding optionally linked to an account.
type Asset struct {
	ID              string      `json:"id"`
	Name            string      `json:"asset_name"`
	Type            AssetType   `json:"asset_type"`
	LinkedAccountID string      `json:"linked_account_id,omitempty"`
	Status          AssetStatus `json:"status"`
	InitialValue    int64       `json:"initial_value"`
	CurrentValue    int64       `json:"current_value"`
	Currency        string      `json:"currency"`
	AcquiredAt      *time.Time  `json:"acquired_at,omitempty"`
	Notes           string      `json:"notes,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Statement is the recomputed (reconciliation) view of an account, built by
// replaying active transactions up to an as-of date. CurrentBalance on the
// account row stays authoritative for live reads; Drift reports divergence.
type Statement struct {
	AccountID       string    `json:"account_id"`
	AsOf            time.Time `json:"as_of"`
	OpeningBalance  int64     `json:"opening_balance"`
	TotalIncome     int64     `json:"total_income"`
	TotalExpense    int64     `json:"total_expense"`
	TotalDebt       int64     `json:"total_debt"`
	TotalRepayments int64     `json:"total_repayments"`
	TotalCashback   int64     `json:"total_cashback"`
	TotalFees       int64     `json:"total_fees"`
	Computed        int64     `json:"computed_balance"`
	CurrentBalance  int64     `json:"current_balance"`
	Drift           int64     `json:"drift"`
}

// CashbackSummary aggregates accrual state across movements.
type CashbackSummary struct {
	TotalEarned   int64 `json:"total_earned"`
	TotalPending  int64 `json:"total_pending"`
	TotalCredited int64 `json:"total_credited"`
}

var (
	// ErrNotFound covers missing and already soft-deleted entities.
	ErrNotFound = errors.New("not found")
	// ErrConflict covers writes that would violate a business rule.
	ErrConflict = errors.New("conflict")
)

// ValidationError reports a rejected input field. It is raised before any
// write is attempted.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

func validAccountType(t AccountType) bool {
	switch t {
	case AccountBank, AccountCredit, AccountSaving, AccountInvest, AccountEWallet,
		AccountGroup, AccountLoan, AccountMortgage, AccountCash, AccountOther:
		return true
	}
	return false
}

func validTxType(t TxType) bool {
	switch t {
	case TxExpense, TxIncome, TxDebt, TxRepayment, TxCashback, TxSubscription,
		TxImport, TxAdjustment:
		return true
	}
	return false
}

func validTxStatus(s TxStatus) bool {
	switch s {
	case TxActive, TxPending, TxVoid, TxCanceled:
		return true
	}
	return false
}

func validDebtStatus(s DebtStatus) bool {
	switch s {
	case DebtOpen, DebtPartial, DebtRepaid, DebtOverdue:
		return true
	}
	return false
}

func validAssetType(t AssetType) bool {
	switch t {
	case AssetSaving, AssetInvest, AssetRealEstate, AssetCrypto, AssetBond,
		AssetCollateral, AssetOther:
		return true
	}
	return false
}
