package finance

import (
	"context"
	"strings"
	"time"
)

// Page bounds list queries. Zero Limit falls back to the default.
type Page struct {
	Limit  int
	Offset int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 200
)

// Clamp normalizes the page bounds.
func (p Page) Clamp() Page {
	if p.Limit <= 0 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// CreateAccountInput is the validated payload for opening an account.
type CreateAccountInput struct {
	Name           string
	Type           AccountType
	Currency       string
	OpeningBalance int64
}

// Validate rejects malformed input before any write is attempted.
func (in *CreateAccountInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return invalid("account_name", "is required")
	}
	if len(in.Name) > 120 {
		return invalid("account_name", "must be 120 characters or less")
	}
	if !validAccountType(in.Type) {
		return invalid("account_type", "unknown type")
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = "VND"
	}
	if len(in.Currency) > 8 {
		return invalid("currency", "code too long")
	}
	return nil
}

// UpdateAccountInput carries a partial account update; nil fields are left
// untouched.
type UpdateAccountInput struct {
	Name     *string
	Type     *AccountType
	Currency *string
	Status   *AccountStatus
}

func (in *UpdateAccountInput) Validate() error {
	if in.Name != nil {
		*in.Name = strings.TrimSpace(*in.Name)
		if *in.Name == "" {
			return invalid("account_name", "must not be empty")
		}
	}
	if in.Type != nil && !validAccountType(*in.Type) {
		return invalid("account_type", "unknown type")
	}
	if in.Status != nil {
		switch *in.Status {
		case AccountActive, AccountInactive, AccountSuspended:
		default:
			return invalid("status", "closed is set via delete, not patch")
		}
	}
	if in.Currency != nil {
		*in.Currency = strings.ToUpper(strings.TrimSpace(*in.Currency))
		if *in.Currency == "" || len(*in.Currency) > 8 {
			return invalid("currency", "invalid code")
		}
	}
	return nil
}

// CreateTransactionInput is the validated payload for recording a transaction.
type CreateTransactionInput struct {
	AccountID  string
	PersonID   string
	Type       TxType
	Amount     int64
	Fee        int64
	Category   string
	Notes      string
	Status     TxStatus
	OccurredOn time.Time
}

func (in *CreateTransactionInput) Validate() error {
	if strings.TrimSpace(in.AccountID) == "" {
		return invalid("account_id", "is required")
	}
	if !validTxType(in.Type) {
		return invalid("type", "unknown type")
	}
	if in.Type == TxAdjustment {
		if in.Amount == 0 {
			return invalid("amount", "adjustment must not be zero")
		}
	} else if in.Amount <= 0 {
		return invalid("amount", "must be positive")
	}
	if in.Fee < 0 {
		return invalid("fee", "must not be negative")
	}
	if in.Status == "" {
		in.Status = TxActive
	}
	switch in.Status {
	case TxActive, TxPending:
	default:
		return invalid("status", "new transactions must be active or pending")
	}
	if in.OccurredOn.IsZero() {
		return invalid("transaction_date", "is required")
	}
	return nil
}

// UpdateTransactionInput carries a partial amendment; nil fields are left
// untouched. Status transitions are checked against the state machine.
type UpdateTransactionInput struct {
	Type     *TxType
	Amount   *int64
	Fee      *int64
	Category *string
	Notes    *string
	Status   *TxStatus
}

// Validate checks the amendment. The amount sign rule follows the
// transaction's resolved type: the patched type when given, otherwise
// current, so amending an adjustment never requires re-sending its type.
func (in *UpdateTransactionInput) Validate(current TxType) error {
	if in.Type != nil && !validTxType(*in.Type) {
		return invalid("type", "unknown type")
	}
	if in.Amount != nil {
		typ := current
		if in.Type != nil {
			typ = *in.Type
		}
		if typ == TxAdjustment {
			if *in.Amount == 0 {
				return invalid("amount", "adjustment must not be zero")
			}
		} else if *in.Amount <= 0 {
			return invalid("amount", "must be positive")
		}
	}
	if in.Fee != nil && *in.Fee < 0 {
		return invalid("fee", "must not be negative")
	}
	if in.Status != nil && !validTxStatus(*in.Status) {
		return invalid("status", "unknown status")
	}
	return nil
}

// Empty reports whether the amendment changes nothing.
func (in UpdateTransactionInput) Empty() bool {
	return in.Type == nil && in.Amount == nil && in.Fee == nil &&
		in.Category == nil && in.Notes == nil && in.Status == nil
}

// TransactionFilter selects transactions for listing.
type TransactionFilter struct {
	AccountID string
	PersonID  string
	Type      TxType
	Status    TxStatus
	Category  string
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      Page
}

// Match reports whether a transaction passes the filter (paging aside).
func (f TransactionFilter) Match(tx Transaction) bool {
	if f.AccountID != "" && tx.AccountID != f.AccountID {
		return false
	}
	if f.PersonID != "" && tx.PersonID != f.PersonID {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if f.Category != "" && tx.Category != f.Category {
		return false
	}
	if f.DateFrom != nil && tx.OccurredOn.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && tx.OccurredOn.After(*f.DateTo) {
		return false
	}
	return true
}

// CreatePersonInput is the validated payload for adding a counterparty.
type CreatePersonInput struct {
	FullName string
	Email    string
	Phone    string
	Note     string
}

func (in *CreatePersonInput) Validate() error {
	in.FullName = strings.TrimSpace(in.FullName)
	if in.FullName == "" {
		return invalid("person_name", "is required")
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return invalid("email", "must be an email address")
	}
	return nil
}

// CreateDebtInput opens a debt ledger for a creditor.
type CreateDebtInput struct {
	CreditorPersonID string
	DebtorAccountID  string
	Amount           int64
	CycleTag         string
	Reason           string
	DueDate          *time.Time
}

func (in *CreateDebtInput) Validate() error {
	if strings.TrimSpace(in.CreditorPersonID) == "" {
		return invalid("creditor_person_id", "is required")
	}
	if in.Amount <= 0 {
		return invalid("amount", "must be positive")
	}
	if in.CycleTag == "" {
		in.CycleTag = time.Now().UTC().Format("2006-01")
	}
	return nil
}

// UpdateDebtInput amends a ledger. Setting Status to repaid settles the
// ledger and emits exactly one repay movement.
type UpdateDebtInput struct {
	Repayment *int64
	Discount  *int64
	Status    *DebtStatus
}

func (in *UpdateDebtInput) Validate() error {
	if in.Repayment != nil && *in.Repayment <= 0 {
		return invalid("repayment", "must be positive")
	}
	if in.Discount != nil && *in.Discount <= 0 {
		return invalid("discount", "must be positive")
	}
	if in.Status != nil && !validDebtStatus(*in.Status) {
		return invalid("status", "unknown status")
	}
	return nil
}

// DebtFilter selects debt ledgers for listing.
type DebtFilter struct {
	AccountID string
	PersonID  string
	Status    DebtStatus
	Page      Page
}

// CreateCashbackInput records a cashback accrual in init state.
type CreateCashbackInput struct {
	AccountID     string
	TransactionID string
	Type          CashbackType
	Value         string
	Base          int64 // spend the accrual is computed from, percent only
	BudgetCap     int64
	CycleTag      string
	Note          string
}

func (in *CreateCashbackInput) Validate() error {
	if strings.TrimSpace(in.AccountID) == "" {
		return invalid("account_id", "is required")
	}
	switch in.Type {
	case CashbackPercent:
		if in.Base <= 0 {
			return invalid("base", "is required for percent cashback")
		}
	case CashbackFixed:
	default:
		return invalid("cashback_type", "must be percent or fixed")
	}
	if strings.TrimSpace(in.Value) == "" {
		return invalid("cashback_value", "is required")
	}
	if in.BudgetCap < 0 {
		return invalid("budget_cap", "must not be negative")
	}
	if in.CycleTag == "" {
		in.CycleTag = time.Now().UTC().Format("2006-01")
	}
	return nil
}

// CashbackFilter selects cashback movements for listing.
type CashbackFilter struct {
	AccountID string
	CycleTag  string
}

// CreateAssetInput records a tracked holding.
type CreateAssetInput struct {
	Name            string
	Type            AssetType
	Currency        string
	InitialValue    int64
	LinkedAccountID string
	AcquiredAt      *time.Time
	Notes           string
}

func (in *CreateAssetInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return invalid("asset_name", "is required")
	}
	if !validAssetType(in.Type) {
		return invalid("asset_type", "unknown type")
	}
	if in.InitialValue < 0 {
		return invalid("initial_value", "must not be negative")
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = "VND"
	}
	return nil
}

// Service defines the tracker operations. The Postgres store and the
// in-memory double both implement it; handlers depend on nothing else.
type Service interface {
	CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	ListAccounts(ctx context.Context, page Page) ([]Account, int, error)
	UpdateAccount(ctx context.Context, id string, in UpdateAccountInput) (Account, error)
	CloseAccount(ctx context.Context, id string) error
	AccountStatement(ctx context.Context, id string, asOf time.Time) (Statement, error)

	CreateTransaction(ctx context.Context, in CreateTransactionInput) (Transaction, error)
	GetTransaction(ctx context.Context, id string) (Transaction, []HistoryEntry, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, int, error)
	UpdateTransaction(ctx context.Context, id string, in UpdateTransactionInput) (Transaction, error)
	VoidTransaction(ctx context.Context, id string) error

	CreatePerson(ctx context.Context, in CreatePersonInput) (Person, error)
	ListPeople(ctx context.Context, page Page) ([]Person, int, error)

	ListCategories(ctx context.Context) ([]Category, error)

	CreateDebt(ctx context.Context, in CreateDebtInput) (DebtLedger, error)
	GetDebt(ctx context.Context, id string) (DebtLedger, error)
	ListDebts(ctx context.Context, f DebtFilter) ([]DebtLedger, int, error)
	UpdateDebt(ctx context.Context, id string, in UpdateDebtInput) (DebtLedger, error)
	ListDebtMovements(ctx context.Context, ledgerID string) ([]DebtMovement, error)

	CreateCashback(ctx context.Context, in CreateCashbackInput) (CashbackMovement, error)
	ListCashback(ctx context.Context, f CashbackFilter) ([]CashbackMovement, CashbackSummary, error)
	ApplyCashback(ctx context.Context, id string) (CashbackMovement, error)

	CreateAsset(ctx context.Context, in CreateAssetInput) (Asset, error)
	ListAssets(ctx context.Context, page Page) ([]Asset, int, error)
}
