package finance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"finbook.org/internal/ids"
)

// InMemory implements Service with in-process state. It is the reference
// implementation of the balance protocol, used by HTTP tests and as a dev
// backend; the Postgres store mirrors its semantics.
type InMemory struct {
	mu         sync.RWMutex
	accounts   map[string]*Account
	accOrder   []string
	txs        map[string]*Transaction
	txOrder    []string
	history    map[string][]HistoryEntry // transaction id -> entries, seq order
	people     map[string]*Person
	peopleOrd  []string
	categories []Category
	debts      map[string]*DebtLedger
	debtOrder  []string
	movements  []DebtMovement
	cashback   map[string]*CashbackMovement
	cbOrder    []string
	assets     map[string]*Asset
	assetOrder []string
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty tracker with the default category set.
func NewInMemory() *InMemory {
	m := &InMemory{
		accounts: make(map[string]*Account),
		txs:      make(map[string]*Transaction),
		history:  make(map[string][]HistoryEntry),
		people:   make(map[string]*Person),
		debts:    make(map[string]*DebtLedger),
		cashback: make(map[string]*CashbackMovement),
		assets:   make(map[string]*Asset),
	}
	for _, name := range []string{
		"groceries", "dining", "transport", "utilities", "rent", "salary",
		"health", "entertainment", "travel", "education", "other",
	} {
		m.categories = append(m.categories, Category{ID: uuid.NewString(), Name: name})
	}
	return m
}

func (m *InMemory) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	acc := &Account{
		ID:             uuid.NewString(),
		Name:           in.Name,
		Type:           in.Type,
		Currency:       in.Currency,
		OpeningBalance: in.OpeningBalance,
		CurrentBalance: in.OpeningBalance,
		Status:         AccountActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.accounts[acc.ID] = acc
	m.accOrder = append(m.accOrder, acc.ID)
	return *acc, nil
}

// liveAccount returns the account unless it is missing or soft-deleted.
func (m *InMemory) liveAccount(id string) (*Account, error) {
	acc, ok := m.accounts[id]
	if !ok || acc.DeletedAt != nil || acc.Status == AccountClosed {
		return nil, ErrNotFound
	}
	return acc, nil
}

func (m *InMemory) GetAccount(ctx context.Context, id string) (Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, err := m.liveAccount(id)
	if err != nil {
		return Account{}, err
	}
	return *acc, nil
}

func (m *InMemory) ListAccounts(ctx context.Context, page Page) ([]Account, int, error) {
	page = page.Clamp()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var live []Account
	for i := len(m.accOrder) - 1; i >= 0; i-- { // newest first
		acc := m.accounts[m.accOrder[i]]
		if acc.DeletedAt != nil {
			continue
		}
		live = append(live, *acc)
	}
	return slice(live, page), len(live), nil
}

func (m *InMemory) UpdateAccount(ctx context.Context, id string, in UpdateAccountInput) (Account, error) {
	if err := in.Validate(); err != nil {
		return Account{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, err := m.liveAccount(id)
	if err != nil {
		return Account{}, err
	}
	if in.Name != nil {
		acc.Name = *in.Name
	}
	if in.Type != nil {
		acc.Type = *in.Type
	}
	if in.Currency != nil {
		acc.Currency = *in.Currency
	}
	if in.Status != nil {
		acc.Status = *in.Status
	}
	acc.UpdatedAt = time.Now().UTC()
	return *acc, nil
}

func (m *InMemory) CloseAccount(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, err := m.liveAccount(id)
	if err != nil {
		return err
	}
	for _, txID := range m.txOrder {
		tx := m.txs[txID]
		if tx.AccountID == id && tx.Status == TxActive && tx.DeletedAt == nil {
			return ErrConflict
		}
	}
	now := time.Now().UTC()
	acc.Status = AccountClosed
	acc.DeletedAt = &now
	acc.UpdatedAt = now
	return nil
}

func (m *InMemory) AccountStatement(ctx context.Context, id string, asOf time.Time) (Statement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, err := m.liveAccount(id)
	if err != nil {
		return Statement{}, err
	}
	var txs []Transaction
	for _, txID := range m.txOrder {
		tx := m.txs[txID]
		if tx.AccountID == id {
			txs = append(txs, *tx)
		}
	}
	st := Replay(id, acc.OpeningBalance, txs, asOf)
	st.CurrentBalance = acc.CurrentBalance
	st.Drift = acc.CurrentBalance - st.Computed
	return st, nil
}

func (m *InMemory) CreateTransaction(ctx context.Context, in CreateTransactionInput) (Transaction, error) {
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, err := m.liveAccount(in.AccountID)
	if err != nil {
		return Transaction{}, err
	}
	if in.PersonID != "" {
		if _, ok := m.people[in.PersonID]; !ok {
			return Transaction{}, ErrNotFound
		}
	}

	now := time.Now().UTC()
	tx := &Transaction{
		ID:         uuid.NewString(),
		AccountID:  in.AccountID,
		PersonID:   in.PersonID,
		Type:       in.Type,
		Amount:     in.Amount,
		Fee:        in.Fee,
		Category:   in.Category,
		Notes:      in.Notes,
		Status:     in.Status,
		OccurredOn: in.OccurredOn,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.txs[tx.ID] = tx
	m.txOrder = append(m.txOrder, tx.ID)

	// Both writes land together; a pending row contributes zero.
	acc.CurrentBalance += Effect(*tx)
	acc.UpdatedAt = now
	return *tx, nil
}

func (m *InMemory) GetTransaction(ctx context.Context, id string) (Transaction, []HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.txs[id]
	if !ok || tx.DeletedAt != nil {
		return Transaction{}, nil, ErrNotFound
	}
	entries := m.history[id]
	out := make([]HistoryEntry, len(entries))
	for i, e := range entries { // newest first
		out[len(entries)-1-i] = e
	}
	return *tx, out, nil
}

func (m *InMemory) ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, int, error) {
	f.Page = f.Page.Clamp()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []Transaction
	for _, txID := range m.txOrder {
		tx := m.txs[txID]
		if tx.DeletedAt != nil || !f.Match(*tx) {
			continue
		}
		matched = append(matched, *tx)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].OccurredOn.After(matched[j].OccurredOn)
	})
	return slice(matched, f.Page), len(matched), nil
}

func (m *InMemory) UpdateTransaction(ctx context.Context, id string, in UpdateTransactionInput) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[id]
	if !ok || tx.DeletedAt != nil || tx.Status == TxVoid {
		return Transaction{}, ErrNotFound
	}
	if err := in.Validate(tx.Type); err != nil {
		return Transaction{}, err
	}
	if in.Empty() {
		return *tx, nil
	}
	if in.Status != nil && !TransitionAllowed(tx.Status, *in.Status) {
		return Transaction{}, ErrConflict
	}

	old := *tx
	if in.Type != nil {
		tx.Type = *in.Type
	}
	if in.Amount != nil {
		tx.Amount = *in.Amount
	}
	if in.Fee != nil {
		tx.Fee = *in.Fee
	}
	if in.Category != nil {
		tx.Category = *in.Category
	}
	if in.Notes != nil {
		tx.Notes = *in.Notes
	}
	if in.Status != nil {
		tx.Status = *in.Status
	}
	now := time.Now().UTC()
	if tx.Status == TxVoid {
		tx.DeletedAt = &now
	}
	tx.UpdatedAt = now

	// The delta, never a recompute: effect(new) - effect(old) covers amount
	// and type changes as well as pending->active and active->void edges.
	acc := m.accounts[tx.AccountID]
	acc.CurrentBalance += Effect(*tx) - Effect(old)
	acc.UpdatedAt = now

	action := ActionUpdate
	if tx.Status == TxVoid {
		action = ActionDelete
	}
	m.appendHistory(id, old.Amount, tx.Amount, action)
	return *tx, nil
}

func (m *InMemory) VoidTransaction(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[id]
	if !ok || tx.DeletedAt != nil || tx.Status == TxVoid {
		return ErrNotFound
	}
	if !TransitionAllowed(tx.Status, TxVoid) {
		return ErrConflict
	}
	now := time.Now().UTC()
	reversal := -Effect(*tx)
	tx.Status = TxVoid
	tx.DeletedAt = &now
	tx.UpdatedAt = now

	acc := m.accounts[tx.AccountID]
	acc.CurrentBalance += reversal
	acc.UpdatedAt = now

	m.appendHistory(id, tx.Amount, tx.Amount, ActionDelete)
	return nil
}

// appendHistory must be called with the write lock held.
func (m *InMemory) appendHistory(txID string, oldAmount, newAmount int64, action HistoryAction) {
	entry := HistoryEntry{
		ID:            uuid.NewString(),
		TransactionID: txID,
		SnapshotID:    ids.New(),
		OldAmount:     &oldAmount,
		NewAmount:     &newAmount,
		Action:        action,
		SeqNo:         len(m.history[txID]) + 1,
		CreatedAt:     time.Now().UTC(),
	}
	m.history[txID] = append(m.history[txID], entry)
}

func (m *InMemory) CreatePerson(ctx context.Context, in CreatePersonInput) (Person, error) {
	if err := in.Validate(); err != nil {
		return Person{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	p := &Person{
		ID:        uuid.NewString(),
		FullName:  in.FullName,
		Email:     in.Email,
		Phone:     in.Phone,
		Note:      in.Note,
		Status:    PersonActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.people[p.ID] = p
	m.peopleOrd = append(m.peopleOrd, p.ID)
	return *p, nil
}

func (m *InMemory) ListPeople(ctx context.Context, page Page) ([]Person, int, error) {
	page = page.Clamp()
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Person, 0, len(m.peopleOrd))
	for i := len(m.peopleOrd) - 1; i >= 0; i-- {
		out = append(out, *m.people[m.peopleOrd[i]])
	}
	return slice(out, page), len(out), nil
}

func (m *InMemory) ListCategories(ctx context.Context) ([]Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Category, len(m.categories))
	copy(out, m.categories)
	return out, nil
}

func (m *InMemory) CreateDebt(ctx context.Context, in CreateDebtInput) (DebtLedger, error) {
	if err := in.Validate(); err != nil {
		return DebtLedger{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.people[in.CreditorPersonID]; !ok {
		return DebtLedger{}, ErrNotFound
	}
	if in.DebtorAccountID != "" {
		if _, err := m.liveAccount(in.DebtorAccountID); err != nil {
			return DebtLedger{}, err
		}
	}

	now := time.Now().UTC()
	l := &DebtLedger{
		ID:               uuid.NewString(),
		CreditorPersonID: in.CreditorPersonID,
		DebtorAccountID:  in.DebtorAccountID,
		CycleTag:         in.CycleTag,
		InitialDebt:      in.Amount,
		NetDebt:          in.Amount,
		Status:           DebtOpen,
		Reason:           in.Reason,
		DueDate:          in.DueDate,
		UpdatedAt:        now,
	}
	m.debts[l.ID] = l
	m.debtOrder = append(m.debtOrder, l.ID)
	m.movements = append(m.movements, DebtMovement{
		ID:        uuid.NewString(),
		LedgerID:  l.ID,
		PersonID:  l.CreditorPersonID,
		AccountID: l.DebtorAccountID,
		Type:      MovementBorrow,
		Amount:    in.Amount,
		CycleTag:  l.CycleTag,
		Status:    MovementActive,
		CreatedAt: now,
	})
	return *l, nil
}

func (m *InMemory) GetDebt(ctx context.Context, id string) (DebtLedger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.debts[id]
	if !ok {
		return DebtLedger{}, ErrNotFound
	}
	return *l, nil
}

func (m *InMemory) ListDebts(ctx context.Context, f DebtFilter) ([]DebtLedger, int, error) {
	f.Page = f.Page.Clamp()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []DebtLedger
	for i := len(m.debtOrder) - 1; i >= 0; i-- {
		l := m.debts[m.debtOrder[i]]
		if f.AccountID != "" && l.DebtorAccountID != f.AccountID {
			continue
		}
		if f.PersonID != "" && l.CreditorPersonID != f.PersonID {
			continue
		}
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		matched = append(matched, *l)
	}
	return slice(matched, f.Page), len(matched), nil
}

func (m *InMemory) UpdateDebt(ctx context.Context, id string, in UpdateDebtInput) (DebtLedger, error) {
	if err := in.Validate(); err != nil {
		return DebtLedger{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.debts[id]
	if !ok {
		return DebtLedger{}, ErrNotFound
	}
	now := time.Now().UTC()

	// Settlement must not re-fire on a repeated PATCH with the same target.
	if l.Status == DebtRepaid {
		if in.Status != nil && *in.Status == DebtRepaid && in.Repayment == nil && in.Discount == nil {
			return *l, nil
		}
		return DebtLedger{}, ErrConflict
	}

	prev := l.Status
	if in.Repayment != nil {
		l.Repayments += *in.Repayment
		m.movements = append(m.movements, DebtMovement{
			ID: uuid.NewString(), LedgerID: l.ID, PersonID: l.CreditorPersonID,
			AccountID: l.DebtorAccountID, Type: MovementRepay, Amount: *in.Repayment,
			CycleTag: l.CycleTag, Status: MovementActive, CreatedAt: now,
		})
	}
	if in.Discount != nil {
		l.Discount += *in.Discount
		m.movements = append(m.movements, DebtMovement{
			ID: uuid.NewString(), LedgerID: l.ID, PersonID: l.CreditorPersonID,
			AccountID: l.DebtorAccountID, Type: MovementDiscount, Amount: *in.Discount,
			CycleTag: l.CycleTag, Status: MovementActive, CreatedAt: now,
		})
	}

	if in.Status != nil && *in.Status == DebtRepaid {
		// Explicit settle: one repay movement mirroring the outstanding net.
		remaining := NetDebt(*l)
		if remaining > 0 {
			l.Repayments += remaining
		}
		m.movements = append(m.movements, DebtMovement{
			ID: uuid.NewString(), LedgerID: l.ID, PersonID: l.CreditorPersonID,
			AccountID: l.DebtorAccountID, Type: MovementRepay, Amount: remaining,
			CycleTag: l.CycleTag, Status: MovementSettled, CreatedAt: now,
		})
		l.Status = DebtRepaid
	} else {
		l.Status = DeriveDebtStatus(*l, now)
		if prev != DebtRepaid && l.Status == DebtRepaid {
			// Increment-driven settlement fires the settle movement too.
			m.movements = append(m.movements, DebtMovement{
				ID: uuid.NewString(), LedgerID: l.ID, PersonID: l.CreditorPersonID,
				AccountID: l.DebtorAccountID, Type: MovementRepay, Amount: 0,
				CycleTag: l.CycleTag, Status: MovementSettled, CreatedAt: now,
			})
		}
	}
	l.NetDebt = NetDebt(*l)
	l.UpdatedAt = now
	return *l, nil
}

func (m *InMemory) ListDebtMovements(ctx context.Context, ledgerID string) ([]DebtMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.debts[ledgerID]; !ok {
		return nil, ErrNotFound
	}
	var out []DebtMovement
	for _, mv := range m.movements {
		if mv.LedgerID == ledgerID {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (m *InMemory) CreateCashback(ctx context.Context, in CreateCashbackInput) (CashbackMovement, error) {
	if err := in.Validate(); err != nil {
		return CashbackMovement{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.liveAccount(in.AccountID); err != nil {
		return CashbackMovement{}, err
	}
	amount, _, err := CashbackAmount(in.Type, in.Value, in.Base, in.BudgetCap)
	if err != nil {
		return CashbackMovement{}, err
	}

	now := time.Now().UTC()
	cb := &CashbackMovement{
		ID:            uuid.NewString(),
		TransactionID: in.TransactionID,
		AccountID:     in.AccountID,
		CycleTag:      in.CycleTag,
		Type:          in.Type,
		Value:         in.Value,
		Amount:        amount,
		BudgetCap:     in.BudgetCap,
		Status:        CashbackInit,
		Note:          in.Note,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.cashback[cb.ID] = cb
	m.cbOrder = append(m.cbOrder, cb.ID)
	return *cb, nil
}

func (m *InMemory) ListCashback(ctx context.Context, f CashbackFilter) ([]CashbackMovement, CashbackSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []CashbackMovement
	var sum CashbackSummary
	for i := len(m.cbOrder) - 1; i >= 0; i-- {
		cb := m.cashback[m.cbOrder[i]]
		if f.AccountID != "" && cb.AccountID != f.AccountID {
			continue
		}
		if f.CycleTag != "" && cb.CycleTag != f.CycleTag {
			continue
		}
		out = append(out, *cb)
		switch cb.Status {
		case CashbackApplied, CashbackExceedCap:
			sum.TotalEarned += cb.Amount
			sum.TotalCredited += cb.Amount
		case CashbackInit:
			sum.TotalPending += cb.Amount
		}
	}
	return out, sum, nil
}

func (m *InMemory) ApplyCashback(ctx context.Context, id string) (CashbackMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cb, ok := m.cashback[id]
	if !ok {
		return CashbackMovement{}, ErrNotFound
	}
	if cb.Status != CashbackInit {
		return CashbackMovement{}, ErrConflict
	}
	acc, err := m.liveAccount(cb.AccountID)
	if err != nil {
		return CashbackMovement{}, err
	}

	now := time.Now().UTC()
	// Credit flows through a regular cashback transaction so the balance
	// invariant and the statement recompute keep agreeing.
	tx := &Transaction{
		ID:         uuid.NewString(),
		AccountID:  cb.AccountID,
		Type:       TxCashback,
		Amount:     cb.Amount,
		Notes:      "cashback " + cb.ID,
		Status:     TxActive,
		OccurredOn: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.txs[tx.ID] = tx
	m.txOrder = append(m.txOrder, tx.ID)
	acc.CurrentBalance += Effect(*tx)
	acc.UpdatedAt = now

	cb.Status = CashbackApplied
	if cb.BudgetCap > 0 && cb.Amount >= cb.BudgetCap {
		cb.Status = CashbackExceedCap
	}
	cb.UpdatedAt = now

	if cb.TransactionID != "" {
		if _, ok := m.txs[cb.TransactionID]; ok {
			m.appendCashbackHistory(cb.TransactionID, cb.Amount)
		}
	}
	return *cb, nil
}

func (m *InMemory) appendCashbackHistory(txID string, credited int64) {
	var zero int64
	entry := HistoryEntry{
		ID:            uuid.NewString(),
		TransactionID: txID,
		SnapshotID:    ids.New(),
		OldCashback:   &zero,
		NewCashback:   &credited,
		Action:        ActionCashbackUpdate,
		SeqNo:         len(m.history[txID]) + 1,
		CreatedAt:     time.Now().UTC(),
	}
	m.history[txID] = append(m.history[txID], entry)
}

func (m *InMemory) CreateAsset(ctx context.Context, in CreateAssetInput) (Asset, error) {
	if err := in.Validate(); err != nil {
		return Asset{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if in.LinkedAccountID != "" {
		if _, err := m.liveAccount(in.LinkedAccountID); err != nil {
			return Asset{}, err
		}
	}
	now := time.Now().UTC()
	a := &Asset{
		ID:              uuid.NewString(),
		Name:            in.Name,
		Type:            in.Type,
		LinkedAccountID: in.LinkedAccountID,
		Status:          AssetActive,
		InitialValue:    in.InitialValue,
		CurrentValue:    in.InitialValue,
		Currency:        in.Currency,
		AcquiredAt:      in.AcquiredAt,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.assets[a.ID] = a
	m.assetOrder = append(m.assetOrder, a.ID)
	return *a, nil
}

func (m *InMemory) ListAssets(ctx context.Context, page Page) ([]Asset, int, error) {
	page = page.Clamp()
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Asset, 0, len(m.assetOrder))
	for i := len(m.assetOrder) - 1; i >= 0; i-- {
		out = append(out, *m.assets[m.assetOrder[i]])
	}
	return slice(out, page), len(out), nil
}

// slice applies limit/offset paging to an already-filtered result.
func slice[T any](items []T, page Page) []T {
	if page.Offset >= len(items) {
		return nil
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	out := make([]T, end-page.Offset)
	copy(out, items[page.Offset:end])
	return out
}
