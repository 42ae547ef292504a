package pg

import (
	"context"
	"database/sql"
	"errors"

	"finbook.org/internal/finance"
	"finbook.org/internal/ids"
)

const txColumns = `t.transaction_id, t.account_id, coalesce(t.person_id::text,''),
	t.type, t.amount, t.fee,
	coalesce((select c.name from categories c where c.category_id = t.category_id),''),
	coalesce(t.notes,''), t.status, t.occurred_on, t.created_at, t.updated_at, t.deleted_at`

func scanTx(row interface{ Scan(...any) error }) (finance.Transaction, error) {
	var tx finance.Transaction
	var deleted sql.NullTime
	err := row.Scan(&tx.ID, &tx.AccountID, &tx.PersonID, &tx.Type, &tx.Amount,
		&tx.Fee, &tx.Category, &tx.Notes, &tx.Status, &tx.OccurredOn,
		&tx.CreatedAt, &tx.UpdatedAt, &deleted)
	if err != nil {
		return finance.Transaction{}, err
	}
	if deleted.Valid {
		tx.DeletedAt = &deleted.Time
	}
	return tx, nil
}

// lockAccount takes the row lock that serializes balance writers. Closed and
// deleted accounts read as absent.
func lockAccount(ctx context.Context, tx *sql.Tx, id string) error {
	var dummy int
	err := tx.QueryRowContext(ctx, `
		select 1 from accounts
		where account_id = $1 and deleted_at is null and status <> 'closed'
		for update
	`, id).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.ErrNotFound
	}
	return err
}

func applyDelta(ctx context.Context, tx *sql.Tx, accountID string, delta int64) error {
	if delta == 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		update accounts set current_balance = current_balance + $2, updated_at = now()
		where account_id = $1
	`, accountID, delta)
	return err
}

func (s *Store) CreateTransaction(ctx context.Context, in finance.CreateTransactionInput) (finance.Transaction, error) {
	if err := in.Validate(); err != nil {
		return finance.Transaction{}, err
	}
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return finance.Transaction{}, err
	}
	defer func() { _ = dbtx.Rollback() }()

	if err := lockAccount(ctx, dbtx, in.AccountID); err != nil {
		return finance.Transaction{}, err
	}
	if in.PersonID != "" {
		var dummy int
		err := dbtx.QueryRowContext(ctx,
			`select 1 from people where person_id = $1 and status <> 'archived'`,
			in.PersonID).Scan(&dummy)
		if errors.Is(err, sql.ErrNoRows) {
			return finance.Transaction{}, finance.ErrNotFound
		}
		if err != nil {
			return finance.Transaction{}, err
		}
	}

	var txID string
	err = dbtx.QueryRowContext(ctx, `
		insert into transactions(account_id, person_id, type, amount, fee, category_id, notes, status, occurred_on)
		values ($1, nullif($2,'')::uuid, $3, $4, $5,
			(select category_id from categories where name = nullif($6,'')),
			nullif($7,''), $8, $9)
		returning transaction_id`,
		in.AccountID, in.PersonID, in.Type, in.Amount, in.Fee,
		in.Category, in.Notes, in.Status, in.OccurredOn).Scan(&txID)
	if err != nil {
		return finance.Transaction{}, err
	}
	row := dbtx.QueryRowContext(ctx,
		`select `+txColumns+` from transactions t where t.transaction_id = $1`, txID)
	tx, err := scanTx(row)
	if err != nil {
		return finance.Transaction{}, err
	}

	if err := applyDelta(ctx, dbtx, in.AccountID, finance.Effect(tx)); err != nil {
		return finance.Transaction{}, err
	}
	if err := dbtx.Commit(); err != nil {
		return finance.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (finance.Transaction, []finance.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+txColumns+` from transactions t
		where t.transaction_id = $1 and t.deleted_at is null
	`, id)
	tx, err := scanTx(row)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Transaction{}, nil, finance.ErrNotFound
	}
	if err != nil {
		return finance.Transaction{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select history_id, transaction_id, snapshot_id, old_amount, new_amount,
			old_cashback, new_cashback, action_type, seq_no, coalesce(edited_by,''), created_at
		from transaction_history
		where transaction_id = $1
		order by seq_no desc
	`, id)
	if err != nil {
		return finance.Transaction{}, nil, err
	}
	defer rows.Close()

	var history []finance.HistoryEntry
	for rows.Next() {
		var h finance.HistoryEntry
		var oldA, newA, oldC, newC sql.NullInt64
		if err := rows.Scan(&h.ID, &h.TransactionID, &h.SnapshotID, &oldA, &newA,
			&oldC, &newC, &h.Action, &h.SeqNo, &h.EditedBy, &h.CreatedAt); err != nil {
			return finance.Transaction{}, nil, err
		}
		h.OldAmount, h.NewAmount = intPtr(oldA), intPtr(newA)
		h.OldCashback, h.NewCashback = intPtr(oldC), intPtr(newC)
		history = append(history, h)
	}
	return tx, history, rows.Err()
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func (s *Store) ListTransactions(ctx context.Context, f finance.TransactionFilter) ([]finance.Transaction, int, error) {
	page := f.Page.Clamp()
	var w where
	if f.AccountID != "" {
		w.add("t.account_id = ?", f.AccountID)
	}
	if f.Type != "" {
		w.add("t.type = ?", f.Type)
	}
	if f.Status != "" {
		w.add("t.status = ?", f.Status)
	}
	if f.Category != "" {
		w.add("t.category_id = (select category_id from categories where name = ?)", f.Category)
	}
	if f.PersonID != "" {
		w.add("t.person_id = ?", f.PersonID)
	}
	if f.DateFrom != nil {
		w.add("t.occurred_on >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		w.add("t.occurred_on <= ?", *f.DateTo)
	}

	base := `from transactions t where t.deleted_at is null` + w.clause()
	tail, args := w.limitOffset(page)

	rows, err := s.db.QueryContext(ctx,
		`select `+txColumns+` `+base+` order by t.occurred_on desc, t.created_at desc`+tail,
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []finance.Transaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) `+base, w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, id string, in finance.UpdateTransactionInput) (finance.Transaction, error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return finance.Transaction{}, err
	}
	defer func() { _ = dbtx.Rollback() }()

	row := dbtx.QueryRowContext(ctx, `
		select `+txColumns+` from transactions t
		where t.transaction_id = $1 and t.deleted_at is null
		for update
	`, id)
	old, err := scanTx(row)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Transaction{}, finance.ErrNotFound
	}
	if err != nil {
		return finance.Transaction{}, err
	}
	if err := in.Validate(old.Type); err != nil {
		return finance.Transaction{}, err
	}

	next := old
	if in.Type != nil {
		next.Type = *in.Type
	}
	if in.Amount != nil {
		next.Amount = *in.Amount
	}
	if in.Fee != nil {
		next.Fee = *in.Fee
	}
	if in.Category != nil {
		next.Category = *in.Category
	}
	if in.Notes != nil {
		next.Notes = *in.Notes
	}
	if in.Status != nil {
		if !finance.TransitionAllowed(old.Status, *in.Status) {
			return finance.Transaction{}, finance.ErrConflict
		}
		next.Status = *in.Status
	}

	action := finance.ActionUpdate
	if next.Status == finance.TxVoid {
		action = finance.ActionDelete
	}

	if _, err := dbtx.ExecContext(ctx, `
		update transactions set
			type = $2, amount = $3, fee = $4,
			category_id = (select category_id from categories where name = nullif($5,'')),
			notes = nullif($6,''), status = $7, occurred_on = $8,
			deleted_at = case when $7 = 'void' then now() else deleted_at end,
			updated_at = now()
		where transaction_id = $1
	`, id, next.Type, next.Amount, next.Fee, next.Category, next.Notes,
		next.Status, next.OccurredOn); err != nil {
		return finance.Transaction{}, err
	}
	row = dbtx.QueryRowContext(ctx,
		`select `+txColumns+` from transactions t where t.transaction_id = $1`, id)
	updated, err := scanTx(row)
	if err != nil {
		return finance.Transaction{}, err
	}

	// The balance update takes the account row lock itself; no prior
	// read of the account is needed here.
	delta := finance.Effect(updated) - finance.Effect(old)
	if err := applyDelta(ctx, dbtx, old.AccountID, delta); err != nil {
		return finance.Transaction{}, err
	}
	hist := historyRow{
		oldAmount: sql.NullInt64{Int64: old.Amount, Valid: true},
		newAmount: sql.NullInt64{Int64: updated.Amount, Valid: true},
	}
	if err := insertHistory(ctx, dbtx, id, action, hist); err != nil {
		return finance.Transaction{}, err
	}
	if err := dbtx.Commit(); err != nil {
		return finance.Transaction{}, err
	}
	return updated, nil
}

func (s *Store) VoidTransaction(ctx context.Context, id string) error {
	status := finance.TxVoid
	_, err := s.UpdateTransaction(ctx, id, finance.UpdateTransactionInput{Status: &status})
	return err
}

type historyRow struct {
	oldAmount   sql.NullInt64
	newAmount   sql.NullInt64
	oldCashback sql.NullInt64
	newCashback sql.NullInt64
}

// insertHistory appends the next gapless seq_no under the transaction's
// row lock held by the caller.
func insertHistory(ctx context.Context, tx *sql.Tx, txID string, action finance.HistoryAction, h historyRow) error {
	_, err := tx.ExecContext(ctx, `
		insert into transaction_history(transaction_id, snapshot_id, old_amount, new_amount,
			old_cashback, new_cashback, action_type, seq_no)
		select $1, $2, $3, $4, $5, $6, $7, coalesce(max(seq_no),0)+1
		from transaction_history where transaction_id = $1
	`, txID, ids.New(), h.oldAmount, h.newAmount, h.oldCashback, h.newCashback, action)
	return err
}
