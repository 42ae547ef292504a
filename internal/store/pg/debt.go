package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"finbook.org/internal/finance"
)

const debtColumns = `debt_ledger_id, creditor_person_id, coalesce(debtor_account_id::text,''),
	coalesce(cycle_tag,''), initial_debt, new_debt, repayments, debt_discount, net_debt,
	status, coalesce(reason,''), due_date, last_updated`

func scanDebt(row interface{ Scan(...any) error }) (finance.DebtLedger, error) {
	var l finance.DebtLedger
	var due sql.NullTime
	err := row.Scan(&l.ID, &l.CreditorPersonID, &l.DebtorAccountID, &l.CycleTag,
		&l.InitialDebt, &l.NewDebt, &l.Repayments, &l.Discount, &l.NetDebt,
		&l.Status, &l.Reason, &due, &l.UpdatedAt)
	if err != nil {
		return finance.DebtLedger{}, err
	}
	if due.Valid {
		l.DueDate = &due.Time
	}
	return l, nil
}

func insertMovement(ctx context.Context, tx *sql.Tx, l finance.DebtLedger, typ finance.DebtMovementType, amount int64, status finance.DebtMovementStatus) error {
	_, err := tx.ExecContext(ctx, `
		insert into debt_movements(debt_ledger_id, person_id, account_id, movement_type, amount, cycle_tag, status)
		values ($1, $2, nullif($3,'')::uuid, $4, $5, nullif($6,''), $7)
	`, l.ID, l.CreditorPersonID, l.DebtorAccountID, typ, amount, l.CycleTag, status)
	return err
}

func (s *Store) CreateDebt(ctx context.Context, in finance.CreateDebtInput) (finance.DebtLedger, error) {
	if err := in.Validate(); err != nil {
		return finance.DebtLedger{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return finance.DebtLedger{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	err = tx.QueryRowContext(ctx,
		`select 1 from people where person_id = $1 and status <> 'archived'`,
		in.CreditorPersonID).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.DebtLedger{}, finance.ErrNotFound
	}
	if err != nil {
		return finance.DebtLedger{}, err
	}
	if in.DebtorAccountID != "" {
		if err := lockAccount(ctx, tx, in.DebtorAccountID); err != nil {
			return finance.DebtLedger{}, err
		}
	}

	row := tx.QueryRowContext(ctx, `
		insert into debt_ledger(creditor_person_id, debtor_account_id, cycle_tag,
			initial_debt, net_debt, status, reason, due_date)
		values ($1, nullif($2,'')::uuid, $3, $4, $4, 'open', nullif($5,''), $6)
		returning `+debtColumns,
		in.CreditorPersonID, in.DebtorAccountID, in.CycleTag, in.Amount,
		in.Reason, nullTime(in.DueDate))
	l, err := scanDebt(row)
	if err != nil {
		return finance.DebtLedger{}, err
	}

	if err := insertMovement(ctx, tx, l, finance.MovementBorrow, in.Amount, finance.MovementActive); err != nil {
		return finance.DebtLedger{}, err
	}
	if err := tx.Commit(); err != nil {
		return finance.DebtLedger{}, err
	}
	return l, nil
}

func (s *Store) GetDebt(ctx context.Context, id string) (finance.DebtLedger, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+debtColumns+` from debt_ledger where debt_ledger_id = $1`, id)
	l, err := scanDebt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.DebtLedger{}, finance.ErrNotFound
	}
	return l, err
}

func (s *Store) ListDebts(ctx context.Context, f finance.DebtFilter) ([]finance.DebtLedger, int, error) {
	page := f.Page.Clamp()
	var w where
	if f.AccountID != "" {
		w.add("debtor_account_id = ?", f.AccountID)
	}
	if f.PersonID != "" {
		w.add("creditor_person_id = ?", f.PersonID)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}

	base := `from debt_ledger where true` + w.clause()
	tail, args := w.limitOffset(page)

	rows, err := s.db.QueryContext(ctx,
		`select `+debtColumns+` `+base+` order by last_updated desc`+tail, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []finance.DebtLedger
	for rows.Next() {
		l, err := scanDebt(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, l)
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

func (s *Store) UpdateDebt(ctx context.Context, id string, in finance.UpdateDebtInput) (finance.DebtLedger, error) {
	if err := in.Validate(); err != nil {
		return finance.DebtLedger{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return finance.DebtLedger{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`select `+debtColumns+` from debt_ledger where debt_ledger_id = $1 for update`, id)
	l, err := scanDebt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.DebtLedger{}, finance.ErrNotFound
	}
	if err != nil {
		return finance.DebtLedger{}, err
	}
	now := time.Now().UTC()

	// Settlement must not re-fire on a repeated PATCH with the same target.
	if l.Status == finance.DebtRepaid {
		if in.Status != nil && *in.Status == finance.DebtRepaid && in.Repayment == nil && in.Discount == nil {
			return l, nil
		}
		return finance.DebtLedger{}, finance.ErrConflict
	}

	prev := l.Status
	if in.Repayment != nil {
		l.Repayments += *in.Repayment
		if err := insertMovement(ctx, tx, l, finance.MovementRepay, *in.Repayment, finance.MovementActive); err != nil {
			return finance.DebtLedger{}, err
		}
	}
	if in.Discount != nil {
		l.Discount += *in.Discount
		if err := insertMovement(ctx, tx, l, finance.MovementDiscount, *in.Discount, finance.MovementActive); err != nil {
			return finance.DebtLedger{}, err
		}
	}

	if in.Status != nil && *in.Status == finance.DebtRepaid {
		// Explicit settle: one repay movement mirroring the outstanding net.
		remaining := finance.NetDebt(l)
		if remaining > 0 {
			l.Repayments += remaining
		}
		if err := insertMovement(ctx, tx, l, finance.MovementRepay, remaining, finance.MovementSettled); err != nil {
			return finance.DebtLedger{}, err
		}
		l.Status = finance.DebtRepaid
	} else {
		l.Status = finance.DeriveDebtStatus(l, now)
		if prev != finance.DebtRepaid && l.Status == finance.DebtRepaid {
			// Increment-driven settlement fires the settle movement too.
			if err := insertMovement(ctx, tx, l, finance.MovementRepay, 0, finance.MovementSettled); err != nil {
				return finance.DebtLedger{}, err
			}
		}
	}
	l.NetDebt = finance.NetDebt(l)
	l.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
		update debt_ledger set repayments = $2, debt_discount = $3, net_debt = $4,
			status = $5, last_updated = $6
		where debt_ledger_id = $1
	`, id, l.Repayments, l.Discount, l.NetDebt, l.Status, l.UpdatedAt); err != nil {
		return finance.DebtLedger{}, err
	}
	if err := tx.Commit(); err != nil {
		return finance.DebtLedger{}, err
	}
	return l, nil
}

func (s *Store) ListDebtMovements(ctx context.Context, ledgerID string) ([]finance.DebtMovement, error) {
	var dummy int
	err := s.db.QueryRowContext(ctx,
		`select 1 from debt_ledger where debt_ledger_id = $1`, ledgerID).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, finance.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select debt_movement_id, debt_ledger_id, person_id, coalesce(account_id::text,''),
			movement_type, amount, coalesce(cycle_tag,''), status, created_at
		from debt_movements
		where debt_ledger_id = $1
		order by created_at asc
	`, ledgerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []finance.DebtMovement
	for rows.Next() {
		var mv finance.DebtMovement
		if err := rows.Scan(&mv.ID, &mv.LedgerID, &mv.PersonID, &mv.AccountID,
			&mv.Type, &mv.Amount, &mv.CycleTag, &mv.Status, &mv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, mv)
	}
	return out, rows.Err()
}
