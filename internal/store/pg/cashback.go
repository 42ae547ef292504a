package pg

import (
	"context"
	"database/sql"
	"errors"

	"finbook.org/internal/finance"
)

const cashbackColumns = `cashback_movement_id, coalesce(transaction_id::text,''), account_id,
	cycle_tag, cashback_type, cashback_value::text, cashback_amount, budget_cap,
	status, coalesce(note,''), created_at, updated_at`

func scanCashback(row interface{ Scan(...any) error }) (finance.CashbackMovement, error) {
	var cb finance.CashbackMovement
	err := row.Scan(&cb.ID, &cb.TransactionID, &cb.AccountID, &cb.CycleTag,
		&cb.Type, &cb.Value, &cb.Amount, &cb.BudgetCap, &cb.Status, &cb.Note,
		&cb.CreatedAt, &cb.UpdatedAt)
	return cb, err
}

func (s *Store) CreateCashback(ctx context.Context, in finance.CreateCashbackInput) (finance.CashbackMovement, error) {
	if err := in.Validate(); err != nil {
		return finance.CashbackMovement{}, err
	}
	amount, _, err := finance.CashbackAmount(in.Type, in.Value, in.Base, in.BudgetCap)
	if err != nil {
		return finance.CashbackMovement{}, err
	}
	if _, err := s.GetAccount(ctx, in.AccountID); err != nil {
		return finance.CashbackMovement{}, err
	}

	row := s.db.QueryRowContext(ctx, `
		insert into cashback_movements(transaction_id, account_id, cycle_tag,
			cashback_type, cashback_value, cashback_amount, budget_cap, status, note)
		values (nullif($1,'')::uuid, $2, $3, $4, $5::numeric, $6, $7, 'init', nullif($8,''))
		returning `+cashbackColumns,
		in.TransactionID, in.AccountID, in.CycleTag, in.Type, in.Value,
		amount, in.BudgetCap, in.Note)
	return scanCashback(row)
}

func (s *Store) ListCashback(ctx context.Context, f finance.CashbackFilter) ([]finance.CashbackMovement, finance.CashbackSummary, error) {
	var w where
	if f.AccountID != "" {
		w.add("account_id = ?", f.AccountID)
	}
	if f.CycleTag != "" {
		w.add("cycle_tag = ?", f.CycleTag)
	}
	base := `from cashback_movements where true` + w.clause()

	rows, err := s.db.QueryContext(ctx,
		`select `+cashbackColumns+` `+base+` order by created_at desc`, w.args...)
	if err != nil {
		return nil, finance.CashbackSummary{}, err
	}
	defer rows.Close()

	var out []finance.CashbackMovement
	for rows.Next() {
		cb, err := scanCashback(rows)
		if err != nil {
			return nil, finance.CashbackSummary{}, err
		}
		out = append(out, cb)
	}
	if err := rows.Err(); err != nil {
		return nil, finance.CashbackSummary{}, err
	}

	var sum finance.CashbackSummary
	err = s.db.QueryRowContext(ctx, `
		select
			coalesce(sum(cashback_amount) filter (where status in ('applied','exceed_cap')), 0),
			coalesce(sum(cashback_amount) filter (where status = 'init'), 0),
			coalesce(sum(cashback_amount) filter (where status in ('applied','exceed_cap')), 0)
		`+base, w.args...).Scan(&sum.TotalEarned, &sum.TotalPending, &sum.TotalCredited)
	if err != nil {
		return nil, finance.CashbackSummary{}, err
	}
	return out, sum, nil
}

// ApplyCashback credits the accrual through a regular cashback transaction so
// the balance invariant and the statement recompute keep agreeing.
func (s *Store) ApplyCashback(ctx context.Context, id string) (finance.CashbackMovement, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return finance.CashbackMovement{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`select `+cashbackColumns+` from cashback_movements where cashback_movement_id = $1 for update`, id)
	cb, err := scanCashback(row)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.CashbackMovement{}, finance.ErrNotFound
	}
	if err != nil {
		return finance.CashbackMovement{}, err
	}
	if cb.Status != finance.CashbackInit {
		return finance.CashbackMovement{}, finance.ErrConflict
	}
	if err := lockAccount(ctx, tx, cb.AccountID); err != nil {
		return finance.CashbackMovement{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into transactions(account_id, type, amount, notes, status, occurred_on)
		values ($1, 'cashback', $2, $3, 'active', now())
	`, cb.AccountID, cb.Amount, "cashback "+cb.ID); err != nil {
		return finance.CashbackMovement{}, err
	}
	if err := applyDelta(ctx, tx, cb.AccountID, cb.Amount); err != nil {
		return finance.CashbackMovement{}, err
	}

	next := finance.CashbackApplied
	if cb.BudgetCap > 0 && cb.Amount >= cb.BudgetCap {
		next = finance.CashbackExceedCap
	}
	row = tx.QueryRowContext(ctx, `
		update cashback_movements set status = $2, updated_at = now()
		where cashback_movement_id = $1
		returning `+cashbackColumns, id, next)
	updated, err := scanCashback(row)
	if err != nil {
		return finance.CashbackMovement{}, err
	}

	if cb.TransactionID != "" {
		var exists int
		err := tx.QueryRowContext(ctx,
			`select 1 from transactions where transaction_id = $1`, cb.TransactionID).Scan(&exists)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Source transaction is gone; the credit still stands.
		case err != nil:
			return finance.CashbackMovement{}, err
		default:
			hist := historyRow{
				oldCashback: sql.NullInt64{Valid: true},
				newCashback: sql.NullInt64{Int64: cb.Amount, Valid: true},
			}
			if err := insertHistory(ctx, tx, cb.TransactionID, finance.ActionCashbackUpdate, hist); err != nil {
				return finance.CashbackMovement{}, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return finance.CashbackMovement{}, err
	}
	return updated, nil
}
