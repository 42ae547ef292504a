package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"finbook.org/internal/finance"
)

// Store implements finance.Service on PostgreSQL. Every balance-mutating
// operation runs inside one database transaction; the account row is the
// lock that serializes concurrent writers.
type Store struct {
	db *sql.DB
}

var _ finance.Service = (*Store)(nil)

// Open connects with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// NewWithDB wraps an existing handle; used by tests.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

const accountColumns = `account_id, account_name, account_type, currency,
	opening_balance, current_balance, status, created_at, updated_at, deleted_at`

func scanAccount(row interface{ Scan(...any) error }) (finance.Account, error) {
	var acc finance.Account
	var deleted sql.NullTime
	err := row.Scan(&acc.ID, &acc.Name, &acc.Type, &acc.Currency,
		&acc.OpeningBalance, &acc.CurrentBalance, &acc.Status,
		&acc.CreatedAt, &acc.UpdatedAt, &deleted)
	if err != nil {
		return finance.Account{}, err
	}
	if deleted.Valid {
		acc.DeletedAt = &deleted.Time
	}
	return acc, nil
}

func (s *Store) CreateAccount(ctx context.Context, in finance.CreateAccountInput) (finance.Account, error) {
	if err := in.Validate(); err != nil {
		return finance.Account{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into accounts(account_name, account_type, currency, opening_balance, current_balance, status)
		values ($1,$2,$3,$4,$4,'active')
		returning `+accountColumns,
		in.Name, in.Type, in.Currency, in.OpeningBalance)
	return scanAccount(row)
}

func (s *Store) GetAccount(ctx context.Context, id string) (finance.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+accountColumns+` from accounts
		where account_id = $1 and deleted_at is null and status <> 'closed'
	`, id)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Account{}, finance.ErrNotFound
	}
	return acc, err
}

func (s *Store) ListAccounts(ctx context.Context, page finance.Page) ([]finance.Account, int, error) {
	page = page.Clamp()
	rows, err := s.db.QueryContext(ctx, `
		select `+accountColumns+` from accounts
		where deleted_at is null
		order by created_at desc
		limit $1 offset $2
	`, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []finance.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from accounts where deleted_at is null`).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) UpdateAccount(ctx context.Context, id string, in finance.UpdateAccountInput) (finance.Account, error) {
	if err := in.Validate(); err != nil {
		return finance.Account{}, err
	}
	// Fixed statement with coalesce keeps partial updates free of dynamic
	// column lists; untouched fields keep their prior values.
	row := s.db.QueryRowContext(ctx, `
		update accounts set
			account_name = coalesce($2, account_name),
			account_type = coalesce($3, account_type),
			currency     = coalesce($4, currency),
			status       = coalesce($5, status),
			updated_at   = now()
		where account_id = $1 and deleted_at is null and status <> 'closed'
		returning `+accountColumns,
		id, nullStr(in.Name), nullStrT(in.Type), nullStr(in.Currency), nullStrT(in.Status))
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Account{}, finance.ErrNotFound
	}
	return acc, err
}

func (s *Store) CloseAccount(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var dummy int
	err = tx.QueryRowContext(ctx, `
		select 1 from accounts
		where account_id = $1 and deleted_at is null and status <> 'closed'
		for update
	`, id).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.ErrNotFound
	}
	if err != nil {
		return err
	}

	var open int
	if err := tx.QueryRowContext(ctx, `
		select count(*) from transactions
		where account_id = $1 and status = 'active' and deleted_at is null
	`, id).Scan(&open); err != nil {
		return err
	}
	if open > 0 {
		return finance.ErrConflict
	}

	if _, err := tx.ExecContext(ctx, `
		update accounts set status = 'closed', deleted_at = now(), updated_at = now()
		where account_id = $1
	`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// AccountStatement replays active transactions up to asOf. It reads through
// the domain Replay fold so the store and the in-memory double cannot drift
// in how they bucket types.
func (s *Store) AccountStatement(ctx context.Context, id string, asOf time.Time) (finance.Statement, error) {
	var opening, current int64
	err := s.db.QueryRowContext(ctx, `
		select opening_balance, current_balance from accounts
		where account_id = $1 and deleted_at is null and status <> 'closed'
	`, id).Scan(&opening, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return finance.Statement{}, finance.ErrNotFound
	}
	if err != nil {
		return finance.Statement{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select type, amount, fee, occurred_on from transactions
		where account_id = $1 and status = 'active' and deleted_at is null and occurred_on <= $2
	`, id, asOf)
	if err != nil {
		return finance.Statement{}, err
	}
	defer rows.Close()

	var txs []finance.Transaction
	for rows.Next() {
		tx := finance.Transaction{Status: finance.TxActive}
		if err := rows.Scan(&tx.Type, &tx.Amount, &tx.Fee, &tx.OccurredOn); err != nil {
			return finance.Statement{}, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return finance.Statement{}, err
	}

	st := finance.Replay(id, opening, txs, asOf)
	st.CurrentBalance = current
	st.Drift = current - st.Computed
	return st, nil
}

// --- helpers ---

func nullStr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

// nullStrT lifts typed string enums into nullable SQL parameters.
func nullStrT[T ~string](v *T) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*v), Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

// where accumulates fixed "column op $n" fragments with positional args.
// Identifiers are compile-time constants; only values are parameterized.
type where struct {
	frags []string
	args  []any
}

func (w *where) add(frag string, arg any) {
	w.args = append(w.args, arg)
	w.frags = append(w.frags, strings.Replace(frag, "?", "$"+strconv.Itoa(len(w.args)), 1))
}

func (w *where) clause() string {
	if len(w.frags) == 0 {
		return ""
	}
	return " and " + strings.Join(w.frags, " and ")
}

func (w *where) limitOffset(page finance.Page) (string, []any) {
	args := append([]any{}, w.args...)
	args = append(args, page.Limit, page.Offset)
	return fmt.Sprintf(" limit $%d offset $%d", len(args)-1, len(args)), args
}
