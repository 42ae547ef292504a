package pg

import (
	"context"
	"database/sql"

	"finbook.org/internal/finance"
)

const personColumns = `person_id, full_name, coalesce(email,''), coalesce(phone,''),
	status, coalesce(note,''), created_at, updated_at`

func scanPerson(row interface{ Scan(...any) error }) (finance.Person, error) {
	var p finance.Person
	err := row.Scan(&p.ID, &p.FullName, &p.Email, &p.Phone, &p.Status, &p.Note,
		&p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) CreatePerson(ctx context.Context, in finance.CreatePersonInput) (finance.Person, error) {
	if err := in.Validate(); err != nil {
		return finance.Person{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into people(full_name, email, phone, status, note)
		values ($1, nullif($2,''), nullif($3,''), 'active', nullif($4,''))
		returning `+personColumns,
		in.FullName, in.Email, in.Phone, in.Note)
	return scanPerson(row)
}

func (s *Store) ListPeople(ctx context.Context, page finance.Page) ([]finance.Person, int, error) {
	page = page.Clamp()
	rows, err := s.db.QueryContext(ctx, `
		select `+personColumns+` from people
		where status <> 'archived'
		order by created_at desc
		limit $1 offset $2
	`, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []finance.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		`select count(*) from people where status <> 'archived'`).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]finance.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		`select category_id, name from categories order by name asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []finance.Category
	for rows.Next() {
		var c finance.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const assetColumns = `asset_id, asset_name, asset_type, coalesce(linked_account_id::text,''),
	status, initial_value, current_value, currency, acquired_at, coalesce(notes,''),
	created_at, updated_at`

func scanAsset(row interface{ Scan(...any) error }) (finance.Asset, error) {
	var a finance.Asset
	var acquired sql.NullTime
	err := row.Scan(&a.ID, &a.Name, &a.Type, &a.LinkedAccountID, &a.Status,
		&a.InitialValue, &a.CurrentValue, &a.Currency, &acquired, &a.Notes,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return finance.Asset{}, err
	}
	if acquired.Valid {
		a.AcquiredAt = &acquired.Time
	}
	return a, nil
}

func (s *Store) CreateAsset(ctx context.Context, in finance.CreateAssetInput) (finance.Asset, error) {
	if err := in.Validate(); err != nil {
		return finance.Asset{}, err
	}
	if in.LinkedAccountID != "" {
		if _, err := s.GetAccount(ctx, in.LinkedAccountID); err != nil {
			return finance.Asset{}, err
		}
	}
	row := s.db.QueryRowContext(ctx, `
		insert into assets(asset_name, asset_type, linked_account_id, status,
			initial_value, current_value, currency, acquired_at, notes)
		values ($1, $2, nullif($3,'')::uuid, 'active', $4, $4, $5, $6, nullif($7,''))
		returning `+assetColumns,
		in.Name, in.Type, in.LinkedAccountID, in.InitialValue, in.Currency,
		nullTime(in.AcquiredAt), in.Notes)
	return scanAsset(row)
}

func (s *Store) ListAssets(ctx context.Context, page finance.Page) ([]finance.Asset, int, error) {
	page = page.Clamp()
	rows, err := s.db.QueryContext(ctx, `
		select `+assetColumns+` from assets
		order by created_at desc
		limit $1 offset $2
	`, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []finance.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from assets`).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
