package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"tradezone/geo"
	"tradezone/server"
)

var merchantColumns = []string{"id", "name", "lat", "lng", "district", "is_active"}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMerchant(row rowScanner) (server.Merchant, error) {
	var (
		m        server.Merchant
		district sql.NullString
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Location.Lat, &m.Location.Lng, &district, &m.IsActive); err != nil {
		return server.Merchant{}, err
	}
	m.District = geo.District(district.String)
	return m, nil
}

// GetMerchant 按 id 读取商人（包含已停用的）
func (s *Store) GetMerchant(ctx context.Context, id string) (*server.Merchant, error) {
	query, args, err := psq.Select(merchantColumns...).
		From("merchants").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building merchant query: %w", err)
	}
	m, err := scanMerchant(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, server.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying merchant: %w", err)
	}
	return &m, nil
}

// ActiveMerchants 所有营业中的商人
func (s *Store) ActiveMerchants(ctx context.Context) ([]server.Merchant, error) {
	query, args, err := psq.Select(merchantColumns...).
		From("merchants").
		Where(sq.Eq{"is_active": true}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building merchants query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying merchants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []server.Merchant
	for rows.Next() {
		m, err := scanMerchant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning merchant row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating merchant rows: %w", err)
	}
	return out, nil
}
