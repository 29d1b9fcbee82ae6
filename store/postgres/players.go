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

var playerColumns = []string{"id", "username", "level", "is_active", "is_admin", "last_lat", "last_lng"}

// GetPlayer 按 id 读取玩家身份
func (s *Store) GetPlayer(ctx context.Context, id string) (*server.Player, error) {
	query, args, err := psq.Select(playerColumns...).
		From("players").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building player query: %w", err)
	}

	var (
		p        server.Player
		lat, lng sql.NullFloat64
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&p.ID, &p.Username, &p.Level, &p.IsActive, &p.IsAdmin, &lat, &lng,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, server.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying player: %w", err)
	}
	if lat.Valid && lng.Valid {
		p.LastLocation = &geo.Coordinate{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &p, nil
}

// UpdateLocation 记录玩家最近位置
func (s *Store) UpdateLocation(ctx context.Context, id string, c geo.Coordinate) error {
	query, args, err := psq.Update("players").
		Set("last_lat", c.Lat).
		Set("last_lng", c.Lng).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building location update: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating player location: %w", err)
	}
	return nil
}
