package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"tradezone/server"
)

// maxPriceRows 单次行情聚合最多返回的物品数
const maxPriceRows = 100

// MarketPrices 按物品/分类聚合时间窗口内的成交价
func (s *Store) MarketPrices(ctx context.Context, q server.MarketQuery) ([]server.PriceAggregate, error) {
	qb := psq.Select(
		"item_name",
		"COALESCE(category, '') AS category",
		"AVG(price) AS avg_price",
		"MIN(price) AS min_price",
		"MAX(price) AS max_price",
		"COUNT(*) AS trade_count",
	).From("trades").
		Where(sq.GtOrEq{"created_at": q.Since}).
		GroupBy("item_name", "category").
		OrderBy("trade_count DESC", "item_name ASC").
		Limit(maxPriceRows)

	if q.ItemName != "" {
		qb = qb.Where(sq.Eq{"item_name": q.ItemName})
	}
	if q.Category != "" {
		qb = qb.Where(sq.Eq{"category": q.Category})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building market query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying market prices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []server.PriceAggregate{}
	for rows.Next() {
		var a server.PriceAggregate
		if err := rows.Scan(&a.ItemName, &a.Category, &a.AvgPrice, &a.MinPrice, &a.MaxPrice, &a.TradeCount); err != nil {
			return nil, fmt.Errorf("scanning market row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating market rows: %w", err)
	}
	return out, nil
}
