// Package postgres 提供玩家、商人、成交与活动日志的 PostgreSQL 存储
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq" // PostgreSQL driver

	"tradezone/server"
)

// psq 使用 $n 占位符的语句构造器
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store 实现 server 包中的 PlayerStore / MerchantStore / TradeStore / ActivityLogger
type Store struct {
	db *sql.DB
}

var (
	_ server.PlayerStore    = (*Store)(nil)
	_ server.MerchantStore  = (*Store)(nil)
	_ server.TradeStore     = (*Store)(nil)
	_ server.ActivityLogger = (*Store)(nil)
)

// New 基于已打开的连接池创建存储
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open 打开并验证 PostgreSQL 连接
func Open(ctx context.Context, dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns / 2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}
