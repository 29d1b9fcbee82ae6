package server

import (
	"context"
	"time"

	"tradezone/geo"
)

// Player 身份查询结果
type Player struct {
	ID           string
	Username     string
	Level        int
	IsActive     bool
	IsAdmin      bool
	LastLocation *geo.Coordinate
}

// Merchant 商人查询结果
type Merchant struct {
	ID       string
	Name     string
	Location geo.Coordinate
	District geo.District
	IsActive bool
}

// ActivityType 活动日志类型
type ActivityType string

const (
	ActivityDistrictChat   ActivityType = "district_chat"
	ActivityPrivateMessage ActivityType = "private_message"
	ActivityAnnouncement   ActivityType = "system_announcement"
	ActivityTrade          ActivityType = "trade"
	ActivityDistrictChange ActivityType = "district_change"
)

// Activity 活动日志条目
type Activity struct {
	ID          string
	PlayerID    string
	Type        ActivityType
	Description string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// MarketQuery 行情聚合条件
type MarketQuery struct {
	ItemName string
	Category string
	Since    time.Time
}

// PriceAggregate 单个物品的近期成交聚合
type PriceAggregate struct {
	ItemName   string  `json:"itemName"`
	Category   string  `json:"category"`
	AvgPrice   float64 `json:"avgPrice"`
	MinPrice   float64 `json:"minPrice"`
	MaxPrice   float64 `json:"maxPrice"`
	TradeCount int64   `json:"tradeCount"`
}

// PlayerStore 玩家身份与位置
type PlayerStore interface {
	GetPlayer(ctx context.Context, id string) (*Player, error)
	UpdateLocation(ctx context.Context, id string, c geo.Coordinate) error
}

// MerchantStore 商人查询
type MerchantStore interface {
	GetMerchant(ctx context.Context, id string) (*Merchant, error)
	ActiveMerchants(ctx context.Context) ([]Merchant, error)
}

// TradeStore 成交记录聚合
type TradeStore interface {
	MarketPrices(ctx context.Context, q MarketQuery) ([]PriceAggregate, error)
}

// ActivityLogger 活动日志追加（尽力而为）
type ActivityLogger interface {
	Append(ctx context.Context, a Activity) error
}
