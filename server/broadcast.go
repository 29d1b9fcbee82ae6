package server

import (
	"fmt"
	"time"

	"tradezone/geo"
)

// Severity 系统公告级别
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityEvent   Severity = "event"
)

func (s Severity) valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityEvent:
		return true
	}
	return false
}

// TradeType 交易方向
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// Trend 价格走向
type Trend string

const (
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
)

// BroadcastMessage 可广播事件的封闭集合，见 toOutbound
type BroadcastMessage interface {
	broadcast()
}

// DistrictChat 街区聊天
type DistrictChat struct {
	From      PlayerSummary `json:"from"`
	District  geo.District  `json:"district"`
	Text      string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// PrivateMessage 私聊；接收方与发送方收到相同文本与时间戳
type PrivateMessage struct {
	From           PlayerSummary `json:"from"`
	TargetPlayerID string        `json:"targetPlayerId"`
	Text           string        `json:"message"`
	Timestamp      time.Time     `json:"timestamp"`
}

// SystemAnnouncement 全服公告；FromPlayerID 只用于活动日志
type SystemAnnouncement struct {
	From         string    `json:"from"`
	FromPlayerID string    `json:"-"`
	Text         string    `json:"message"`
	Severity     Severity  `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
}

// TradeActivity 街区内交易动态，不包含具体价格
type TradeActivity struct {
	Player       PlayerSummary `json:"player"`
	MerchantID   string        `json:"merchantId"`
	MerchantName string        `json:"merchantName"`
	ItemName     string        `json:"itemName"`
	TradeType    TradeType     `json:"tradeType"`
	IsProfit     bool          `json:"isProfit"`
	District     geo.District  `json:"district"`
	Timestamp    time.Time     `json:"timestamp"`
}

// MarketPriceUpdate 行情大幅波动
type MarketPriceUpdate struct {
	ItemName      string    `json:"itemName"`
	PercentChange float64   `json:"percentChange"`
	Trend         Trend     `json:"trend"`
	Timestamp     time.Time `json:"timestamp"`
}

func (DistrictChat) broadcast()       {}
func (PrivateMessage) broadcast()     {}
func (SystemAnnouncement) broadcast() {}
func (TradeActivity) broadcast()      {}
func (MarketPriceUpdate) broadcast()  {}

// toOutbound 每种广播事件对应唯一的出站事件名
func toOutbound(m BroadcastMessage) Outbound {
	switch m := m.(type) {
	case DistrictChat:
		return Outbound{Type: OutDistrictMessage, Data: m}
	case PrivateMessage:
		return Outbound{Type: OutPrivateReceived, Data: m}
	case SystemAnnouncement:
		return Outbound{Type: OutSystemAnnouncement, Data: m}
	case TradeActivity:
		return Outbound{Type: OutTradeActivity, Data: m}
	case MarketPriceUpdate:
		return Outbound{Type: OutMarketPriceUpdate, Data: m}
	default:
		panic(fmt.Sprintf("unhandled broadcast message %T", m))
	}
}

// activityFor 生成写入活动日志的摘要；返回 false 表示该事件不记录
func activityFor(m BroadcastMessage) (Activity, bool) {
	switch m := m.(type) {
	case DistrictChat:
		return Activity{
			PlayerID:    m.From.PlayerID,
			Type:        ActivityDistrictChat,
			Description: fmt.Sprintf("chat in %s", m.District),
			Metadata:    map[string]any{"district": m.District, "message": m.Text},
		}, true
	case PrivateMessage:
		return Activity{
			PlayerID:    m.From.PlayerID,
			Type:        ActivityPrivateMessage,
			Description: "private message to " + m.TargetPlayerID,
			Metadata:    map[string]any{"target": m.TargetPlayerID},
		}, true
	case SystemAnnouncement:
		return Activity{
			PlayerID:    m.FromPlayerID,
			Type:        ActivityAnnouncement,
			Description: m.Text,
			Metadata:    map[string]any{"severity": m.Severity},
		}, true
	case TradeActivity:
		return Activity{
			PlayerID:    m.Player.PlayerID,
			Type:        ActivityTrade,
			Description: fmt.Sprintf("%s %s at %s", m.TradeType, m.ItemName, m.MerchantName),
			Metadata: map[string]any{
				"merchantId": m.MerchantID,
				"district":   m.District,
				"isProfit":   m.IsProfit,
			},
		}, true
	case MarketPriceUpdate:
		return Activity{}, false
	default:
		panic(fmt.Sprintf("unhandled broadcast message %T", m))
	}
}
