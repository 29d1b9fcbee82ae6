package server

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"tradezone/geo"
)

// 入站事件名
const (
	EvLocationUpdate     = "location:update"
	EvDistrictMessage    = "chat:district_message"
	EvPrivateMessage     = "chat:private_message"
	EvSystemAnnouncement = "chat:system_announcement"
	EvTradeCompleted     = "trade:completed"
	EvTradeOffer         = "trade:offer"
	EvPlayersGetNearby   = "players:get_nearby"
	EvMerchantDistance   = "merchant:check_distance"
	EvMarketGetPrices    = "market:get_prices"
	EvStatusUpdate       = "player:status_update"
)

// 出站事件名
const (
	OutConnectionSuccess   = "connection:success"
	OutDistrictChanged     = "location:district_changed"
	OutPlayerEntered       = "player:entered_district"
	OutPlayerLeft          = "player:left_district"
	OutLocationUpdated     = "player:location_updated"
	OutDistrictMessage     = "chat:district_message"
	OutPrivateReceived     = "chat:private_message_received"
	OutPrivateSent         = "chat:private_message_sent"
	OutSystemAnnouncement  = "chat:system_announcement"
	OutTradeActivity       = "trade:activity"
	OutMarketPriceUpdate   = "market:price_update"
	OutMarketPrices        = "market:prices"
	OutPlayersNearby       = "players:nearby"
	OutMerchantDistance    = "merchant:distance_result"
	OutTradeOfferReceived  = "trade:offer_received"
	OutTradeOfferSent      = "trade:offer_sent"
	OutPlayerStatusChanged = "player:status_changed"
)

// MaxMessageLength 聊天文本上限（按字符计）
const MaxMessageLength = 200

// Envelope 双向消息外壳：{"type":"...","data":{...}}
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound 已确定事件名的出站消息
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Encode 序列化为一帧文本
func (o Outbound) Encode() ([]byte, error) {
	return json.Marshal(o)
}

func errorOutbound(e *EventError) Outbound {
	return Outbound{Type: e.Code.Event(), Data: ErrorPayload{Code: e.Code, Message: e.Message}}
}

// ErrorPayload error:* 的载荷
type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// normalizeText 去除首尾空白并校验长度
func normalizeText(s string) (string, *EventError) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", newEventError(CodeEmptyMessage, "message must not be empty")
	}
	if utf8.RuneCountInString(s) > MaxMessageLength {
		return "", newEventError(CodeMessageTooLong, "message exceeds 200 characters")
	}
	return s, nil
}

// ---- 入站载荷 ----

// LocationUpdateRequest location:update
type LocationUpdateRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (r LocationUpdateRequest) Coordinate() (geo.Coordinate, *EventError) {
	if r.Lat == nil || r.Lng == nil {
		return geo.Coordinate{}, newEventError(CodeInvalidLocation, "lat and lng are required")
	}
	c := geo.Coordinate{Lat: *r.Lat, Lng: *r.Lng}
	if !c.Valid() {
		return geo.Coordinate{}, newEventError(CodeInvalidLocation, "coordinate out of range")
	}
	return c, nil
}

// DistrictMessageRequest chat:district_message
type DistrictMessageRequest struct {
	Message string `json:"message"`
}

// PrivateMessageRequest chat:private_message
type PrivateMessageRequest struct {
	TargetPlayerID string `json:"targetPlayerId"`
	Message        string `json:"message"`
}

// AnnouncementRequest chat:system_announcement
type AnnouncementRequest struct {
	Message string   `json:"message"`
	Type    Severity `json:"type"`
}

// TradeCompletedRequest trade:completed
type TradeCompletedRequest struct {
	MerchantID string    `json:"merchantId"`
	ItemName   string    `json:"itemName"`
	TradeType  TradeType `json:"tradeType"`
	FinalPrice float64   `json:"finalPrice"`
	Profit     float64   `json:"profit"`
}

func (r TradeCompletedRequest) validate() *EventError {
	if strings.TrimSpace(r.MerchantID) == "" || strings.TrimSpace(r.ItemName) == "" {
		return newEventError(CodeMissingData, "merchantId and itemName are required")
	}
	if r.TradeType != TradeBuy && r.TradeType != TradeSell {
		return newEventError(CodeMissingData, "tradeType must be buy or sell")
	}
	if r.FinalPrice <= 0 {
		return newEventError(CodeMissingData, "finalPrice must be positive")
	}
	return nil
}

// TradeOfferRequest trade:offer
type TradeOfferRequest struct {
	TargetPlayerID string  `json:"targetPlayerId"`
	ItemName       string  `json:"itemName"`
	Quantity       int     `json:"quantity"`
	Price          float64 `json:"price"`
	Message        string  `json:"message,omitempty"`
}

// NearbyPlayersRequest players:get_nearby
type NearbyPlayersRequest struct {
	Lat    *float64 `json:"lat"`
	Lng    *float64 `json:"lng"`
	Radius float64  `json:"radius"`
}

// MerchantDistanceRequest merchant:check_distance
type MerchantDistanceRequest struct {
	MerchantID string   `json:"merchantId"`
	PlayerLat  *float64 `json:"playerLat"`
	PlayerLng  *float64 `json:"playerLng"`
}

// MarketPricesRequest market:get_prices
type MarketPricesRequest struct {
	ItemName string `json:"itemName,omitempty"`
	Category string `json:"category,omitempty"`
	Hours    int    `json:"hours,omitempty"`
}

// StatusUpdateRequest player:status_update
type StatusUpdateRequest struct {
	Status PlayerStatus `json:"status"`
}

// ---- 出站载荷 ----

// PlayerSummary 广播给他人的玩家摘要
type PlayerSummary struct {
	PlayerID string       `json:"playerId"`
	Name     string       `json:"playerName"`
	Level    int          `json:"level"`
	District geo.District `json:"district,omitempty"`
}

// ConnectionSuccess connection:success
type ConnectionSuccess struct {
	ConnectionID string       `json:"connectionId"`
	PlayerID     string       `json:"playerId"`
	PlayerName   string       `json:"playerName"`
	Level        int          `json:"level"`
	District     geo.District `json:"district,omitempty"`
	ServerTime   time.Time    `json:"serverTime"`
}

// DistrictChanged location:district_changed
type DistrictChanged struct {
	OldDistrict     geo.District `json:"oldDistrict"`
	NewDistrict     geo.District `json:"newDistrict"`
	NearbyMerchants []geo.Nearby `json:"nearbyMerchants"`
}

// LocationRefresh player:location_updated
type LocationRefresh struct {
	PlayerSummary
	Location geo.Coordinate `json:"location"`
}

// NearbyPlayers players:nearby
type NearbyPlayers struct {
	Radius  float64      `json:"radius"`
	Players []geo.Nearby `json:"players"`
}

// MerchantDistance merchant:distance_result
type MerchantDistance struct {
	MerchantID       string  `json:"merchantId"`
	MerchantName     string  `json:"merchantName"`
	Distance         float64 `json:"distance"`
	CanTrade         bool    `json:"canTrade"`
	MaxTradeDistance float64 `json:"maxTradeDistance"`
}

// MarketPrices market:prices
type MarketPrices struct {
	Since  time.Time        `json:"since"`
	Prices []PriceAggregate `json:"prices"`
}

// TradeOffer trade:offer_received / trade:offer_sent，双方收到同一份
type TradeOffer struct {
	OfferID        string        `json:"offerId"`
	From           PlayerSummary `json:"from"`
	TargetPlayerID string        `json:"targetPlayerId"`
	ItemName       string        `json:"itemName"`
	Quantity       int           `json:"quantity"`
	Price          float64       `json:"price"`
	Message        string        `json:"message,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// StatusChanged player:status_changed
type StatusChanged struct {
	PlayerSummary
	Status PlayerStatus `json:"status"`
}
