package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradezone/geo"
)

// PriceSwing 成交后的行情波动来源
type PriceSwing interface {
	Swing() float64
	Significant(pct float64) bool
}

// Dispatcher 投递原语（单连接/街区/全服）与基于它们的事件操作。
// 投递只是非阻塞入队：任何一个慢连接都不会拖住其他接收者。
type Dispatcher struct {
	hub       *Hub
	merchants MerchantStore
	trades    TradeStore
	activity  ActivityLogger
	market    PriceSwing
	metrics   *Metrics

	activityTimeout time.Duration
	priceWindow     time.Duration
	now             func() time.Time
}

// NewDispatcher 组装投递器
func NewDispatcher(hub *Hub, merchants MerchantStore, trades TradeStore, activity ActivityLogger,
	market PriceSwing, metrics *Metrics, cfg MarketConfig) *Dispatcher {
	return &Dispatcher{
		hub:             hub,
		merchants:       merchants,
		trades:          trades,
		activity:        activity,
		market:          market,
		metrics:         metrics,
		activityTimeout: cfg.ActivityWrite,
		priceWindow:     cfg.PriceWindow,
		now:             time.Now,
	}
}

// ---- 投递原语 ----

// ToConnection 投递给单个连接；返回值只表示连接是否在线。
// 队列已满被丢弃的帧按尽力投递处理，仍返回 true
func (d *Dispatcher) ToConnection(id ConnID, msg Outbound) bool {
	sess, ok := d.hub.Session(id)
	if !ok {
		return false
	}
	b, err := msg.Encode()
	if err != nil {
		Log.Errorw("encode outbound failed", "type", msg.Type, "err", err)
		return false
	}
	d.deliver([]*Session{sess}, b, "")
	return true
}

// ToDistrict 投递给街区全部成员，可排除发起连接
func (d *Dispatcher) ToDistrict(district geo.District, msg Outbound, exclude ConnID) int {
	if district == geo.DistrictNone {
		return 0
	}
	b, err := msg.Encode()
	if err != nil {
		Log.Errorw("encode outbound failed", "type", msg.Type, "err", err)
		return 0
	}
	return d.deliver(d.hub.Members(district), b, exclude)
}

// ToAll 投递给所有在线连接（仅用于公告与行情）
func (d *Dispatcher) ToAll(msg Outbound) int {
	b, err := msg.Encode()
	if err != nil {
		Log.Errorw("encode outbound failed", "type", msg.Type, "err", err)
		return 0
	}
	return d.deliver(d.hub.All(), b, "")
}

// FindByPlayerID 玩家 → 在线连接
func (d *Dispatcher) FindByPlayerID(playerID string) (ConnID, bool) {
	return d.hub.FindByPlayerID(playerID)
}

// deliver 同一帧分别入队到每个接收者，失败互不影响
func (d *Dispatcher) deliver(targets []*Session, b []byte, exclude ConnID) int {
	sent, dropped := 0, 0
	for _, s := range targets {
		if s.ConnID == exclude || s.conn == nil {
			continue
		}
		if s.conn.Enqueue(b) {
			sent++
		} else {
			dropped++
		}
	}
	if d.metrics != nil {
		d.metrics.AddDelivered(sent)
		d.metrics.AddDropped(dropped)
	}
	return sent
}

// ---- 事件操作 ----

// DistrictChat 街区聊天：不回显给发送者，并记录活动日志
func (d *Dispatcher) DistrictChat(sess *Session, text string) error {
	text, verr := normalizeText(text)
	if verr != nil {
		return verr
	}
	district := sess.District()
	if district == geo.DistrictNone {
		return newEventError(CodeNoDistrict, "share your location before chatting")
	}

	msg := DistrictChat{
		From:      sess.Summary(),
		District:  district,
		Text:      text,
		Timestamp: d.now().UTC(),
	}
	d.ToDistrict(district, toOutbound(msg), sess.ConnID)
	d.logActivity(msg)
	return nil
}

// PrivateMessage 私聊：接收方收到 received，发送方收到 sent 确认
func (d *Dispatcher) PrivateMessage(sess *Session, targetPlayerID, text string) error {
	text, verr := normalizeText(text)
	if verr != nil {
		return verr
	}
	targetPlayerID = strings.TrimSpace(targetPlayerID)
	if targetPlayerID == "" {
		return newEventError(CodeMissingData, "targetPlayerId is required")
	}
	target, ok := d.FindByPlayerID(targetPlayerID)
	if !ok {
		return newEventError(CodeTargetOffline, "target player is not online")
	}

	msg := PrivateMessage{
		From:           sess.Summary(),
		TargetPlayerID: targetPlayerID,
		Text:           text,
		Timestamp:      d.now().UTC(),
	}
	if !d.ToConnection(target, toOutbound(msg)) {
		// 查找与投递之间对方断线
		return newEventError(CodeTargetOffline, "target player is not online")
	}
	d.ToConnection(sess.ConnID, Outbound{Type: OutPrivateSent, Data: msg})
	d.logActivity(msg)
	return nil
}

// Announce 全服公告，仅管理员可用
func (d *Dispatcher) Announce(sess *Session, text string, severity Severity) error {
	if !sess.IsAdmin {
		return newEventError(CodeNoPermission, "admin only")
	}
	text, verr := normalizeText(text)
	if verr != nil {
		return verr
	}
	if severity == "" {
		severity = SeverityInfo
	}
	if !severity.valid() {
		return newEventError(CodeMissingData, "unknown announcement type")
	}

	msg := SystemAnnouncement{
		From:         sess.PlayerName,
		FromPlayerID: sess.PlayerID,
		Text:         text,
		Severity:     severity,
		Timestamp:    d.now().UTC(),
	}
	n := d.ToAll(toOutbound(msg))
	Log.Infow("system announcement", "admin", sess.PlayerID, "recipients", n)
	d.logActivity(msg)
	return nil
}

// TradeCompleted 成交后通知商人所在街区（不含价格）；
// 独立地，模拟波动超过阈值时向全服推送行情变化
func (d *Dispatcher) TradeCompleted(ctx context.Context, sess *Session, req TradeCompletedRequest) error {
	if verr := req.validate(); verr != nil {
		return verr
	}
	m, err := d.lookupMerchant(ctx, req.MerchantID)
	if err != nil {
		return err
	}
	if loc, ok := sess.Location(); ok {
		if !geo.TradeEligible(geo.Distance(loc, m.Location)) {
			return newEventError(CodeTooFar, "merchant is out of trading range")
		}
	}

	district := m.District
	if district == geo.DistrictNone {
		district = geo.ComputeDistrict(m.Location)
	}
	now := d.now().UTC()
	activity := TradeActivity{
		Player:       sess.Summary(),
		MerchantID:   m.ID,
		MerchantName: m.Name,
		ItemName:     req.ItemName,
		TradeType:    req.TradeType,
		IsProfit:     req.Profit > 0,
		District:     district,
		Timestamp:    now,
	}
	d.ToDistrict(district, toOutbound(activity), sess.ConnID)
	d.logActivity(activity)

	if d.market != nil {
		pct := d.market.Swing()
		if d.market.Significant(pct) {
			d.ToAll(toOutbound(MarketPriceUpdate{
				ItemName:      req.ItemName,
				PercentChange: pct,
				Trend:         trendOf(pct),
				Timestamp:     now,
			}))
		}
	}
	return nil
}

// TradeOffer 向在线玩家发出交易邀请
func (d *Dispatcher) TradeOffer(sess *Session, req TradeOfferRequest) error {
	if strings.TrimSpace(req.TargetPlayerID) == "" || strings.TrimSpace(req.ItemName) == "" {
		return newEventError(CodeMissingData, "targetPlayerId and itemName are required")
	}
	if req.Quantity <= 0 || req.Price <= 0 {
		return newEventError(CodeMissingData, "quantity and price must be positive")
	}
	note := ""
	if strings.TrimSpace(req.Message) != "" {
		var verr *EventError
		if note, verr = normalizeText(req.Message); verr != nil {
			return verr
		}
	}
	target, ok := d.FindByPlayerID(req.TargetPlayerID)
	if !ok {
		return newEventError(CodeTargetOffline, "target player is not online")
	}

	offer := TradeOffer{
		OfferID:        uuid.NewString(),
		From:           sess.Summary(),
		TargetPlayerID: req.TargetPlayerID,
		ItemName:       req.ItemName,
		Quantity:       req.Quantity,
		Price:          req.Price,
		Message:        note,
		Timestamp:      d.now().UTC(),
	}
	if !d.ToConnection(target, Outbound{Type: OutTradeOfferReceived, Data: offer}) {
		return newEventError(CodeTargetOffline, "target player is not online")
	}
	d.ToConnection(sess.ConnID, Outbound{Type: OutTradeOfferSent, Data: offer})
	return nil
}

// MarketPrices 只读聚合，仅回给请求者
func (d *Dispatcher) MarketPrices(ctx context.Context, sess *Session, req MarketPricesRequest) error {
	window := d.priceWindow
	if req.Hours > 0 {
		window = time.Duration(min(req.Hours, 24*7)) * time.Hour
	}
	since := d.now().UTC().Add(-window)
	prices, err := d.trades.MarketPrices(ctx, MarketQuery{
		ItemName: strings.TrimSpace(req.ItemName),
		Category: strings.TrimSpace(req.Category),
		Since:    since,
	})
	if err != nil {
		return fmt.Errorf("querying market prices: %w", err)
	}
	if prices == nil {
		prices = []PriceAggregate{}
	}
	d.ToConnection(sess.ConnID, Outbound{Type: OutMarketPrices, Data: MarketPrices{Since: since, Prices: prices}})
	return nil
}

// lookupMerchant 不存在或已停用都视为 MERCHANT_NOT_FOUND
func (d *Dispatcher) lookupMerchant(ctx context.Context, id string) (*Merchant, error) {
	m, err := d.merchants.GetMerchant(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, newEventError(CodeMerchantNotFound, "merchant not found")
	}
	if err != nil {
		return nil, fmt.Errorf("loading merchant %s: %w", id, err)
	}
	if !m.IsActive {
		return nil, newEventError(CodeMerchantNotFound, "merchant not found")
	}
	return m, nil
}

// ---- 活动日志 ----

func (d *Dispatcher) logActivity(m BroadcastMessage) {
	if a, ok := activityFor(m); ok {
		d.appendActivity(a)
	}
}

// appendActivity 在决策完成后异步写入；失败只记日志，不影响请求
func (d *Dispatcher) appendActivity(a Activity) {
	if d.activity == nil {
		return
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = d.now().UTC()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.activityTimeout)
		defer cancel()
		if err := d.activity.Append(ctx, a); err != nil {
			if d.metrics != nil {
				d.metrics.IncActivityFailures()
			}
			Log.Warnw("activity log append failed", "player", a.PlayerID, "type", a.Type, "err", err)
		}
	}()
}
