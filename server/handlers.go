package server

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"tradezone/geo"
)

const (
	defaultNearbyRadius = 1000.0
	maxNearbyRadius     = 5000.0
	eventTimeout        = 10 * time.Second
)

// Handler 入站事件的唯一分发点：每种事件一个处理函数
type Handler struct {
	hub        *Hub
	router     *Router
	dispatcher *Dispatcher
	metrics    *Metrics
}

// NewHandler 组装事件处理
func NewHandler(hub *Hub, router *Router, dispatcher *Dispatcher, metrics *Metrics) *Handler {
	return &Handler{
		hub:        hub,
		router:     router,
		dispatcher: dispatcher,
		metrics:    metrics,
	}
}

// OnConnect 回送会话摘要；已知初始街区时通知该街区其他成员
func (h *Handler) OnConnect(sess *Session) {
	district := sess.District()
	h.reply(sess, Outbound{Type: OutConnectionSuccess, Data: ConnectionSuccess{
		ConnectionID: string(sess.ConnID),
		PlayerID:     sess.PlayerID,
		PlayerName:   sess.PlayerName,
		Level:        sess.Level,
		District:     district,
		ServerTime:   time.Now().UTC(),
	}})
	if district != geo.DistrictNone {
		h.dispatcher.ToDistrict(district, Outbound{Type: OutPlayerEntered, Data: sess.Summary()}, sess.ConnID)
	}
}

// OnDisconnect 先移出注册表、关闭发送队列，再通知原街区剩余成员。
// 玩家已通过新连接留在同一街区时不发离开通知
func (h *Handler) OnDisconnect(sess *Session) {
	dep, ok := h.hub.Disconnect(sess.ConnID)
	if sess.conn != nil {
		sess.conn.Close()
	}
	if !ok || dep.From == geo.DistrictNone || dep.StillPresent {
		return
	}
	prev := dep.From
	summary := PlayerSummary{PlayerID: sess.PlayerID, Name: sess.PlayerName, Level: sess.Level, District: prev}
	h.dispatcher.ToDistrict(prev, Outbound{Type: OutPlayerLeft, Data: summary}, sess.ConnID)
}

// Handle 处理单个事件；业务错误与 panic 都只回送给发起连接
func (h *Handler) Handle(ctx context.Context, sess *Session, env Envelope) {
	if h.metrics != nil {
		h.metrics.IncEvents()
	}
	if !sess.allow() {
		if h.metrics != nil {
			h.metrics.IncRateLimited()
		}
		h.fail(sess, env.Type, newEventError(CodeRateLimited, "too many events"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, eventTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			if h.metrics != nil {
				h.metrics.IncPanics()
			}
			Log.Errorw("panic in event handler", "event", env.Type, "conn", sess.ConnID, "panic", r, "stack", string(debug.Stack()))
			h.fail(sess, env.Type, newEventError(CodeInternal, "internal error"))
		}
	}()

	if err := h.route(ctx, sess, env); err != nil {
		h.fail(sess, env.Type, err)
	}
}

func (h *Handler) route(ctx context.Context, sess *Session, env Envelope) error {
	switch env.Type {
	case EvLocationUpdate:
		return withPayload(env, func(req LocationUpdateRequest) error { return h.locationUpdate(ctx, sess, req) })
	case EvDistrictMessage:
		return withPayload(env, func(req DistrictMessageRequest) error {
			return h.dispatcher.DistrictChat(sess, req.Message)
		})
	case EvPrivateMessage:
		return withPayload(env, func(req PrivateMessageRequest) error {
			return h.dispatcher.PrivateMessage(sess, req.TargetPlayerID, req.Message)
		})
	case EvSystemAnnouncement:
		return withPayload(env, func(req AnnouncementRequest) error {
			return h.dispatcher.Announce(sess, req.Message, req.Type)
		})
	case EvTradeCompleted:
		return withPayload(env, func(req TradeCompletedRequest) error {
			return h.dispatcher.TradeCompleted(ctx, sess, req)
		})
	case EvTradeOffer:
		return withPayload(env, func(req TradeOfferRequest) error { return h.dispatcher.TradeOffer(sess, req) })
	case EvPlayersGetNearby:
		return withPayload(env, func(req NearbyPlayersRequest) error { return h.nearbyPlayers(sess, req) })
	case EvMerchantDistance:
		return withPayload(env, func(req MerchantDistanceRequest) error { return h.merchantDistance(ctx, sess, req) })
	case EvMarketGetPrices:
		return withPayload(env, func(req MarketPricesRequest) error {
			return h.dispatcher.MarketPrices(ctx, sess, req)
		})
	case EvStatusUpdate:
		return withPayload(env, func(req StatusUpdateRequest) error { return h.statusUpdate(sess, req) })
	default:
		return newEventError(CodeInvalidPayload, fmt.Sprintf("unknown event %q", env.Type))
	}
}

// withPayload 解码载荷后调用处理函数；载荷缺失或格式错误直接拒绝
func withPayload[T any](env Envelope, fn func(T) error) error {
	var req T
	if len(env.Data) == 0 {
		return newEventError(CodeMissingData, "missing payload")
	}
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return newEventError(CodeInvalidPayload, "malformed payload")
	}
	return fn(req)
}

func (h *Handler) locationUpdate(ctx context.Context, sess *Session, req LocationUpdateRequest) error {
	c, verr := req.Coordinate()
	if verr != nil {
		return verr
	}
	t, err := h.router.ApplyLocationUpdate(ctx, sess, c)
	if err != nil {
		return err
	}

	if !t.Changed {
		h.dispatcher.ToDistrict(t.Current, Outbound{Type: OutLocationUpdated, Data: LocationRefresh{
			PlayerSummary: sess.Summary(),
			Location:      t.Location,
		}}, sess.ConnID)
		return nil
	}

	summary := sess.Summary()
	if t.Previous != geo.DistrictNone {
		left := summary
		left.District = t.Previous
		h.dispatcher.ToDistrict(t.Previous, Outbound{Type: OutPlayerLeft, Data: left}, sess.ConnID)
	}
	h.dispatcher.ToDistrict(t.Current, Outbound{Type: OutPlayerEntered, Data: summary}, sess.ConnID)
	h.reply(sess, Outbound{Type: OutDistrictChanged, Data: DistrictChanged{
		OldDistrict:     t.Previous,
		NewDistrict:     t.Current,
		NearbyMerchants: t.NearbyMerchants,
	}})
	h.dispatcher.appendActivity(Activity{
		PlayerID:    sess.PlayerID,
		Type:        ActivityDistrictChange,
		Description: fmt.Sprintf("moved from %q to %q", t.Previous, t.Current),
		Metadata:    map[string]any{"from": t.Previous, "to": t.Current},
	})
	return nil
}

func (h *Handler) nearbyPlayers(sess *Session, req NearbyPlayersRequest) error {
	if req.Lat == nil || req.Lng == nil {
		return newEventError(CodeInvalidLocation, "lat and lng are required")
	}
	origin := geo.Coordinate{Lat: *req.Lat, Lng: *req.Lng}
	if !origin.Valid() {
		return newEventError(CodeInvalidLocation, "coordinate out of range")
	}
	radius := req.Radius
	if radius <= 0 {
		radius = defaultNearbyRadius
	}
	radius = min(radius, maxNearbyRadius)

	h.reply(sess, Outbound{Type: OutPlayersNearby, Data: NearbyPlayers{
		Radius:  radius,
		Players: h.hub.NearbyPlayers(origin, radius, sess.ConnID),
	}})
	return nil
}

func (h *Handler) merchantDistance(ctx context.Context, sess *Session, req MerchantDistanceRequest) error {
	if req.MerchantID == "" || req.PlayerLat == nil || req.PlayerLng == nil {
		return newEventError(CodeMissingData, "merchantId, playerLat and playerLng are required")
	}
	player := geo.Coordinate{Lat: *req.PlayerLat, Lng: *req.PlayerLng}
	if !player.Valid() {
		return newEventError(CodeInvalidLocation, "coordinate out of range")
	}
	m, err := h.dispatcher.lookupMerchant(ctx, req.MerchantID)
	if err != nil {
		return err
	}

	dist := geo.Distance(player, m.Location)
	h.reply(sess, Outbound{Type: OutMerchantDistance, Data: MerchantDistance{
		MerchantID:       m.ID,
		MerchantName:     m.Name,
		Distance:         dist,
		CanTrade:         geo.TradeEligible(dist),
		MaxTradeDistance: geo.TradeRadius,
	}})
	return nil
}

func (h *Handler) statusUpdate(sess *Session, req StatusUpdateRequest) error {
	if !req.Status.valid() {
		return newEventError(CodeMissingData, "unknown status")
	}
	sess.setStatus(req.Status)
	h.dispatcher.ToDistrict(sess.District(), Outbound{Type: OutPlayerStatusChanged, Data: StatusChanged{
		PlayerSummary: sess.Summary(),
		Status:        req.Status,
	}}, sess.ConnID)
	return nil
}

// reply 回给发起连接本身
func (h *Handler) reply(sess *Session, msg Outbound) {
	b, err := msg.Encode()
	if err != nil {
		Log.Errorw("encode outbound failed", "type", msg.Type, "err", err)
		return
	}
	if sess.conn != nil && !sess.conn.Enqueue(b) && h.metrics != nil {
		h.metrics.AddDropped(1)
	}
}

// fail 非业务错误记录日志后统一转换为 INTERNAL_ERROR
func (h *Handler) fail(sess *Session, event string, err error) {
	ee := AsEventError(err)
	if ee.Code == CodeInternal {
		Log.Errorw("event failed", "event", event, "conn", sess.ConnID, "err", err)
	} else {
		Log.Debugw("event rejected", "event", event, "conn", sess.ConnID, "code", ee.Code)
	}
	if h.metrics != nil {
		h.metrics.IncEventErrors()
	}
	h.reply(sess, errorOutbound(ee))
}
