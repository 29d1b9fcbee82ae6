package server

import (
	"context"

	"tradezone/geo"
)

// Transition 一次位置更新的结果，调用方据此发送通知
type Transition struct {
	Previous        geo.District
	Current         geo.District
	Changed         bool
	Location        geo.Coordinate
	NearbyMerchants []geo.Nearby
}

// Router 位置 → 街区，负责会话的街区迁移
type Router struct {
	hub       *Hub
	players   PlayerStore
	merchants MerchantStore
}

// NewRouter 创建街区路由
func NewRouter(hub *Hub, players PlayerStore, merchants MerchantStore) *Router {
	return &Router{hub: hub, players: players, merchants: merchants}
}

// ApplyLocationUpdate 校验坐标并更新会话；街区变化时原子迁移成员关系，并附带 1000m 内的商人
func (r *Router) ApplyLocationUpdate(ctx context.Context, sess *Session, c geo.Coordinate) (Transition, error) {
	if !c.Valid() {
		return Transition{}, newEventError(CodeInvalidLocation, "coordinate out of range")
	}

	next := geo.ComputeDistrict(c)
	sess.setLocation(c)
	prev, changed := r.hub.Transition(sess, next)

	t := Transition{Previous: prev, Current: next, Changed: changed, Location: c}
	if changed {
		t.NearbyMerchants = r.nearbyMerchants(ctx, c)
	}

	if r.players != nil {
		if err := r.players.UpdateLocation(ctx, sess.PlayerID, c); err != nil {
			Log.Warnw("persist location failed", "player", sess.PlayerID, "err", err)
		}
	}
	return t, nil
}

// nearbyMerchants 查询失败时返回空列表，迁移本身已经生效
func (r *Router) nearbyMerchants(ctx context.Context, c geo.Coordinate) []geo.Nearby {
	merchants, err := r.merchants.ActiveMerchants(ctx)
	if err != nil {
		Log.Warnw("load merchants failed", "err", err)
		return []geo.Nearby{}
	}
	candidates := make([]geo.Entity, 0, len(merchants))
	for _, m := range merchants {
		candidates = append(candidates, geo.Entity{ID: m.ID, Name: m.Name, Coordinate: m.Location})
	}
	return geo.Within(c, candidates, geo.DiscoveryRadius)
}
