package server

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"tradezone/geo"
)

// Hub 进程内唯一的连接注册表：会话、playerId 索引与街区成员集合。
// 所有跨连接共享状态都在这里，由 mu 保护；锁顺序固定为 Hub.mu → Session.mu。
type Hub struct {
	mu        sync.RWMutex
	sessions  map[ConnID]*Session
	byPlayer  map[string]ConnID
	districts map[geo.District]map[ConnID]struct{}
}

// NewHub 创建空注册表
func NewHub() *Hub {
	return &Hub{
		sessions:  make(map[ConnID]*Session),
		byPlayer:  make(map[string]ConnID),
		districts: make(map[geo.District]map[ConnID]struct{}),
	}
}

// Connect 为通过认证的身份创建会话；若有最近位置则直接加入对应街区。
// 同一玩家已有在线连接时返回被取代的旧会话，由调用方关闭
func (h *Hub) Connect(id Identity, conn *ClientConn) (sess *Session, superseded *Session) {
	sess = &Session{
		ConnID:     ConnID(uuid.NewString()),
		PlayerID:   id.PlayerID,
		PlayerName: id.PlayerName,
		Level:      id.Level,
		IsAdmin:    id.IsAdmin,
		conn:       conn,
		status:     StatusOnline,
	}
	if id.LastLocation != nil && id.LastLocation.Valid() {
		loc := *id.LastLocation
		sess.location = &loc
		sess.district = geo.ComputeDistrict(loc)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if prevID, ok := h.byPlayer[sess.PlayerID]; ok {
		superseded = h.sessions[prevID]
	}
	h.sessions[sess.ConnID] = sess
	// 同一玩家重连时索引指向最新连接
	h.byPlayer[sess.PlayerID] = sess.ConnID
	if sess.district != geo.DistrictNone {
		h.addMemberLocked(sess.district, sess.ConnID)
	}
	return sess, superseded
}

// Departure 一次断线的结果
type Departure struct {
	Session *Session
	From    geo.District
	// StillPresent 同一玩家的较新连接仍在 From 街区，不应通知离开
	StillPresent bool
}

// Disconnect 移除会话及其街区成员关系，返回其离开前所在街区
func (h *Hub) Disconnect(connID ConnID) (Departure, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[connID]
	if !ok {
		return Departure{}, false
	}
	delete(h.sessions, connID)

	sess.mu.Lock()
	prev := sess.district
	sess.district = geo.DistrictNone
	sess.mu.Unlock()

	if prev != geo.DistrictNone {
		delete(h.districts[prev], connID)
	}

	dep := Departure{Session: sess, From: prev}
	if current, ok := h.byPlayer[sess.PlayerID]; ok && current != connID {
		if newer, live := h.sessions[current]; live && prev != geo.DistrictNone && newer.District() == prev {
			dep.StillPresent = true
		}
	} else {
		delete(h.byPlayer, sess.PlayerID)
	}
	return dep, true
}

// Transition 原子地把会话从旧街区移到新街区；广播迭代看不到中间状态
func (h *Hub) Transition(sess *Session, to geo.District) (geo.District, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.sessions[sess.ConnID]; !live {
		return sess.District(), false
	}

	sess.mu.Lock()
	from := sess.district
	if from == to {
		sess.mu.Unlock()
		return from, false
	}
	sess.district = to
	sess.mu.Unlock()

	if from != geo.DistrictNone {
		delete(h.districts[from], sess.ConnID)
	}
	h.addMemberLocked(to, sess.ConnID)
	return from, true
}

// addMemberLocked 成员集合懒创建，之后即使为空也不删除
func (h *Hub) addMemberLocked(d geo.District, id ConnID) {
	set, ok := h.districts[d]
	if !ok {
		set = make(map[ConnID]struct{})
		h.districts[d] = set
	}
	set[id] = struct{}{}
}

// Session 按连接查会话
func (h *Hub) Session(id ConnID) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// FindByPlayerID 通过索引定位玩家的在线连接
func (h *Hub) FindByPlayerID(playerID string) (ConnID, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	id, ok := h.byPlayer[playerID]
	return id, ok
}

// Members 街区成员快照
func (h *Hub) Members(d geo.District) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.districts[d]
	out := make([]*Session, 0, len(set))
	for id := range set {
		if s, ok := h.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// All 所有在线会话快照
func (h *Hub) All() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// Count 在线连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// MembershipOf 返回包含该连接的所有街区（正常情况下至多一个）
func (h *Hub) MembershipOf(id ConnID) []geo.District {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []geo.District
	for d, set := range h.districts {
		if _, ok := set[id]; ok {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DistrictCounts 各街区在线人数（含空集合）
func (h *Hub) DistrictCounts() map[geo.District]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[geo.District]int, len(h.districts))
	for d, set := range h.districts {
		out[d] = len(set)
	}
	return out
}

// NearbyPlayers 在线且已定位的其他玩家中，距离 origin 不超过 radius 的。
// 同一玩家只计入索引指向的最新连接
func (h *Hub) NearbyPlayers(origin geo.Coordinate, radius float64, exclude ConnID) []geo.Nearby {
	h.mu.RLock()
	candidates := make([]geo.Entity, 0, len(h.sessions))
	for id, s := range h.sessions {
		if id == exclude || h.byPlayer[s.PlayerID] != id {
			continue
		}
		loc, ok := s.Location()
		if !ok {
			continue
		}
		candidates = append(candidates, geo.Entity{ID: s.PlayerID, Name: s.PlayerName, Coordinate: loc})
	}
	h.mu.RUnlock()
	return geo.Within(origin, candidates, radius)
}
