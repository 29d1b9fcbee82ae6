package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tradezone/geo"
)

// 各街区内的固定坐标
var (
	inGangnam = geo.Coordinate{Lat: 37.4979, Lng: 127.0276}
	inJung    = geo.Coordinate{Lat: 37.5665, Lng: 126.9780}
	inMapo    = geo.Coordinate{Lat: 37.5563, Lng: 126.9220}
)

type fakePlayers struct {
	mu      sync.Mutex
	players map[string]*Player
	updates []geo.Coordinate
	err     error
}

func (f *fakePlayers) GetPlayer(_ context.Context, id string) (*Player, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.players[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePlayers) UpdateLocation(_ context.Context, _ string, c geo.Coordinate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, c)
	return f.err
}

type fakeMerchants struct {
	merchants map[string]Merchant
	err       error
}

func (f *fakeMerchants) GetMerchant(_ context.Context, id string) (*Merchant, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.merchants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (f *fakeMerchants) ActiveMerchants(context.Context) ([]Merchant, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []Merchant
	for _, m := range f.merchants {
		if m.IsActive {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeTrades struct {
	last   MarketQuery
	prices []PriceAggregate
	err    error
}

func (f *fakeTrades) MarketPrices(_ context.Context, q MarketQuery) ([]PriceAggregate, error) {
	f.last = q
	return f.prices, f.err
}

type fakeActivity struct {
	mu      sync.Mutex
	entries []Activity
	err     error
	wrote   chan struct{}
}

func newFakeActivity() *fakeActivity {
	return &fakeActivity{wrote: make(chan struct{}, 64)}
}

func (f *fakeActivity) Append(_ context.Context, a Activity) error {
	f.mu.Lock()
	f.entries = append(f.entries, a)
	f.mu.Unlock()
	f.wrote <- struct{}{}
	return f.err
}

func (f *fakeActivity) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.wrote:
	case <-time.After(time.Second):
		t.Fatal("activity log was not written")
	}
}

func (f *fakeActivity) snapshot() []Activity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Activity(nil), f.entries...)
}

type fixedSwing float64

func (s fixedSwing) Swing() float64               { return float64(s) }
func (s fixedSwing) Significant(pct float64) bool { return pct > 3 || pct < -3 }

// testEnv 不经过网络的完整组装
type testEnv struct {
	hub        *Hub
	players    *fakePlayers
	merchants  *fakeMerchants
	trades     *fakeTrades
	activity   *fakeActivity
	metrics    *Metrics
	dispatcher *Dispatcher
	router     *Router
	handler    *Handler
	market     *PriceSimulator
	now        time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := Config{}
	ApplyDefaults(&cfg)

	env := &testEnv{
		hub:     NewHub(),
		players: &fakePlayers{players: map[string]*Player{}},
		merchants: &fakeMerchants{merchants: map[string]Merchant{
			"m-jung":     {ID: "m-jung", Name: "City Hall Goods", Location: geo.Coordinate{Lat: 37.5670, Lng: 126.9785}, District: geo.DistrictJung, IsActive: true},
			"m-jung-far": {ID: "m-jung-far", Name: "Namsan Stall", Location: geo.Coordinate{Lat: 37.5512, Lng: 126.9882}, District: geo.DistrictJung, IsActive: true},
			"m-gangnam":  {ID: "m-gangnam", Name: "Gangnam Tech", Location: geo.Coordinate{Lat: 37.4985, Lng: 127.0280}, IsActive: true},
			"m-closed":   {ID: "m-closed", Name: "Closed Shop", Location: inJung, District: geo.DistrictJung, IsActive: false},
		}},
		trades:   &fakeTrades{},
		activity: newFakeActivity(),
		metrics:  &Metrics{},
		now:      time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC),
	}
	env.dispatcher = NewDispatcher(env.hub, env.merchants, env.trades, env.activity, fixedSwing(1), env.metrics, cfg.Market)
	env.dispatcher.now = func() time.Time { return env.now }
	env.router = NewRouter(env.hub, env.players, env.merchants)
	env.handler = NewHandler(env.hub, env.router, env.dispatcher, env.metrics)
	return env
}

// connect 注册一个会话；loc 非空时作为最近位置
func (e *testEnv) connect(playerID string, loc *geo.Coordinate) *Session {
	return e.connectAs(Identity{PlayerID: playerID, PlayerName: "name-" + playerID, Level: 3, LastLocation: loc})
}

func (e *testEnv) connectAs(id Identity) *Session {
	sess, _ := e.hub.Connect(id, NewClientConn(nil, 64))
	return sess
}

func (e *testEnv) send(t *testing.T, sess *Session, typ string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	e.handler.Handle(context.Background(), sess, Envelope{Type: typ, Data: raw})
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// drain 取出会话发送队列中已有的全部帧
func drain(t *testing.T, sess *Session) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case b, ok := <-sess.conn.send:
			if !ok {
				return out
			}
			var f frame
			require.NoError(t, json.Unmarshal(b, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func types(frames []frame) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Type)
	}
	return out
}

func decode[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func ptr[T any](v T) *T { return &v }

var errBoom = errors.New("boom")
