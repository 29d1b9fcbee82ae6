package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradezone/geo"
)

func newTestServer(t *testing.T) (*testEnv, *httptest.Server) {
	t.Helper()
	env := newTestEnv(t)
	env.players.players["alice"] = &Player{ID: "alice", Username: "Alice", Level: 5, IsActive: true, LastLocation: ptr(inJung)}
	env.players.players["bob"] = &Player{ID: "bob", Username: "Bob", Level: 8, IsActive: true, LastLocation: ptr(inJung)}

	cfg := Config{}
	ApplyDefaults(&cfg)
	auth := NewAuthenticator(AuthConfig{JWTSecret: testSecret, Issuer: "tradezone"}, env.players)
	env.market = NewPriceSimulator(cfg.Market, 1)
	srv := NewServer(cfg.Server, env.hub, auth, env.handler, env.metrics, env.market)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return env, ts
}

func dialPlayer(t *testing.T, ts *httptest.Server, playerID string) *websocket.Conn {
	t.Helper()
	token := signToken(t, validClaims(playerID), jwt.SigningMethodHS256, []byte(testSecret))
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil 读取直到出现指定类型的事件
func readUntil(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, b, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		var f frame
		require.NoError(t, json.Unmarshal(b, &f))
		if f.Type == typ {
			return f
		}
	}
}

func writeEvent(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Type: typ, Data: raw}))
}

func TestWebSocketRefusesWithoutCredential(t *testing.T) {
	env, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=forged", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, 0, env.hub.Count())
	assert.Equal(t, int64(2), env.metrics.Snapshot()["auth_failures"])
}

func TestWebSocketSessionLifecycle(t *testing.T) {
	env, ts := newTestServer(t)

	alice := dialPlayer(t, ts, "alice")
	success := readUntil(t, alice, OutConnectionSuccess)
	summary := decode[ConnectionSuccess](t, success)
	assert.Equal(t, "alice", summary.PlayerID)
	assert.Equal(t, geo.DistrictJung, summary.District)

	bob := dialPlayer(t, ts, "bob")
	readUntil(t, bob, OutConnectionSuccess)
	entered := readUntil(t, alice, OutPlayerEntered)
	assert.Equal(t, "bob", decode[PlayerSummary](t, entered).PlayerID)

	writeEvent(t, alice, EvDistrictMessage, DistrictMessageRequest{Message: "anyone selling ginseng?"})
	chat := readUntil(t, bob, OutDistrictMessage)
	assert.Equal(t, "anyone selling ginseng?", decode[DistrictChat](t, chat).Text)

	writeEvent(t, bob, EvDistrictMessage, DistrictMessageRequest{Message: ""})
	errFrame := readUntil(t, bob, "error:empty_message")
	assert.Equal(t, CodeEmptyMessage, decode[ErrorPayload](t, errFrame).Code)

	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte("{not json")))
	readUntil(t, bob, "error:invalid_payload")

	require.NoError(t, alice.Close())
	left := readUntil(t, bob, OutPlayerLeft)
	assert.Equal(t, "alice", decode[PlayerSummary](t, left).PlayerID)

	assert.Eventually(t, func() bool { return env.hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	_, online := env.hub.FindByPlayerID("alice")
	assert.False(t, online)
}

func TestAdminEndpoints(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialPlayer(t, ts, "alice")
	readUntil(t, conn, OutConnectionSuccess)

	resp, err := http.Get(ts.URL + "/admin/districts")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var body struct {
		Districts []struct {
			District geo.District `json:"district"`
			Online   int          `json:"online"`
		} `json:"districts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Districts, len(geo.Districts()))
	for _, d := range body.Districts {
		if d.District == geo.DistrictJung {
			assert.Equal(t, 1, d.Online)
		}
	}

	mresp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = mresp.Body.Close() }()
	var metrics map[string]any
	require.NoError(t, json.NewDecoder(mresp.Body).Decode(&metrics))
	assert.EqualValues(t, 1, metrics["online"])

	post, err := http.Post(ts.URL+"/metrics", "application/json", nil)
	require.NoError(t, err)
	_ = post.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, post.StatusCode)
}

func TestWebSocketReconnectSupersedesOldConnection(t *testing.T) {
	env, ts := newTestServer(t)

	bob := dialPlayer(t, ts, "bob")
	readUntil(t, bob, OutConnectionSuccess)

	first := dialPlayer(t, ts, "alice")
	readUntil(t, first, OutConnectionSuccess)
	readUntil(t, bob, OutPlayerEntered)

	second := dialPlayer(t, ts, "alice")
	readUntil(t, second, OutConnectionSuccess)
	readUntil(t, bob, OutPlayerEntered)

	// 旧连接被服务端关闭
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
	assert.Eventually(t, func() bool { return env.hub.Count() == 2 }, 2*time.Second, 10*time.Millisecond)

	// bob 之后收到的第一条是 alice 的聊天，而不是离开通知
	writeEvent(t, second, EvDistrictMessage, DistrictMessageRequest{Message: "still here"})
	require.NoError(t, bob.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, b, err := bob.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(b, &f))
	assert.Equal(t, OutDistrictMessage, f.Type)
}

func TestAdminConfigEndpoint(t *testing.T) {
	env, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/admin/config")
	require.NoError(t, err)
	var cur MarketTuning
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cur))
	_ = resp.Body.Close()
	require.NotNil(t, cur.SwingThresholdPct)
	assert.InDelta(t, 3.0, *cur.SwingThresholdPct, 0)

	post, err := http.Post(ts.URL+"/admin/config", "application/json", strings.NewReader(`{"swingThresholdPct":1.5}`))
	require.NoError(t, err)
	_ = post.Body.Close()
	assert.Equal(t, http.StatusOK, post.StatusCode)
	assert.InDelta(t, 1.5, *env.market.Tuning().SwingThresholdPct, 0)
	assert.InDelta(t, 5.0, *env.market.Tuning().MaxSwingPct, 0)

	bad, err := http.Post(ts.URL+"/admin/config", "application/json", strings.NewReader(`{"maxSwingPct":-2}`))
	require.NoError(t, err)
	_ = bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	garbage, err := http.Post(ts.URL+"/admin/config", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	_ = garbage.Body.Close()
	assert.Equal(t, http.StatusBadRequest, garbage.StatusCode)
}
