package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ws   *websocket.Conn
	mu   sync.Mutex
	send chan []byte
	done bool
}

// NewClientConn ws 可以为 nil（测试中只观察发送队列）
func NewClientConn(ws *websocket.Conn, queueSize int) *ClientConn {
	return &ClientConn{
		ws:   ws,
		send: make(chan []byte, queueSize),
	}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃，已关闭则忽略）
func (c *ClientConn) Enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		// 慢客户端只影响自己
		return false
	}
}

// Close 关闭发送队列；写协程随后关闭底层连接。可重复调用
func (c *ClientConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	c.done = true
	close(c.send)
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *ClientConn) writePump(writeWait, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Server WebSocket 接入层：认证、会话生命周期与读循环
type Server struct {
	cfg      ServerConfig
	hub      *Hub
	auth     *Authenticator
	handler  *Handler
	metrics  *Metrics
	market   *PriceSimulator
	upgrader websocket.Upgrader
}

// NewServer 组装接入层；market 供 /admin/config 热调整行情参数
func NewServer(cfg ServerConfig, hub *Hub, auth *Authenticator, handler *Handler, metrics *Metrics, market *PriceSimulator) *Server {
	s := &Server{
		cfg:     cfg,
		hub:     hub,
		auth:    auth,
		handler: handler,
		metrics: metrics,
		market:  market,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range s.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// HandleWS WebSocket 接入：先认证，失败时拒绝升级
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	id, err := s.auth.Authenticate(r.Context(), TokenFromRequest(r))
	if err != nil {
		s.metrics.IncAuthFailures()
		Log.Infow("connection refused", "remote", r.RemoteAddr, "err", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(ErrorPayload{Code: CodeAuthFailed, Message: "authentication failed"})
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnw("upgrade error", "player", id.PlayerID, "err", err)
		return
	}

	client := NewClientConn(ws, s.cfg.SendQueueSize)
	sess, superseded := s.hub.Connect(id, client)
	sess.limiter = rate.NewLimiter(rate.Limit(s.cfg.EventsPerSec), s.cfg.EventBurst)
	s.metrics.IncOpened()
	Log.Infow("player connected", "conn", sess.ConnID, "player", sess.PlayerID, "district", sess.District())
	if superseded != nil && superseded.conn != nil {
		// 旧连接的读循环随后退出并走正常断线流程
		Log.Infow("closing superseded connection", "conn", superseded.ConnID, "player", sess.PlayerID)
		superseded.conn.Close()
	}

	go client.writePump(s.cfg.WriteWait, s.cfg.PongWait*9/10)
	s.handler.OnConnect(sess)
	go s.readPump(sess, ws)
}

// readPump 按到达顺序逐个处理该连接的事件；退出即视为断线
func (s *Server) readPump(sess *Session, ws *websocket.Conn) {
	defer s.disconnect(sess)
	ws.SetReadLimit(s.cfg.ReadLimitBytes)
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				Log.Debugw("read error", "conn", sess.ConnID, "err", err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			s.handler.reply(sess, errorOutbound(newEventError(CodeInvalidPayload, "malformed message")))
			continue
		}
		s.handler.Handle(context.Background(), sess, env)
	}
}

func (s *Server) disconnect(sess *Session) {
	s.handler.OnDisconnect(sess)
	s.metrics.IncClosed()
	Log.Infow("player disconnected", "conn", sess.ConnID, "player", sess.PlayerID)
}

// CloseAll 关闭所有在线连接的发送队列，写协程随后发送 close 帧
func (s *Server) CloseAll() {
	for _, sess := range s.hub.All() {
		if sess.conn != nil {
			sess.conn.Close()
		}
	}
}
