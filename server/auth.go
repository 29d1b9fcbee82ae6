package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"tradezone/geo"
)

// Identity 认证结果，是创建 Session 的唯一来源
type Identity struct {
	PlayerID     string
	PlayerName   string
	Level        int
	IsAdmin      bool
	LastLocation *geo.Coordinate
}

// Claims 游戏客户端持有的 JWT 载荷
type Claims struct {
	PlayerID string `json:"playerId"`
	jwt.RegisteredClaims
}

// Authenticator 校验握手凭证并解析玩家身份
type Authenticator struct {
	secret  []byte
	issuer  string
	players PlayerStore
}

// NewAuthenticator 创建认证器；issuer 为空时不校验 iss
func NewAuthenticator(cfg AuthConfig, players PlayerStore) *Authenticator {
	return &Authenticator{
		secret:  []byte(cfg.JWTSecret),
		issuer:  cfg.Issuer,
		players: players,
	}
}

// Authenticate 校验签名与过期时间，并确认玩家存在且处于激活状态
func (a *Authenticator) Authenticate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, newEventError(CodeAuthFailed, "missing token")
	}

	claims, err := a.parse(token)
	if err != nil {
		return Identity{}, newEventError(CodeAuthFailed, err.Error())
	}

	playerID := claims.PlayerID
	if playerID == "" {
		playerID = claims.Subject
	}
	if playerID == "" {
		return Identity{}, newEventError(CodeAuthFailed, "token has no player id")
	}

	p, err := a.players.GetPlayer(ctx, playerID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			Log.Errorw("player lookup failed", "player", playerID, "err", err)
		}
		return Identity{}, newEventError(CodeAuthFailed, "player not found")
	}
	if !p.IsActive {
		return Identity{}, newEventError(CodeAuthFailed, "player inactive")
	}

	return Identity{
		PlayerID:     p.ID,
		PlayerName:   p.Username,
		Level:        p.Level,
		IsAdmin:      p.IsAdmin,
		LastLocation: p.LastLocation,
	}, nil
}

func (a *Authenticator) parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// TokenFromRequest 依次读取 ?token= 与 Authorization: Bearer
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
