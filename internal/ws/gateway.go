package ws

import (
	"net/http"
	"strings"

	"chatgate/internal/auth"
	"chatgate/internal/metrics"
	"chatgate/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// tokenSubprotocol 允许浏览器通过 "Sec-WebSocket-Protocol: access_token, <token>" 传递 token。
const tokenSubprotocol = "access_token"

// Gateway 将认证通过的请求升级为房间客户端，只依赖 token 校验，不读取会话存储。
type Gateway struct {
	hub               *Hub
	bus               Broadcaster
	codec             *token.Codec
	requireMembership bool
	upgrader          websocket.Upgrader
}

type Option func(*Gateway)

// WithRoomMembership 开启后，向未加入的房间 send_message 会失败。
func WithRoomMembership(require bool) Option {
	return func(g *Gateway) { g.requireMembership = require }
}

func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(g *Gateway) { g.upgrader.CheckOrigin = fn }
}

func NewGateway(hub *Hub, bus Broadcaster, codec *token.Codec, opts ...Option) *Gateway {
	g := &Gateway{
		hub:   hub,
		bus:   bus,
		codec: codec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{tokenSubprotocol},
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// handshakeToken 依次从 query、Authorization 头和子协议中查找 token。
func handshakeToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if t := auth.BearerToken(r.Header.Get("Authorization")); t != "" {
		return t
	}
	protos := websocket.Subprotocols(r)
	for i := 0; i+1 < len(protos); i++ {
		if protos[i] == tokenSubprotocol {
			return strings.TrimSpace(protos[i+1])
		}
	}
	return ""
}

// Serve 是 WebSocket 端点的 gin handler，没有有效 token 的请求直接返回 401，不会升级。
func (g *Gateway) Serve(c *gin.Context) {
	tok := handshakeToken(c.Request)
	if tok == "" {
		metrics.WsRejectedTotal.Inc()
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	p, err := g.codec.VerifyAccess(tok)
	if err != nil {
		metrics.WsRejectedTotal.Inc()
		log.Debug().Err(err).Msg("ws handshake rejected")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Str("user_id", p.Subject).Msg("ws upgrade")
		return
	}
	client := newClient(g.hub, g.bus, conn, p.Subject, p.Username, p.Email)
	client.requireMembership = g.requireMembership
	client.authenticate()

	go client.writePump()
	client.readPump()
}
