package server

import (
	"chatgate/internal/auth"
	"chatgate/internal/config"
	"chatgate/internal/metrics"
	"chatgate/internal/mw"
	"chatgate/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 统一初始化 Gin 中间件与路由，包括 /auth 接口和 WebSocket 端点。
// limiter 只作用于登录和注册，传 nil 表示不限速。
func SetupRouter(cfg config.Config, h *Handler, gw *ws.Gateway, limiter *mw.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limited := func(hf gin.HandlerFunc) []gin.HandlerFunc {
		if limiter == nil {
			return []gin.HandlerFunc{hf}
		}
		return []gin.HandlerFunc{limiter.Middleware(), hf}
	}

	a := r.Group("/auth")
	a.POST("/login", limited(h.Login)...)
	a.POST("/register", limited(h.Register)...)
	a.POST("/refresh", h.Refresh)
	a.GET("/verify-email", h.VerifyEmail)
	a.POST("/resend-verification", h.ResendVerification)

	authed := a.Group("")
	authed.Use(auth.Middleware(h.codec))
	authed.POST("/logout", h.Logout)
	authed.POST("/logout-all", h.LogoutAll)
	authed.GET("/sessions", h.Sessions)
	authed.GET("/me", h.Me)

	r.GET("/ws", gw.Serve)
	return r
}
