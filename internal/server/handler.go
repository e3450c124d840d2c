package server

import (
	"context"
	"errors"
	"net/http"

	"chatgate/internal/auth"
	"chatgate/internal/models"
	"chatgate/internal/service"
	"chatgate/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	auth     *auth.Service
	accounts *service.AccountService
	codec    *token.Codec
	health   func(context.Context) error
}

func NewHandler(authSvc *auth.Service, accounts *service.AccountService, codec *token.Codec) *Handler {
	return &Handler{auth: authSvc, accounts: accounts, codec: codec}
}

// WithHealthCheck 注册健康检查，check 失败时 /healthz 返回 503。
func (h *Handler) WithHealthCheck(check func(context.Context) error) *Handler {
	h.health = check
	return h
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	DeviceID string `json:"deviceId" binding:"omitempty,max=128"`
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,max=256"`
	Username string `json:"username" binding:"required,min=2,max=64"`
	DeviceID string `json:"deviceId" binding:"omitempty,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// badRequest 输出参数绑定错误，validator 错误会逐个列出字段。
func badRequest(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	fields := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "fields": fields})
}

// fail 将 service 层错误映射为 HTTP 响应，未识别的错误统一返回 500。
func fail(c *gin.Context, err error, op string) {
	var verr *service.ValidationError
	switch {
	case auth.IsUnauthorized(err):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Validation failed", "errors": verr.Errors})
	case errors.Is(err, service.ErrDuplicateAccount):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidOrExpiredToken):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("op", op).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func loginMetadata(c *gin.Context, deviceID string) models.LoginMetadata {
	return models.LoginMetadata{DeviceID: deviceID, IPAddress: c.ClientIP(), UserAgent: c.Request.UserAgent()}
}

// wrapResult 用签名后的包装 token 替换原始 refresh secret。
func (h *Handler) wrapResult(res *auth.LoginResult) error {
	wrapped, err := h.codec.WrapRefresh(res.User.ID, res.RefreshToken)
	if err != nil {
		return err
	}
	res.RefreshToken = wrapped
	return nil
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	u, err := h.auth.ValidateUser(ctx, req.Email, req.Password)
	if err != nil {
		fail(c, err, "login")
		return
	}
	res, err := h.auth.Login(ctx, u, loginMetadata(c, req.DeviceID))
	if err == nil {
		err = h.wrapResult(res)
	}
	if err != nil {
		fail(c, err, "login")
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	in := service.RegisterInput{Email: req.Email, Username: req.Username, Password: req.Password, DeviceID: req.DeviceID}
	res, err := h.accounts.Register(c.Request.Context(), in, loginMetadata(c, req.DeviceID))
	if err == nil {
		err = h.wrapResult(res)
	}
	if err != nil {
		fail(c, err, "register")
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	userID, secret, err := h.codec.UnwrapRefresh(req.RefreshToken)
	if err != nil {
		fail(c, auth.ErrInvalidRefreshToken, "refresh")
		return
	}
	pair, err := h.auth.RefreshAccessToken(c.Request.Context(), secret, userID)
	if err == nil {
		pair.RefreshToken, err = h.codec.WrapRefresh(userID, pair.RefreshToken)
	}
	if err != nil {
		fail(c, err, "refresh")
		return
	}
	c.JSON(http.StatusOK, pair)
}

func (h *Handler) VerifyEmail(c *gin.Context) {
	if _, err := h.auth.VerifyEmail(c.Request.Context(), c.Query("token")); err != nil {
		fail(c, err, "verify email")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email verified successfully"})
}

func (h *Handler) ResendVerification(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := h.accounts.ResendVerification(c.Request.Context(), req.Email)
	if err != nil {
		fail(c, err, "resend verification")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *Handler) Logout(c *gin.Context) {
	p, _ := auth.CurrentPrincipal(c)
	var req logoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	userID, secret, err := h.codec.UnwrapRefresh(req.RefreshToken)
	if err != nil || userID != p.UserID {
		fail(c, auth.ErrInvalidRefreshToken, "logout")
		return
	}
	if err := h.auth.Logout(c.Request.Context(), secret, userID); err != nil {
		fail(c, err, "logout")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *Handler) LogoutAll(c *gin.Context) {
	p, _ := auth.CurrentPrincipal(c)
	if err := h.auth.LogoutAllDevices(c.Request.Context(), p.UserID); err != nil {
		fail(c, err, "logout all")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out from all devices"})
}

func (h *Handler) Sessions(c *gin.Context) {
	p, _ := auth.CurrentPrincipal(c)
	sessions, err := h.auth.GetActiveSessions(c.Request.Context(), p.UserID)
	if err != nil {
		fail(c, err, "list sessions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) Me(c *gin.Context) {
	p, _ := auth.CurrentPrincipal(c)
	profile, err := h.accounts.Profile(c.Request.Context(), p.UserID)
	if err != nil {
		fail(c, err, "profile")
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (h *Handler) Healthz(c *gin.Context) {
	if h.health != nil {
		if err := h.health(c.Request.Context()); err != nil {
			log.Warn().Err(err).Msg("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
