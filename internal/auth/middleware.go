package auth

import (
	"net/http"
	"strings"

	"chatgate/internal/token"

	"github.com/gin-gonic/gin"
)

// Principal 是校验通过的 access token 所携带的身份信息。
type Principal struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

const principalKey = "auth.principal"

// BearerToken 从 "Authorization: Bearer" 头中取出 token。
func BearerToken(header string) string {
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// Middleware 拒绝没有有效 access token 的请求，并把 Principal 写入上下文供 handler 使用。
func Middleware(codec *token.Codec) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := BearerToken(c.GetHeader("Authorization"))
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		p, err := codec.VerifyAccess(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(principalKey, Principal{UserID: p.Subject, Email: p.Email, Username: p.Username})
		c.Next()
	}
}

// CurrentPrincipal 返回 Middleware 写入的 Principal。
func CurrentPrincipal(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}
