// Package token 负责签发与校验 HTTP 接口和实时网关共用的 HS256 JWT，两者只共享密钥。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidSignature = errors.New("token: invalid signature")
	ErrExpired          = errors.New("token: expired")
	ErrWrongType        = errors.New("token: wrong type")
)

type Type string

const (
	Access  Type = "access"
	Refresh Type = "refresh"
)

// Payload 是校验通过后的 token 内容。
type Payload struct {
	Subject   string
	Email     string
	Username  string
	Type      Type
	ID        string
	ExpiresAt time.Time
}

type Claims struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	Type     Type   `json:"type"`
	jwt.RegisteredClaims
}

type Codec struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

type Option func(*Codec)

func WithAccessTTL(d time.Duration) Option { return func(c *Codec) { c.accessTTL = d } }

func WithClock(now func() time.Time) Option { return func(c *Codec) { c.now = now } }

func NewCodec(secret string, opts ...Option) *Codec {
	c := &Codec{secret: []byte(secret), accessTTL: 15 * time.Minute, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// Issue 按 ttl 签发 p，ttl 为 0 时不带 exp。
func (c *Codec) Issue(p Payload, ttl time.Duration) (string, error) {
	now := c.now()
	claims := Claims{
		Email:    p.Email,
		Username: p.Username,
		Type:     p.Type,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  p.Subject,
			ID:       p.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c *Codec) IssueAccess(subject, email, username string) (string, error) {
	return c.Issue(Payload{Subject: subject, Email: email, Username: username, Type: Access}, c.accessTTL)
}

// Verify 校验签名与过期时间，过期以外的失败统一返回 ErrInvalidSignature。
func (c *Codec) Verify(tok string) (*Payload, error) {
	return c.verify(tok, jwt.WithExpirationRequired())
}

// VerifyAccess 在 Verify 的基础上确认 token 为 access token。
func (c *Codec) VerifyAccess(tok string) (*Payload, error) {
	p, err := c.Verify(tok)
	if err != nil {
		return nil, err
	}
	if p.Type != Access {
		return nil, ErrWrongType
	}
	return p, nil
}

func (c *Codec) verify(tok string, opts ...jwt.ParserOption) (*Payload, error) {
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	var claims Claims
	_, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidSignature
	}
	p := &Payload{
		Subject:  claims.Subject,
		Email:    claims.Email,
		Username: claims.Username,
		Type:     claims.Type,
		ID:       claims.ID,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// WrapRefresh 将 refresh secret 与所属用户一起签名，刷新接口据此从请求体定位会话记录。
// 包装 token 不带过期时间，有效性由会话存储决定。
func (c *Codec) WrapRefresh(userID, secret string) (string, error) {
	return c.Issue(Payload{Subject: userID, ID: secret, Type: Refresh}, 0)
}

func (c *Codec) UnwrapRefresh(tok string) (userID, secret string, err error) {
	p, err := c.verify(tok, jwt.WithoutClaimsValidation())
	if err != nil {
		return "", "", err
	}
	if p.Type != Refresh || p.Subject == "" || p.ID == "" {
		return "", "", ErrWrongType
	}
	return p.Subject, p.ID, nil
}
