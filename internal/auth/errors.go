package auth

import "errors"

// 认证失败错误。错误信息会原样返回给客户端，不能包含内部细节。
var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrAccountInactive       = errors.New("account is inactive")
	ErrAccountLocked         = errors.New("account is temporarily locked")
	ErrInvalidRefreshToken   = errors.New("invalid refresh token")
	ErrRefreshTokenExpired   = errors.New("refresh token expired")
	ErrUserUnavailable       = errors.New("user not found or inactive")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired verification token")
)

var unauthorized = []error{
	ErrInvalidCredentials,
	ErrAccountInactive,
	ErrAccountLocked,
	ErrInvalidRefreshToken,
	ErrRefreshTokenExpired,
	ErrUserUnavailable,
}

// IsUnauthorized 判断 err 是否应返回 401。
func IsUnauthorized(err error) bool {
	for _, target := range unauthorized {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
