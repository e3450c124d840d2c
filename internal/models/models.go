package models

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

type User struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	Email         string     `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Username      string     `gorm:"size:64;not null" json:"username"`
	PasswordHash  string     `gorm:"not null" json:"-"`
	IsActive      bool       `gorm:"not null;default:true" json:"isActive"`
	EmailVerified bool       `gorm:"not null;default:false" json:"emailVerified"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Summary 是随 token 一起返回的公开字段。
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Email: u.Email, Username: u.Username}
}

type UserSummary struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// LoginMetadata 描述创建会话的客户端。
type LoginMetadata struct {
	DeviceID  string
	IPAddress string
	UserAgent string
}

// RefreshTokenRecord 以 JSON 存储在 refresh_token:<userId>:<token> 下。
type RefreshTokenRecord struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId"`
	DeviceID  string    `json:"deviceId,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (r RefreshTokenRecord) Metadata() LoginMetadata {
	return LoginMetadata{DeviceID: r.DeviceID, IPAddress: r.IPAddress, UserAgent: r.UserAgent}
}

// SessionSummary 是脱敏后的 RefreshTokenRecord。
type SessionSummary struct {
	Token     string    `json:"token"`
	DeviceID  string    `json:"deviceId,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
