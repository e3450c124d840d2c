package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatgate/internal/auth"
	"chatgate/internal/models"

	"github.com/rs/zerolog/log"
)

// ResendMessage 无论账号是否存在都会返回。
const ResendMessage = "Verification email sent if account exists"

// AccountService 在认证核心之上实现账号生命周期流程。
type AccountService struct {
	users auth.UserStore
	auth  *auth.Service
}

func NewAccountService(users auth.UserStore, authSvc *auth.Service) *AccountService {
	return &AccountService{users: users, auth: authSvc}
}

type RegisterInput struct {
	Email    string
	Username string
	Password string
	DeviceID string
}

// Register 创建一个已激活、未验证邮箱的账号并直接登录。
func (s *AccountService) Register(ctx context.Context, in RegisterInput, meta models.LoginMetadata) (*auth.LoginResult, error) {
	if res := auth.ValidatePasswordStrength(in.Password); !res.Valid {
		return nil, &ValidationError{Errors: res.Errors}
	}
	email := strings.TrimSpace(in.Email)
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateAccount
	} else if !errors.Is(err, models.ErrUserNotFound) {
		return nil, fmt.Errorf("check existing account: %w", err)
	}

	hash, err := s.auth.HashPassword(ctx, in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &models.User{
		Email:        email,
		Username:     strings.TrimSpace(in.Username),
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, models.ErrDuplicateEmail) {
			return nil, ErrDuplicateAccount
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	log.Info().Str("user_id", u.ID).Msg("account registered")

	if _, err := s.auth.SendVerificationEmail(ctx, u.ID, u.Email); err != nil {
		log.Warn().Err(err).Str("user_id", u.ID).Msg("send verification email")
	}

	if in.DeviceID != "" {
		meta.DeviceID = in.DeviceID
	}
	u.PasswordHash = ""
	return s.auth.Login(ctx, u, meta)
}

// ResendVerification 为未验证的账号重新发送验证链接，返回结果不暴露邮箱是否已注册。
func (s *AccountService) ResendVerification(ctx context.Context, email string) (string, error) {
	u, err := s.users.FindByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, models.ErrUserNotFound) {
		return ResendMessage, nil
	}
	if err != nil {
		return "", fmt.Errorf("load user: %w", err)
	}
	if u.EmailVerified || !u.IsActive {
		return ResendMessage, nil
	}
	if _, err := s.auth.SendVerificationEmail(ctx, u.ID, u.Email); err != nil {
		log.Warn().Err(err).Str("user_id", u.ID).Msg("resend verification email")
	}
	return ResendMessage, nil
}

type Profile struct {
	models.UserSummary
	EmailVerified bool       `json:"emailVerified"`
	LastLogin     *time.Time `json:"lastLogin,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func (s *AccountService) Profile(ctx context.Context, userID string) (*Profile, error) {
	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, auth.ErrUserUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return nil, auth.ErrUserUnavailable
	}
	return &Profile{
		UserSummary:   u.Summary(),
		EmailVerified: u.EmailVerified,
		LastLogin:     u.LastLogin,
		CreatedAt:     u.CreatedAt,
	}, nil
}
