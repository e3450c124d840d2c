package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"

	"chatgate/internal/kv"

	"github.com/rs/zerolog/log"
)

// Mailer 负责投递验证链接，默认实现为 LogMailer。
type Mailer interface {
	SendVerification(ctx context.Context, to, link string) error
}

// LogMailer 只把链接写入日志，不真正发信。
type LogMailer struct{}

func (LogMailer) SendVerification(_ context.Context, to, link string) error {
	log.Info().Str("to", to).Str("link", link).Msg("verification email")
	return nil
}

// SendVerificationEmail 为 userID 生成一次性 token 并交给 mailer 投递，同时返回该 token。
func (s *Service) SendVerificationEmail(ctx context.Context, userID, email string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate verification token: %w", err)
	}
	tok := hex.EncodeToString(b)
	if err := s.store.SetWithTTL(ctx, verificationKey(tok), userID, s.cfg.VerificationTTL); err != nil {
		return "", fmt.Errorf("store verification token: %w", err)
	}
	link := s.cfg.VerifyURL + "?token=" + url.QueryEscape(tok)
	if err := s.mailer.SendVerification(ctx, email, link); err != nil {
		return "", fmt.Errorf("send verification email: %w", err)
	}
	return tok, nil
}

// VerifyEmail 消费 tok 并将对应用户标记为已验证。
func (s *Service) VerifyEmail(ctx context.Context, tok string) (string, error) {
	if tok == "" {
		return "", ErrInvalidOrExpiredToken
	}
	key := verificationKey(tok)
	userID, err := s.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return "", ErrInvalidOrExpiredToken
	}
	if err != nil {
		return "", fmt.Errorf("load verification token: %w", err)
	}
	n, err := s.store.Delete(ctx, key)
	if err != nil {
		return "", fmt.Errorf("consume verification token: %w", err)
	}
	if n == 0 {
		return "", ErrInvalidOrExpiredToken
	}
	if err := s.users.MarkEmailVerified(ctx, userID); err != nil {
		return "", fmt.Errorf("mark email verified: %w", err)
	}
	log.Info().Str("user_id", userID).Msg("email verified")
	return userID, nil
}
