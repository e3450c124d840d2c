package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"chatgate/internal/kv"
	"chatgate/internal/metrics"
	"chatgate/internal/models"
	"chatgate/internal/token"

	"github.com/rs/zerolog/log"
)

// UserStore 是认证核心读写的用户存储，查不到用户时返回 models.ErrUserNotFound。
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	MarkEmailVerified(ctx context.Context, id string) error
}

type Config struct {
	RefreshTTL      time.Duration
	AttemptWindow   time.Duration
	LockoutTTL      time.Duration
	VerificationTTL time.Duration
	MaxAttempts     int
	MaxSessions     int
	// VerifyURL 是验证邮件中链接的前缀。
	VerifyURL string
}

func DefaultConfig() Config {
	return Config{
		RefreshTTL:      7 * 24 * time.Hour,
		AttemptWindow:   15 * time.Minute,
		LockoutTTL:      30 * time.Minute,
		VerificationTTL: time.Hour,
		MaxAttempts:     5,
		MaxSessions:     5,
		VerifyURL:       "http://localhost:8080/auth/verify-email",
	}
}

const (
	TokenType       = "Bearer"
	refreshSecretSz = 64
	maskedPrefixLen = 10
)

func refreshPrefix(userID string) string { return "refresh_token:" + userID + ":" }

func refreshKey(userID, secret string) string { return refreshPrefix(userID) + secret }

func attemptsKey(userID string) string { return "login_attempts:" + userID }

func lockKey(userID string) string { return "account_locked:" + userID }

func verificationKey(secret string) string { return "email_verification:" + secret }

// Service 是认证核心，自身不保存可变状态，计数、锁定与会话都放在 kv 存储中。
type Service struct {
	users  UserStore
	store  kv.Store
	codec  *token.Codec
	hasher *Hasher
	mailer Mailer
	cfg    Config
	now    func() time.Time
}

type Option func(*Service)

func WithMailer(m Mailer) Option { return func(s *Service) { s.mailer = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(users UserStore, store kv.Store, codec *token.Codec, hasher *Hasher, cfg Config, opts ...Option) *Service {
	s := &Service{users: users, store: store, codec: codec, hasher: hasher, mailer: LogMailer{}, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Hasher() *Hasher { return s.hasher }

type LoginResult struct {
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken"`
	ExpiresIn    int                `json:"expiresIn"`
	TokenType    string             `json:"tokenType"`
	User         models.UserSummary `json:"user"`
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

// HashPassword 使用配置的 argon2id 参数计算哈希。
func (s *Service) HashPassword(ctx context.Context, password string) (string, error) {
	return s.hasher.Hash(ctx, password)
}

// ValidateUser 校验邮箱与密码，返回的用户已清空密码哈希。
func (s *Service) ValidateUser(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, models.ErrUserNotFound) {
		s.hasher.VerifyDummy(ctx, password)
		metrics.AuthEvent("login", "unknown_user")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	if _, err := s.store.Get(ctx, lockKey(u.ID)); err == nil {
		metrics.AuthEvent("login", "locked")
		return nil, ErrAccountLocked
	} else if !errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("check lockout: %w", err)
	}

	if !u.IsActive {
		metrics.AuthEvent("login", "inactive")
		return nil, ErrAccountInactive
	}

	ok, err := s.hasher.Verify(ctx, u.PasswordHash, password)
	if errors.Is(err, ErrMalformedHash) {
		log.Error().Str("user_id", u.ID).Msg("stored password hash is malformed")
	} else if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, s.recordFailure(ctx, u.ID)
	}

	if _, err := s.store.Delete(ctx, attemptsKey(u.ID)); err != nil {
		return nil, fmt.Errorf("reset failed logins: %w", err)
	}
	if s.hasher.NeedsRehash(u.PasswordHash) {
		s.rehash(ctx, u.ID, password)
	}
	metrics.AuthEvent("login", "success")
	u.PasswordHash = ""
	return u, nil
}

func (s *Service) recordFailure(ctx context.Context, userID string) error {
	n, err := s.store.Incr(ctx, attemptsKey(userID))
	if err != nil {
		return fmt.Errorf("record failed login: %w", err)
	}
	if n == 1 {
		if err := s.store.Expire(ctx, attemptsKey(userID), s.cfg.AttemptWindow); err != nil {
			return fmt.Errorf("record failed login: %w", err)
		}
	}
	if n >= int64(s.cfg.MaxAttempts) {
		if err := s.store.SetWithTTL(ctx, lockKey(userID), "1", s.cfg.LockoutTTL); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		log.Warn().Str("user_id", userID).Int64("attempts", n).Msg("account locked after repeated failures")
		metrics.AuthEvent("login", "locked")
		return ErrAccountLocked
	}
	metrics.AuthEvent("login", "bad_password")
	return ErrInvalidCredentials
}

func (s *Service) rehash(ctx context.Context, userID, password string) {
	hash, err := s.hasher.Hash(ctx, password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, userID, hash)
	}
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("rehash password")
	}
}

// Login 为 u 签发 access token 并创建新的 refresh 会话。
func (s *Service) Login(ctx context.Context, u *models.User, meta models.LoginMetadata) (*LoginResult, error) {
	access, err := s.codec.IssueAccess(u.ID, u.Email, u.Username)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	secret, err := s.createSession(ctx, u.ID, meta)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateLastLogin(ctx, u.ID, s.now()); err != nil {
		log.Warn().Err(err).Str("user_id", u.ID).Msg("update last login")
	}
	return &LoginResult{
		AccessToken:  access,
		RefreshToken: secret,
		ExpiresIn:    s.expiresIn(),
		TokenType:    TokenType,
		User:         u.Summary(),
	}, nil
}

func (s *Service) expiresIn() int { return int(s.codec.AccessTTL() / time.Second) }

func newSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *Service) createSession(ctx context.Context, userID string, meta models.LoginMetadata) (string, error) {
	secret, err := newSecret(refreshSecretSz)
	if err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	now := s.now().UTC()
	rec := models.RefreshTokenRecord{
		Token:     secret,
		UserID:    userID,
		DeviceID:  meta.DeviceID,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	key := refreshKey(userID, secret)
	if err := s.store.SetWithTTL(ctx, key, string(b), s.cfg.RefreshTTL); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	if err := s.EnforceMaxSessions(ctx, userID, key); err != nil {
		return "", err
	}
	return secret, nil
}

func (s *Service) loadRecord(ctx context.Context, key string) (*models.RefreshTokenRecord, error) {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var rec models.RefreshTokenRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode refresh record: %w", err)
	}
	return &rec, nil
}

// RefreshAccessToken 用 refresh secret 换取新的 token 对。旧 secret 会被消费，并发调用只有一个能成功。
func (s *Service) RefreshAccessToken(ctx context.Context, secret, userID string) (*TokenPair, error) {
	key := refreshKey(userID, secret)
	rec, err := s.loadRecord(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		metrics.AuthEvent("refresh", "invalid")
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("load refresh token: %w", err)
	}

	if !rec.ExpiresAt.IsZero() && s.now().After(rec.ExpiresAt) {
		if _, err := s.store.Delete(ctx, key); err != nil {
			return nil, fmt.Errorf("delete expired refresh token: %w", err)
		}
		metrics.AuthEvent("refresh", "expired")
		return nil, ErrRefreshTokenExpired
	}

	u, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, ErrUserUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return nil, ErrUserUnavailable
	}

	n, err := s.store.Delete(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("consume refresh token: %w", err)
	}
	if n == 0 {
		log.Warn().Str("user_id", userID).Msg("refresh token reused concurrently")
		metrics.AuthEvent("refresh", "reused")
		return nil, ErrInvalidRefreshToken
	}

	access, err := s.codec.IssueAccess(u.ID, u.Email, u.Username)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	next, err := s.createSession(ctx, u.ID, rec.Metadata())
	if err != nil {
		return nil, err
	}
	metrics.AuthEvent("refresh", "success")
	return &TokenPair{AccessToken: access, RefreshToken: next, ExpiresIn: s.expiresIn(), TokenType: TokenType}, nil
}

// Logout 删除单个会话，未知的 secret 直接忽略。
func (s *Service) Logout(ctx context.Context, secret, userID string) error {
	if _, err := s.store.Delete(ctx, refreshKey(userID, secret)); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (s *Service) LogoutAllDevices(ctx context.Context, userID string) error {
	keys, err := s.store.KeysByPrefix(ctx, refreshPrefix(userID))
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.store.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("logout all: %w", err)
	}
	log.Info().Str("user_id", userID).Int("sessions", len(keys)).Msg("logged out from all devices")
	return nil
}

type session struct {
	key string
	rec models.RefreshTokenRecord
}

// sessions 按创建时间升序加载 userID 的全部会话。枚举后消失的 key 会被跳过，
// 无法解析的记录排在最前，淘汰时优先删除。
func (s *Service) sessions(ctx context.Context, userID string) ([]session, error) {
	keys, err := s.store.KeysByPrefix(ctx, refreshPrefix(userID))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]session, 0, len(keys))
	for _, k := range keys {
		raw, err := s.store.Get(ctx, k)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		var rec models.RefreshTokenRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			log.Warn().Str("user_id", userID).Msg("undecodable refresh record")
		}
		out = append(out, session{key: k, rec: rec})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].rec.CreatedAt.Before(out[j].rec.CreatedAt) })
	return out, nil
}

// GetActiveSessions 列出会话，secret 做脱敏处理。
func (s *Service) GetActiveSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	all, err := s.sessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]models.SessionSummary, 0, len(all))
	for _, sess := range all {
		out = append(out, models.SessionSummary{
			Token:     maskToken(sess.rec.Token),
			DeviceID:  sess.rec.DeviceID,
			IPAddress: sess.rec.IPAddress,
			UserAgent: sess.rec.UserAgent,
			CreatedAt: sess.rec.CreatedAt,
			ExpiresAt: sess.rec.ExpiresAt,
		})
	}
	return out, nil
}

func maskToken(t string) string {
	if len(t) > maskedPrefixLen {
		t = t[:maskedPrefixLen]
	}
	return t + "..."
}

// EnforceMaxSessions 在新会话写入后调用。会话数达到 MaxSessions 时按创建时间淘汰最早的会话，
// 直到少于上限；keep 对应的会话永远不会被淘汰。
func (s *Service) EnforceMaxSessions(ctx context.Context, userID, keep string) error {
	all, err := s.sessions(ctx, userID)
	if err != nil {
		return err
	}
	excess := len(all) - s.cfg.MaxSessions + 1
	if excess <= 0 {
		return nil
	}
	victims := make([]string, 0, excess)
	for _, sess := range all {
		if len(victims) == excess {
			break
		}
		if sess.key != keep {
			victims = append(victims, sess.key)
		}
	}
	if _, err := s.store.Delete(ctx, victims...); err != nil {
		return fmt.Errorf("evict sessions: %w", err)
	}
	log.Info().Str("user_id", userID).Int("evicted", len(victims)).Msg("removed oldest sessions")
	return nil
}
