package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatgate/internal/db"
	"chatgate/internal/kv"
	"chatgate/internal/models"
	"chatgate/internal/token"

	"github.com/stretchr/testify/require"
)

// testParams keeps argon2 cheap enough for unit tests.
var testParams = Argon2Params{Memory: 64, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type captureMailer struct {
	mu    sync.Mutex
	links []string
}

func (m *captureMailer) SendVerification(_ context.Context, _ string, link string) error {
	m.mu.Lock()
	m.links = append(m.links, link)
	m.mu.Unlock()
	return nil
}

type fixture struct {
	svc    *Service
	users  *db.MemoryUsers
	store  *kv.Memory
	codec  *token.Codec
	clock  *clock
	mailer *captureMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := newClock()
	hasher, err := NewHasher(testParams, 4)
	require.NoError(t, err)
	store := kv.NewMemory(kv.WithClock(clk.Now))
	t.Cleanup(store.Close)
	users := db.NewMemoryUsers()
	codec := token.NewCodec("test-secret", token.WithClock(clk.Now))
	mailer := &captureMailer{}
	svc := NewService(users, store, codec, hasher, DefaultConfig(), WithClock(clk.Now), WithMailer(mailer))
	return &fixture{svc: svc, users: users, store: store, codec: codec, clock: clk, mailer: mailer}
}

func (f *fixture) createUser(t *testing.T, email, password string) *models.User {
	t.Helper()
	hash, err := f.svc.HashPassword(context.Background(), password)
	require.NoError(t, err)
	u := &models.User{Email: email, Username: "user-" + email, PasswordHash: hash, IsActive: true}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}
