package db

import (
	"context"
	"sync"
	"time"

	"chatgate/internal/models"

	"github.com/google/uuid"
)

// MemoryUsers 是进程内的用户存储，用于测试和 USER_STORE=memory。返回的是副本。
type MemoryUsers struct {
	mu      sync.RWMutex
	byID    map[string]*models.User
	byEmail map[string]string
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byID: make(map[string]*models.User), byEmail: make(map[string]string)}
}

func (m *MemoryUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	u := *m.byID[id]
	return &u, nil
}

func (m *MemoryUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryUsers) Create(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = normalizeEmail(u.Email)
	if _, ok := m.byEmail[u.Email]; ok {
		return models.ErrDuplicateEmail
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	m.byID[u.ID] = &cp
	m.byEmail[u.Email] = u.ID
	return nil
}

func (m *MemoryUsers) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	return m.mutate(id, func(u *models.User) { u.LastLogin = &at })
}

func (m *MemoryUsers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return m.mutate(id, func(u *models.User) { u.PasswordHash = hash })
}

func (m *MemoryUsers) MarkEmailVerified(_ context.Context, id string) error {
	return m.mutate(id, func(u *models.User) { u.EmailVerified = true })
}

// SetActive 切换账号的启用状态。
func (m *MemoryUsers) SetActive(id string, active bool) error {
	return m.mutate(id, func(u *models.User) { u.IsActive = active })
}

func (m *MemoryUsers) mutate(id string, fn func(*models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return models.ErrUserNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}
