// Package auth issues and verifies API keys.
//
// A key is shown to the caller exactly once at issue time as
// "sk_<hex>"; only its SHA-256 hash is stored. Each key binds a user ID
// to a role, and the middleware resolves a presented key into the
// principal the rest of the system authorizes against.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/quadmarket/quadmarket/internal/idgen"
	"github.com/quadmarket/quadmarket/internal/principal"
)

var (
	ErrNotFound   = errors.New("api key not found")
	ErrInvalidKey = errors.New("invalid api key")
)

// APIKey is a stored credential. Hash is the SHA-256 of the raw key;
// the raw key itself is never persisted.
type APIKey struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	Role       principal.Role `json:"role"`
	Name       string         `json:"name"`
	Hash       string         `json:"-"`
	CreatedAt  time.Time      `json:"createdAt"`
	LastUsedAt *time.Time     `json:"lastUsedAt,omitempty"`
}

// Store persists API keys.
type Store interface {
	Create(ctx context.Context, k *APIKey) error
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// Manager issues and authenticates API keys.
type Manager struct {
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Issue creates a key for the given user and role. The returned raw key
// is the only copy; callers must surface it to the user immediately.
func (m *Manager) Issue(ctx context.Context, userID string, role principal.Role, name string) (string, *APIKey, error) {
	raw, err := generateKey()
	if err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	k := &APIKey{
		ID:        idgen.WithPrefix("key_"),
		UserID:    userID,
		Role:      role,
		Name:      name,
		Hash:      HashKey(raw),
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.Create(ctx, k); err != nil {
		return "", nil, fmt.Errorf("store key: %w", err)
	}
	return raw, k, nil
}

// Authenticate resolves a raw key into a principal.
func (m *Manager) Authenticate(ctx context.Context, raw string) (principal.Principal, error) {
	if len(raw) < 8 || raw[:3] != "sk_" {
		return principal.Principal{}, ErrInvalidKey
	}
	k, err := m.store.GetByHash(ctx, HashKey(raw))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return principal.Principal{}, ErrInvalidKey
		}
		return principal.Principal{}, err
	}

	// Last-used tracking is advisory; failures do not block the request.
	_ = m.store.TouchLastUsed(ctx, k.ID, time.Now().UTC())

	return principal.Principal{UserID: k.UserID, Role: k.Role}, nil
}

// HashKey returns the hex SHA-256 of a raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func generateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "sk_" + hex.EncodeToString(buf), nil
}
