package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"tokosync/terminal/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      "admin",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, store)
	_, err := manager.Login(domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if users[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
	if store.updates == 0 {
		t.Fatalf("expected upgraded hash to be written back to the store")
	}
}

func TestParseTokenRoundTrip(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, store)

	token, err := manager.sign("kasir", "cashier", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	actor, err := manager.ParseToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if actor.Username != "kasir" || actor.Role != "cashier" {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestParseTokenRejectsTamperedAndExpired(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, store)

	token, err := manager.sign("kasir", "cashier", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := manager.ParseToken(token + "x"); err == nil {
		t.Fatalf("expected tampered token to be rejected")
	}

	other := NewAuthManager("different-secret", time.Hour, store)
	if _, err := other.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	expired, err := manager.sign("kasir", "cashier", time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign expired: %v", err)
	}
	if _, err := manager.ParseToken(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestLoginInactiveAccount(t *testing.T) {
	hash, err := hashPassword("secret99")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"kasir": {Username: "kasir", Password: hash, Role: "cashier", Active: false},
		},
	}
	manager := NewAuthManager("test-secret", time.Hour, store)

	if _, err := manager.Login(domain.LoginRequest{Username: "kasir", Password: "secret99"}); err == nil {
		t.Fatalf("expected inactive account to be rejected")
	}
}
