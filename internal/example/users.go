// internal/example/users.go
package example

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dalemusser/nural/exception"
	"github.com/dalemusser/nural/lifecycle"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// User is the public view of an account.
type User struct {
	ID        string `json:"id" validate:"required,uuid"`
	Email     string `json:"email" validate:"required,email"`
	Name      string `json:"name" validate:"required,min=2,max=100"`
	Role      string `json:"role" validate:"required,oneof=admin user guest"`
	CreatedAt string `json:"createdAt"`
}

// Profile is User without timestamps, returned by /auth/me.
type Profile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type account struct {
	User
	hash []byte
}

// UserStore is an in-memory account table seeded with one admin.
type UserStore struct {
	mu    sync.RWMutex
	byID  map[string]*account
	order []string
}

// SeedAdminID and the credentials below identify the seeded admin.
const (
	SeedAdminID       = "550e8400-e29b-41d4-a716-446655440001"
	SeedAdminEmail    = "admin@example.com"
	SeedAdminPassword = "admin123"
)

// NewUserStore returns a store holding the seeded admin.
func NewUserStore() (*UserStore, error) {
	s := &UserStore{byID: map[string]*account{}}
	hash, err := bcrypt.GenerateFromPassword([]byte(SeedAdminPassword), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}
	s.put(&account{User: User{
		ID:        SeedAdminID,
		Email:     SeedAdminEmail,
		Name:      "Admin User",
		Role:      "admin",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}, hash: hash})
	return s, nil
}

// UsersProvider exposes the store as the "users" provider.
func UsersProvider() *lifecycle.Definition[*UserStore] {
	return lifecycle.Define(lifecycle.ProviderConfig[*UserStore]{
		Name: "users",
		Setup: func(context.Context) (*UserStore, error) {
			return NewUserStore()
		},
	})
}

func (s *UserStore) put(a *account) {
	if _, ok := s.byID[a.ID]; !ok {
		s.order = append(s.order, a.ID)
	}
	s.byID[a.ID] = a
}

// Count returns the number of accounts.
func (s *UserStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// List returns a page in creation order and the total.
func (s *UserStore) List(limit, offset int) ([]User, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := len(s.order)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	out := make([]User, 0, end-offset)
	for _, id := range s.order[offset:end] {
		out = append(out, s.byID[id].User)
	}
	return out, total
}

// Get returns the account with id.
func (s *UserStore) Get(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return User{}, false
	}
	return a.User, true
}

// Authenticate checks email and password.
func (s *UserStore) Authenticate(email, password string) (User, bool) {
	s.mu.RLock()
	a := s.findByEmail(email)
	s.mu.RUnlock()
	if a == nil {
		return User{}, false
	}
	if bcrypt.CompareHashAndPassword(a.hash, []byte(password)) != nil {
		return User{}, false
	}
	return a.User, true
}

func (s *UserStore) findByEmail(email string) *account {
	for _, id := range s.order {
		if strings.EqualFold(s.byID[id].Email, email) {
			return s.byID[id]
		}
	}
	return nil
}

// ErrEmailTaken is returned by Create for a duplicate email.
var ErrEmailTaken = errors.New("email already registered")

// Create adds an account. Role defaults to "user".
func (s *UserStore) Create(in CreateUserInput) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	role := in.Role
	if role == "" {
		role = "user"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findByEmail(in.Email) != nil {
		return User{}, exception.Conflict("Email already registered").Wrap(ErrEmailTaken)
	}
	u := User{
		ID:        uuid.NewString(),
		Email:     in.Email,
		Name:      in.Name,
		Role:      role,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	s.put(&account{User: u, hash: hash})
	return u, nil
}

// Update applies the non-nil fields of in.
func (s *UserStore) Update(id string, in UpdateUserInput) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return User{}, false
	}
	if in.Name != nil {
		a.Name = *in.Name
	}
	if in.Role != nil {
		a.Role = *in.Role
	}
	return a.User, true
}

// Delete removes an account.
func (s *UserStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	return true
}
