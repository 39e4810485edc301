// Package store implements the persistent credential store and the
// in-memory single-session registry.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"framechat/internal/v1/logging"
)

var (
	// ErrUserExists is returned by Register when the username is taken.
	ErrUserExists = errors.New("store: username already exists")

	// ErrInvalidCredentials is returned by Authenticate on unknown user
	// or password mismatch.
	ErrInvalidCredentials = errors.New("store: invalid credentials")

	// ErrSessionActive is returned by Authenticate when the username
	// already holds a live session.
	ErrSessionActive = errors.New("store: session already active")
)

// User is the public view of a stored record. The password hash never
// crosses this boundary.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created"`
}

// record is the persisted form, one entry per username in the JSON document.
type record struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	CreatedAt    string `json:"created"`
}

// Store is the user database. All operations are serialized under one
// mutex so concurrent callers observe a sequentially-consistent view;
// persistence happens while the lock is held.
type Store struct {
	mu            sync.Mutex
	path          string
	users         map[string]record
	sessions      map[string]string // username -> session token
	sessionSecret []byte
}

// New loads the user database at path, creating an empty store if the
// file does not exist. sessionSecret signs the session tokens issued on
// authenticate.
func New(path string, sessionSecret string) (*Store, error) {
	s := &Store{
		path:          path,
		users:         make(map[string]record),
		sessions:      make(map[string]string),
		sessionSecret: []byte(sessionSecret),
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read user db: %w", err)
	}
	if err := json.Unmarshal(raw, &s.users); err != nil {
		return nil, fmt.Errorf("parse user db %s: %w", path, err)
	}
	logging.Info(context.Background(), "User database loaded",
		zap.String("path", path), zap.Int("users", len(s.users)))
	return s, nil
}

// Register performs an atomic check-then-insert and persists the store
// before acknowledging. The new record is durable when Register returns nil.
func (s *Store) Register(username, password string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	rec := record{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().Format(time.RFC3339),
	}
	s.users[username] = rec

	if err := s.persistLocked(); err != nil {
		// Roll back so a failed write is not observable in memory either.
		delete(s.users, username)
		return nil, err
	}

	return rec.public(), nil
}

// Authenticate verifies the password and enforces the single-session rule:
// a username with a live session is refused even with correct credentials.
// On success a fresh session token is registered and returned.
func (s *Store) Authenticate(username, password string) (*User, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.users[username]
	if !exists {
		return nil, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	if _, active := s.sessions[username]; active {
		return nil, "", ErrSessionActive
	}

	token, err := s.mintSessionToken(username)
	if err != nil {
		return nil, "", fmt.Errorf("mint session token: %w", err)
	}
	s.sessions[username] = token

	return rec.public(), token, nil
}

// Logout removes the session entry for username. Idempotent.
func (s *Store) Logout(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, username)
}

// HasSession reports whether username currently holds a live session.
func (s *Store) HasSession(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, active := s.sessions[username]
	return active
}

// Count returns the number of registered users.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Writable verifies the store's directory accepts writes. Used by the
// readiness probe.
func (s *Store) Writable() error {
	dir := filepath.Dir(s.path)
	probe, err := os.CreateTemp(dir, ".framechat-probe-*")
	if err != nil {
		return fmt.Errorf("user db directory not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// persistLocked writes the entire store to disk. Callers must hold s.mu.
// The document is written to a temp file and renamed so a crash mid-write
// never leaves a truncated database.
func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user db: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write user db: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace user db: %w", err)
	}
	return nil
}

// mintSessionToken issues a signed HS256 token identifying the session.
func (s *Store) mintSessionToken(username string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  username,
		ID:       uuid.NewString(),
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.sessionSecret)
}

func (r record) public() *User {
	return &User{ID: r.ID, Username: r.Username, CreatedAt: r.CreatedAt}
}
