package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cyp0633/libdav/server/auth"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// User represents a user in the memory store
type User struct {
	Username string
	Hash     []byte
}

// Store implements an in-memory authentication store with bcrypt hashed
// passwords.
type Store struct {
	mu     sync.RWMutex
	users  map[string]User
	cost   int
	logger *slog.Logger
}

// Option represents a configuration option for the Store
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCost sets the bcrypt cost used by AddUser.
func WithCost(cost int) Option {
	return func(s *Store) {
		s.cost = cost
	}
}

// New creates a new in-memory authentication store
func New(opts ...Option) *Store {
	s := &Store{
		users:  make(map[string]User),
		cost:   bcrypt.DefaultCost,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddUser hashes password and adds the user to the store
func (s *Store) AddUser(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return errors.Wrapf(err, "hash password for %s", username)
	}
	return s.AddHashedUser(username, string(hash))
}

// AddHashedUser adds a user whose password is already a bcrypt hash, as
// found in configuration files.
func (s *Store) AddHashedUser(username, hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return errors.Wrapf(err, "user %s: invalid bcrypt hash", username)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		s.logger.Warn("failed to add user: already exists", "username", username)
		return errors.Errorf("user already exists: %s", username)
	}
	s.users[username] = User{Username: username, Hash: []byte(hash)}
	s.logger.Info("user added successfully", "username", username)
	return nil
}

// Authenticate implements auth.Authenticator
func (s *Store) Authenticate(_ context.Context, creds auth.Credentials) (*auth.Principal, error) {
	s.mu.RLock()
	user, exists := s.users[creds.Username]
	s.mu.RUnlock()

	if !exists {
		s.logger.Info("authentication failed: user not found", "username", creds.Username)
		return nil, auth.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(user.Hash, []byte(creds.Password)); err != nil {
		s.logger.Info("authentication failed: invalid password", "username", creds.Username)
		return nil, errors.Wrap(auth.ErrInvalidCredentials, err.Error())
	}

	s.logger.Debug("authentication successful", "username", creds.Username)
	return &auth.Principal{ID: creds.Username}, nil
}
