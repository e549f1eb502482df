package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Store keeps operator accounts in memory. Accounts are seeded at startup.
type Store struct {
	mu     sync.RWMutex
	byName map[string]*Operator
	nextID int64
}

func NewStore() *Store {
	return &Store{byName: make(map[string]*Operator)}
}

var (
	ErrOperatorNotFound = errors.New("operator not found")
	ErrOperatorExists   = errors.New("operator already exists")
	ErrInvalidRole      = errors.New("invalid role")
)

func (s *Store) GetByUsername(ctx context.Context, username string) (*Operator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.byName[username]
	if !ok {
		return nil, ErrOperatorNotFound
	}
	c := *op
	return &c, nil
}

func (s *Store) Create(ctx context.Context, username, password string, role Role) (*Operator, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[username]; ok {
		return nil, ErrOperatorExists
	}
	s.nextID++
	op := &Operator{
		ID:           s.nextID,
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	s.byName[username] = op
	c := *op
	return &c, nil
}

type operatorsFile struct {
	Operators []struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Role     Role   `yaml:"role"`
	} `yaml:"operators"`
}

// SeedFromFile creates the operators listed in a YAML file. Entries without
// credentials and already existing usernames are skipped.
func (s *Store) SeedFromFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var of operatorsFile
	if err := yaml.Unmarshal(data, &of); err != nil {
		return 0, err
	}
	created := 0
	for _, o := range of.Operators {
		if o.Username == "" || o.Password == "" {
			continue
		}
		if _, err := s.GetByUsername(ctx, o.Username); err == nil {
			continue
		}
		if _, err := s.Create(ctx, o.Username, o.Password, o.Role); err != nil {
			return created, fmt.Errorf("seed operator %s: %w", o.Username, err)
		}
		created++
	}
	return created, nil
}
