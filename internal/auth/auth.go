package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer     = "nexuswatch"
	DefaultTokenTTL = 12 * time.Hour
)

type Service struct {
	store  *Store
	secret []byte
	ttl    time.Duration
}

func NewService(store *Store, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		store:  store,
		secret: []byte(secret),
		ttl:    ttl,
	}
}

var ErrInvalidCredentials = errors.New("invalid credentials")

func (s *Service) Authenticate(ctx context.Context, username, password string) (*Operator, string, error) {
	op, err := s.store.GetByUsername(ctx, username)
	if err != nil {
		return nil, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.issueToken(op)
	if err != nil {
		return nil, "", err
	}
	return op, token, nil
}

type Claims struct {
	OperatorID int64  `json:"oid"`
	Username   string `json:"username"`
	Role       Role   `json:"role"`
	jwt.RegisteredClaims
}

func (s *Service) issueToken(op *Operator) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		OperatorID: op.ID,
		Username:   op.Username,
		Role:       op.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   op.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(s.secret)
}

func (s *Service) ParseToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
