package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrMissingSecret = errors.New("jwt secret is empty")

// Identity is the caller a token speaks for. Email and Name are optional
// claims used to keep the user record current.
type Identity struct {
	Subject uuid.UUID
	Email   string
	Name    string
}

type JWTService interface {
	GenerateAccessToken(identity Identity, ttl time.Duration) (string, error)
	ValidateToken(token string) (*Identity, error)
}

type hs256Service struct {
	secret []byte
}

// NewHS256 signs and verifies tokens with a shared secret.
func NewHS256(secret string) JWTService {
	return &hs256Service{secret: []byte(secret)}
}

func (s *hs256Service) GenerateAccessToken(identity Identity, ttl time.Duration) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": identity.Subject.String(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if identity.Email != "" {
		claims["email"] = identity.Email
	}
	if identity.Name != "" {
		claims["name"] = identity.Name
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateToken checks the signature and expiry and reads sub, email and name.
func (s *hs256Service) ValidateToken(token string) (*Identity, error) {
	if len(s.secret) == 0 {
		return nil, ErrMissingSecret
	}
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return nil, fmt.Errorf("invalid token subject: %w", err)
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return nil, fmt.Errorf("token subject is not a user id: %w", err)
	}

	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	return &Identity{Subject: id, Email: email, Name: name}, nil
}
