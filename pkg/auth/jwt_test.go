package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewHS256("secret")
	id := Identity{Subject: uuid.New(), Email: "dr.lee@example.org", Name: "Dr Lee"}

	token, err := svc.GenerateAccessToken(id, time.Hour)
	require.NoError(t, err)

	got, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, id, *got)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewHS256("secret")
	subject := uuid.New()

	expired, err := svc.GenerateAccessToken(Identity{Subject: subject}, -time.Minute)
	require.NoError(t, err)

	otherKey, err := NewHS256("other").GenerateAccessToken(Identity{Subject: subject}, time.Hour)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": subject.String()}).
		SignedString([]byte("secret"))
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "dr.lee",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": subject.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":     expired,
		"wrong key":   otherKey,
		"no expiry":   noExpiry,
		"bad subject": badSubject,
		"hs512":       hs512,
		"garbage":     "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			assert.Error(t, err)
		})
	}
}

func TestMissingSecret(t *testing.T) {
	svc := NewHS256("")

	_, err := svc.GenerateAccessToken(Identity{Subject: uuid.New()}, time.Hour)
	assert.ErrorIs(t, err, ErrMissingSecret)

	_, err = svc.ValidateToken("x")
	assert.ErrorIs(t, err, ErrMissingSecret)
}
