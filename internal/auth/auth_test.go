package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTSignVerify(t *testing.T) {
	svc := NewJWT("secret")

	tok, err := svc.Sign("0b6f2c1e-6a4b-4c64-9d0f-6a8a3f7d2e11")
	require.NoError(t, err)

	sub, err := svc.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "0b6f2c1e-6a4b-4c64-9d0f-6a8a3f7d2e11", sub)
}

func TestJWTRejects(t *testing.T) {
	svc := NewJWT("secret")

	other, err := NewJWT("other").Sign("u1")
	require.NoError(t, err)

	expired := &JWT{secret: []byte("secret"), ttl: -time.Minute}
	old, err := expired.Sign("u1")
	require.NoError(t, err)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"wrong secret": other,
		"expired":      old,
		"missing sub":  noSub,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Verify(tok)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	svc := NewJWT("secret")
	var seen string
	h := RequireAuth(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := svc.Sign("user-7")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-7", seen)
}
