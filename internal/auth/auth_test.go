package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) *Service {
	t.Helper()
	store := NewStore()
	_, err := store.Create(context.Background(), "alice", "hunter2", RoleAdmin)
	require.NoError(t, err)
	_, err = store.Create(context.Background(), "bob", "letmein", RoleModerator)
	require.NoError(t, err)
	return NewService(store, "test-secret", time.Hour)
}

func TestAuthenticate(t *testing.T) {
	svc := newService(t)

	op, token, err := svc.Authenticate(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, op.Role)

	claims, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, RoleAdmin, claims.Role)

	_, _, err = svc.Authenticate(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Authenticate(context.Background(), "nobody", "hunter2")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseTokenRejectsForeignSecretAndExpiry(t *testing.T) {
	svc := newService(t)
	other := NewService(NewStore(), "other-secret", time.Hour)

	tok, err := other.issueToken(&Operator{ID: 1, Username: "alice", Role: RoleAdmin})
	require.NoError(t, err)
	_, err = svc.ParseToken(tok)
	assert.Error(t, err)

	expired := NewService(NewStore(), "test-secret", time.Hour)
	claims := Claims{
		Username: "alice",
		Role:     RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(expired.secret)
	require.NoError(t, err)
	_, err = svc.ParseToken(raw)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestStoreCreate(t *testing.T) {
	store := NewStore()
	_, err := store.Create(context.Background(), "carol", "pw", Role("root"))
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = store.Create(context.Background(), "carol", "pw", RoleModerator)
	require.NoError(t, err)
	_, err = store.Create(context.Background(), "carol", "pw", RoleModerator)
	assert.ErrorIs(t, err, ErrOperatorExists)

	op, err := store.GetByUsername(context.Background(), "carol")
	require.NoError(t, err)
	assert.NotEqual(t, "pw", op.PasswordHash)
}

func TestSeedFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operators.yaml")
	body := `operators:
  - username: alice
    password: hunter2
    role: admin
  - username: bob
    password: letmein
    role: moderator
  - username: ""
    password: skipped
    role: admin
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	store := NewStore()
	n, err := store.SeedFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.SeedFromFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMiddleware(t *testing.T) {
	svc := newService(t)
	_, adminTok, err := svc.Authenticate(context.Background(), "alice", "hunter2")
	require.NoError(t, err)
	_, modTok, err := svc.Authenticate(context.Background(), "bob", "letmein")
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op, found := OperatorFromContext(r.Context())
		require.True(t, found)
		_, _ = w.Write([]byte(op.Username))
	})
	h := JWTMiddleware(svc)(RequireRole(ok, RoleAdmin))

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + modTok, http.StatusForbidden},
		{"admin", "Bearer " + adminTok, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestLoginHandler(t *testing.T) {
	h := &LoginHandler{Service: newService(t), Logger: zerolog.Nop()}

	do := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := do(`{"username":"alice","password":"hunter2"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token"`)
	assert.NotContains(t, rec.Body.String(), "hunter2")

	assert.Equal(t, http.StatusUnauthorized, do(`{"username":"alice","password":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(`{"username":"alice"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(`not json`).Code)
}
