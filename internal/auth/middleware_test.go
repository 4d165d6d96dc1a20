package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func devAuthenticator(t *testing.T) *Authenticator {
	t.Setenv("SKIP_AUTH", "false")
	t.Setenv("ENV", "development")
	t.Setenv("VERIFY_JWT_SIGNATURE", "false")
	return NewAuthenticator(zerolog.Nop())
}

func captureUID(seen *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, err := UID(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		*seen = uid
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddlewareMissingToken(t *testing.T) {
	a := devAuthenticator(t)
	var seen string

	rec := httptest.NewRecorder()
	a.Middleware(captureUID(&seen)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/agent/status", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, seen)
}

func TestMiddlewareHealthBypass(t *testing.T) {
	a := devAuthenticator(t)
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	a.Middleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.True(t, called)
}

func TestMiddlewareBearerToken(t *testing.T) {
	a := devAuthenticator(t)
	var seen string

	token := signedToken(t, jwt.MapClaims{
		"sub":   "subject-1",
		"email": "agent@example.com",
		"exp":   float64(time.Now().Add(time.Hour).Unix()),
	})
	req := httptest.NewRequest(http.MethodGet, "/agent/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Middleware(captureUID(&seen)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "subject-1", seen)
}

func TestMiddlewareFirebaseUserID(t *testing.T) {
	a := devAuthenticator(t)
	var seen string

	token := signedToken(t, jwt.MapClaims{"sub": "subject-1", "user_id": "firebase-uid"})
	req := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	rec := httptest.NewRecorder()
	a.Middleware(captureUID(&seen)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "firebase-uid", seen)
}

func TestMiddlewareExpiredToken(t *testing.T) {
	a := devAuthenticator(t)
	var seen string

	token := signedToken(t, jwt.MapClaims{"sub": "u1", "exp": float64(time.Now().Add(-time.Minute).Unix())})
	req := httptest.NewRequest(http.MethodGet, "/agent/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.Middleware(captureUID(&seen)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareSkipAuth(t *testing.T) {
	t.Setenv("SKIP_AUTH", "true")
	a := NewAuthenticator(zerolog.Nop())
	var seen string

	req := httptest.NewRequest(http.MethodGet, "/agent/status", nil)
	req.Header.Set(DevUIDHeader, "agent-7")
	a.Middleware(captureUID(&seen)).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "agent-7", seen)

	a.Middleware(captureUID(&seen)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, "dev-agent", seen)
}

func TestMiddlewareRoles(t *testing.T) {
	a := devAuthenticator(t)

	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"custom claim", jwt.MapClaims{"sub": "u1", "role": "admin"}, "admin"},
		{"realm roles", jwt.MapClaims{"sub": "u1", "realm_access": map[string]interface{}{"roles": []interface{}{"offline_access", "agent"}}}, "agent"},
		{"admin wins", jwt.MapClaims{"sub": "u1", "realm_access": map[string]interface{}{"roles": []interface{}{"agent", "admin"}}}, "admin"},
		{"none", jwt.MapClaims{"sub": "u1"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *Claims
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, _ = GetUserFromContext(r.Context())
			})
			req := httptest.NewRequest(http.MethodGet, "/api/admin/status", nil)
			req.Header.Set("Authorization", "Bearer "+signedToken(t, tt.claims))
			a.Middleware(next).ServeHTTP(httptest.NewRecorder(), req)

			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Role)
			assert.Equal(t, tt.want == "admin", HasRole(got, "admin"))
		})
	}
}

func TestUIDWithoutClaims(t *testing.T) {
	_, err := UID(context.Background())
	assert.ErrorIs(t, err, ErrNoIdentity)
}

type stubLookup struct {
	ids   map[string]int64
	calls int
}

func (s *stubLookup) GetAdminID(_ context.Context, uid string) (int64, error) {
	s.calls++
	id, ok := s.ids[uid]
	if !ok {
		return 0, errors.New("not found")
	}
	return id, nil
}

func TestAdminResolverCachesHits(t *testing.T) {
	lookup := &stubLookup{ids: map[string]int64{"u1": 42}}
	r := NewAdminResolver(lookup, zerolog.Nop())

	for i := 0; i < 3; i++ {
		id, err := r.Resolve(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(42), id)
	}
	assert.Equal(t, 1, lookup.calls)

	r.Forget("u1")
	_, err := r.Resolve(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, lookup.calls)
}

func TestAdminResolverDoesNotCacheMisses(t *testing.T) {
	lookup := &stubLookup{ids: map[string]int64{}}
	r := NewAdminResolver(lookup, zerolog.Nop())

	_, err := r.Resolve(context.Background(), "ghost")
	assert.Error(t, err)
	_, err = r.Resolve(context.Background(), "ghost")
	assert.Error(t, err)
	assert.Equal(t, 2, lookup.calls)
}
