package remote

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dsumanth/coach-me-sub008/internal/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestJWTAuth_GenerateAndValidate(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	token, err := jwtAuth.GenerateToken("user42", "device-a", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtAuth.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "user42", claims.Subject)
	require.Equal(t, "device-a", claims.DeviceID)
	require.Equal(t, TokenIssuer, claims.Issuer)
	require.NotNil(t, claims.ExpiresAt)
	require.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Second)
}

func TestJWTAuth_ValidateToken_Rejects(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")

	t.Run("wrong secret", func(t *testing.T) {
		token, err := NewJWTAuth("other-secret").GenerateToken("user42", "device-a", time.Hour)
		require.NoError(t, err)
		_, err = jwtAuth.ValidateToken(token)
		require.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := jwtAuth.GenerateToken("user42", "device-a", -time.Minute)
		require.NoError(t, err)
		_, err = jwtAuth.ValidateToken(token)
		require.Error(t, err)
	})

	t.Run("missing device", func(t *testing.T) {
		claims := &JWTClaims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = jwtAuth.ValidateToken(token)
		require.ErrorContains(t, err, "did")
	})

	t.Run("missing subject", func(t *testing.T) {
		claims := &JWTClaims{DeviceID: "device-a", RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = jwtAuth.ValidateToken(token)
		require.ErrorContains(t, err, "sub")
	})
}

func TestJWTAuth_Middleware(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	var gotUser, gotDevice string
	handler := jwtAuth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = auth.GetUserID(r.Context())
		gotDevice, _ = auth.GetDeviceID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			require.Equal(t, tc.status, rec.Code)
		})
	}

	token, err := jwtAuth.GenerateToken("user42", "device-a", time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "user42", gotUser)
	require.Equal(t, "device-a", gotDevice)
}
