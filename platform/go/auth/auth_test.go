package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/palmyra-graph/platform/go/auth/devtoken"
)

func TestDefaultCredentialExtractor(t *testing.T) {
	creds, err := DefaultCredentialExtractor(map[string]interface{}{
		"uid":            "user-123",
		"email":          "user@example.com",
		"name":           "User One",
		"isAdmin":        true,
		"email_verified": true,
	})
	require.NoError(t, err)
	require.Equal(t, "user-123", creds.Id)
	require.Equal(t, "user@example.com", creds.Email)
	require.NotNil(t, creds.Name)
	require.Equal(t, "User One", *creds.Name)
	require.True(t, creds.IsAdmin)
	require.True(t, creds.EmailVerified)
}

func TestDefaultCredentialExtractorSubjectFallback(t *testing.T) {
	creds, err := DefaultCredentialExtractor(map[string]interface{}{"sub": "user-9"})
	require.NoError(t, err)
	require.Equal(t, "user-9", creds.Id)

	_, err = DefaultCredentialExtractor(map[string]interface{}{"email": "nobody@example.com"})
	require.Error(t, err)
}

func TestExtractBearerToken(t *testing.T) {
	testCases := []struct {
		name      string
		header    string
		wantToken string
		wantFound bool
	}{
		{name: "standard", header: "Bearer abc.def", wantToken: "abc.def", wantFound: true},
		{name: "case insensitive", header: "bearer abc.def", wantToken: "abc.def", wantFound: true},
		{name: "missing header", header: "", wantFound: false},
		{name: "wrong scheme", header: "Basic abc", wantFound: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			token, found := ExtractBearerToken(r)
			require.Equal(t, tc.wantFound, found)
			require.Equal(t, tc.wantToken, token)
		})
	}
}

func TestBearerMiddlewareInjectsCredentials(t *testing.T) {
	token, err := devtoken.BuildUnsignedToken(devtoken.Params{
		UserID: "user-42",
		Email:  "user42@example.com",
	}, time.Now())
	require.NoError(t, err)

	var captured *UserCredentials
	handler := Bearer(UnsignedTokenVerifier(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, captured)
	require.Equal(t, "user-42", captured.Id)
}

func TestBearerMiddlewarePassesAnonymousThrough(t *testing.T) {
	handler := Bearer(UnsignedTokenVerifier(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := UserFromContext(r.Context())
		require.False(t, ok)
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestBearerMiddlewareRejectsGarbageToken(t *testing.T) {
	handler := Bearer(UnsignedTokenVerifier(), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer not-a-jwt")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}
