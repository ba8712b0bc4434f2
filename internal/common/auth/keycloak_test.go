package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swot-insights/internal/common/config"
	"swot-insights/internal/common/errors"
)

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type formRequest struct {
	Path string
	Form url.Values
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*KeycloakClient, *[]formRequest) {
	t.Helper()
	var seen []formRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(raw))
		seen = append(seen, formRequest{Path: r.URL.Path, Form: form})
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	k := NewKeycloakClient(server.URL+"/", "swot", "swot-web", "secret")
	k.now = func() time.Time { return fixedNow }
	return k, &seen
}

func TestSignIn_Success(t *testing.T) {
	k, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":300}`)
	})

	res, err := k.SignIn(context.Background(), " ana@example.com ", "s3cret", false)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "at", res.Session.AccessToken)
	assert.Equal(t, "rt", res.Session.RefreshToken)
	assert.Equal(t, fixedNow.Add(5*time.Minute), res.Session.ExpiresAt)
	assert.False(t, res.Session.Remember)

	req := (*seen)[0]
	assert.Equal(t, "/realms/swot/protocol/openid-connect/token", req.Path)
	assert.Equal(t, "password", req.Form.Get("grant_type"))
	assert.Equal(t, "ana@example.com", req.Form.Get("username"))
	assert.Equal(t, "swot-web", req.Form.Get("client_id"))
	assert.Equal(t, "openid", req.Form.Get("scope"))
}

func TestSignIn_RememberRequestsOfflineAccess(t *testing.T) {
	k, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"access_token":"at","refresh_token":"offline","expires_in":300}`)
	})

	res, err := k.SignIn(context.Background(), "ana@example.com", "s3cret", true)
	require.NoError(t, err)
	assert.True(t, res.Session.Remember)
	assert.Equal(t, "openid offline_access", (*seen)[0].Form.Get("scope"))
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	k, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":"invalid_grant"}`)
	})

	res, err := k.SignIn(context.Background(), "ana@example.com", "wrong", false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, MsgInvalidCredentials, res.Message)
	assert.Nil(t, res.Session)
}

func TestSignIn_MissingCredentials(t *testing.T) {
	k, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	res, err := k.SignIn(context.Background(), "", "x", false)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, MsgMissingCredentials, res.Message)
	assert.Empty(t, *seen)
}

func TestSignIn_MalformedEmailSkipsProvider(t *testing.T) {
	k, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("provider must not be called")
	})

	for _, email := range []string{"ana@", "ana.example.com", "ana@empresa"} {
		res, err := k.SignIn(context.Background(), email, "s3cret", false)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, MsgInvalidEmail, res.Message, email)
	}
	assert.Empty(t, *seen)
}

func TestSignIn_ProviderDown(t *testing.T) {
	k, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := k.SignIn(context.Background(), "ana@example.com", "s3cret", false)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAuthUnavailable))
	assert.True(t, errors.IsRetryable(err))
}

func TestSignOut(t *testing.T) {
	k, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, k.SignOut(context.Background(), "rt"))
	assert.Equal(t, "/realms/swot/protocol/openid-connect/logout", (*seen)[0].Path)
	assert.Equal(t, "rt", (*seen)[0].Form.Get("refresh_token"))

	require.NoError(t, k.SignOut(context.Background(), ""))
	assert.Len(t, *seen, 1)
}

func TestSignOut_Rejected(t *testing.T) {
	k, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	err := k.SignOut(context.Background(), "rt")
	assert.True(t, errors.HasCode(err, errors.ErrCodeAuthInvalid))
}

func TestValidateToken(t *testing.T) {
	exp := fixedNow.Add(time.Minute).Unix()
	k, seen := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{
			"active": true,
			"sub": "user-1",
			"email": "ana@example.com",
			"name": "Ana",
			"exp": `+itoa(exp)+`,
			"realm_access": {"roles": ["user", "admin"]}
		}`)
	})

	info, err := k.ValidateToken(context.Background(), "at")
	require.NoError(t, err)
	assert.Equal(t, "user-1", info.Sub)
	assert.Equal(t, "/realms/swot/protocol/openid-connect/token/introspect", (*seen)[0].Path)
	assert.Equal(t, "at", (*seen)[0].Form.Get("token"))

	id, err := k.Authenticate(context.Background(), "at")
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, "ana@example.com", id.Email)
	assert.True(t, id.HasRole("admin"))
	assert.Equal(t, "at", id.AccessToken)
}

func TestValidateToken_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		token    string
		wantCode errors.ErrorCode
	}{
		{"inactive", http.StatusOK, `{"active":false}`, "at", errors.ErrCodeAuthInvalid},
		{"expired", http.StatusOK, `{"active":true,"sub":"u","exp":1}`, "at", errors.ErrCodeAuthInvalid},
		{"missing token", http.StatusOK, `{}`, "", errors.ErrCodeAuthInvalid},
		{"client rejected", http.StatusUnauthorized, `{}`, "at", errors.ErrCodeAuthInvalid},
		{"provider error", http.StatusBadGateway, `{}`, "at", errors.ErrCodeAuthUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})
			_, err := k.ValidateToken(context.Background(), tt.token)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestTokenInfo_IdentityFallsBackToUsername(t *testing.T) {
	info := &TokenInfo{Sub: "u", Username: "ana@example.com"}
	assert.Equal(t, "ana@example.com", info.Identity().Email)
}

func TestNewKeycloakClientFromConfig(t *testing.T) {
	var cfg config.AuthConfig
	cfg.Keycloak.URL = "http://kc:8080/"
	cfg.Keycloak.Realm = "swot"
	cfg.Keycloak.ClientID = "swot-web"
	cfg.Keycloak.Timeout = 1500

	k := NewKeycloakClientFromConfig(cfg)
	assert.Equal(t, "http://kc:8080", k.baseURL)
	assert.Equal(t, 1500*time.Millisecond, k.httpClient.Timeout)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
