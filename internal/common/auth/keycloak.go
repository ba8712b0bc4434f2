// internal/common/auth/keycloak.go
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"swot-insights/internal/common/config"
	"swot-insights/internal/common/errors"
	"swot-insights/internal/common/validation"
	"swot-insights/internal/models"
)

// Messages shown on the sign-in page.
const (
	MsgInvalidCredentials = "E-mail ou senha inválidos"
	MsgMissingCredentials = "Informe e-mail e senha"
	MsgInvalidEmail       = "Informe um e-mail válido"
)

// KeycloakClient signs users in and out against a Keycloak realm and
// introspects their access tokens.
type KeycloakClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	now          func() time.Time
}

// TokenResponse holds the response from Keycloak's token endpoint.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	TokenType        string `json:"token_type"`
	RefreshToken     string `json:"refresh_token"`
	Scope            string `json:"scope"`
}

// SignInResult is the outcome of a credential check. Wrong credentials are
// reported through Success/Message, not as an error.
type SignInResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Session *models.Session `json:"session,omitempty"`
}

func NewKeycloakClient(baseURL, realm, clientID, clientSecret string) *KeycloakClient {
	return &KeycloakClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
	}
}

// NewKeycloakClientFromConfig builds a client from the auth.keycloak section.
func NewKeycloakClientFromConfig(cfg config.AuthConfig) *KeycloakClient {
	k := NewKeycloakClient(cfg.Keycloak.URL, cfg.Keycloak.Realm, cfg.Keycloak.ClientID, cfg.Keycloak.ClientSecret)
	if cfg.Keycloak.Timeout > 0 {
		k.httpClient.Timeout = config.GetDuration(cfg.Keycloak.Timeout)
	}
	return k
}

func (k *KeycloakClient) endpoint(path string) string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/%s", k.baseURL, k.realm, path)
}

func (k *KeycloakClient) postForm(ctx context.Context, path string, data url.Values) (*http.Response, error) {
	data.Set("client_id", k.clientID)
	if k.clientSecret != "" {
		data.Set("client_secret", k.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.endpoint(path), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errors.NewInternalError(fmt.Errorf("create %s request: %w", path, err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewAuthUnavailableError(err)
	}
	return resp, nil
}

// SignIn exchanges email and password for a session using the password
// grant. remember requests an offline token so the session survives restarts.
func (k *KeycloakClient) SignIn(ctx context.Context, email, password string, remember bool) (*SignInResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return &SignInResult{Success: false, Message: MsgMissingCredentials}, nil
	}
	if !validation.ValidateEmail(email) {
		return &SignInResult{Success: false, Message: MsgInvalidEmail}, nil
	}

	scope := "openid"
	if remember {
		scope += " offline_access"
	}
	data := url.Values{}
	data.Set("grant_type", "password")
	data.Set("username", email)
	data.Set("password", password)
	data.Set("scope", scope)

	resp, err := k.postForm(ctx, "token", data)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		// invalid_grant: wrong password, unknown or disabled user
		return &SignInResult{Success: false, Message: MsgInvalidCredentials}, nil
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.NewAuthUnavailableError(fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body)))
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, errors.NewAuthUnavailableError(fmt.Errorf("decode token response: %w", err))
	}

	return &SignInResult{
		Success: true,
		Session: &models.Session{
			AccessToken:  tokenResp.AccessToken,
			RefreshToken: tokenResp.RefreshToken,
			TokenType:    tokenResp.TokenType,
			ExpiresAt:    k.now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
			Remember:     remember,
		},
	}, nil
}

// SignOut revokes the refresh token.
func (k *KeycloakClient) SignOut(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	data := url.Values{}
	data.Set("refresh_token", refreshToken)

	resp, err := k.postForm(ctx, "logout", data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Keycloak returns 204 No Content on successful logout
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if k.isTransientHTTPError(resp.StatusCode) {
			return errors.NewAuthUnavailableError(fmt.Errorf("logout returned %d: %s", resp.StatusCode, string(body)))
		}
		return errors.NewAuthError(fmt.Sprintf("logout rejected: status %d", resp.StatusCode))
	}
	return nil
}

// ValidateToken checks if an access token is valid and active.
func (k *KeycloakClient) ValidateToken(ctx context.Context, token string) (*TokenInfo, error) {
	if token == "" {
		return nil, errors.NewAuthError("missing bearer token")
	}
	data := url.Values{}
	data.Set("token", token)
	data.Set("token_type_hint", "access_token")

	resp, err := k.postForm(ctx, "token/introspect", data)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if k.isTransientHTTPError(resp.StatusCode) {
			return nil, errors.NewAuthUnavailableError(fmt.Errorf("introspection returned %d", resp.StatusCode))
		}
		return nil, errors.NewAuthError(fmt.Sprintf("introspection rejected: status %d", resp.StatusCode))
	}

	var tokenInfo TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&tokenInfo); err != nil {
		return nil, errors.NewAuthUnavailableError(fmt.Errorf("decode introspection response: %w", err))
	}

	if !tokenInfo.Active {
		return nil, errors.NewAuthError("token is expired, revoked or malformed")
	}
	if tokenInfo.Exp > 0 && k.now().Unix() >= tokenInfo.Exp {
		return nil, errors.NewAuthError("token expired")
	}

	return &tokenInfo, nil
}

// Authenticate resolves a bearer token into the caller's identity.
func (k *KeycloakClient) Authenticate(ctx context.Context, token string) (*models.Identity, error) {
	info, err := k.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	id := info.Identity()
	id.AccessToken = token
	return id, nil
}

func (k *KeycloakClient) isTransientHTTPError(statusCode int) bool {
	switch statusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// TokenInfo holds the information returned by the token introspection endpoint.
type TokenInfo struct {
	Active            bool   `json:"active"`
	Scope             string `json:"scope,omitempty"`
	ClientID          string `json:"client_id,omitempty"`
	Username          string `json:"username,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	TokenType         string `json:"token_type,omitempty"`
	Exp               int64  `json:"exp,omitempty"` // seconds since epoch
	Iat               int64  `json:"iat,omitempty"`
	Sub               string `json:"sub,omitempty"` // user ID
	Iss               string `json:"iss,omitempty"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// Identity converts the introspection result into the caller identity.
func (t *TokenInfo) Identity() *models.Identity {
	email := t.Email
	if email == "" && strings.Contains(t.Username, "@") {
		email = t.Username
	}
	return &models.Identity{
		UserID: t.Sub,
		Email:  email,
		Name:   t.Name,
		Roles:  append([]string(nil), t.RealmAccess.Roles...),
	}
}
