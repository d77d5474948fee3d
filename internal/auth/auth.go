// Package auth manages the OAuth token lifecycle for each configured
// provider: device-flow acquisition, refresh-on-expiry, and file-sourced
// import.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/metrics"
	"github.com/llmgateway/gateway/internal/tokenstore"
	gwerrors "github.com/llmgateway/gateway/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	devicePollInterval = 5 * time.Second
	devicePollBudget   = 120
	httpTimeout        = 30 * time.Second
)

// DeviceFlowInfo is returned to the caller (dashboard) after initiating a
// device-authorization grant.
type DeviceFlowInfo struct {
	DeviceCode      string `json:"deviceCode"`
	UserCode        string `json:"userCode"`
	VerificationURL string `json:"verificationUrl"`
	ExpiresIn       int    `json:"expiresIn"`
}

// Manager owns the OAuth token lifecycle for every configured provider.
type Manager struct {
	store     *tokenstore.Store
	providers map[string]config.ProviderConfig
	client    *http.Client
	sf        singleflight.Group
	logger    *zap.Logger
	metrics   *metrics.Registry

	watcher *fileWatcher
}

// New builds a Manager bound to store and the given provider configs.
func New(store *tokenstore.Store, providers map[string]config.ProviderConfig, logger *zap.Logger) *Manager {
	return &Manager{
		store:     store,
		providers: providers,
		client:    &http.Client{Timeout: httpTimeout},
		logger:    logger.With(zap.String("component", "auth")),
	}
}

// SetMetrics wires a metrics registry to record refresh-token outcomes. Nil
// is safe and disables recording; intended to be called once after New.
func (m *Manager) SetMetrics(reg *metrics.Registry) {
	m.metrics = reg
}

func (m *Manager) providerConfig(provider string) (config.ProviderConfig, error) {
	cfg, ok := m.providers[provider]
	if !ok || !cfg.Enabled {
		return config.ProviderConfig{}, gwerrors.NewAuth(fmt.Sprintf("provider %q is not enabled or configured", provider))
	}
	return cfg, nil
}

// InitiateDeviceFlow starts a device-authorization grant for provider.
func (m *Manager) InitiateDeviceFlow(ctx context.Context, provider string) (*DeviceFlowInfo, error) {
	cfg, err := m.providerConfig(provider)
	if err != nil {
		return nil, err
	}
	if cfg.ClientID == "" || cfg.AuthEndpoint == "" {
		return nil, gwerrors.NewAuth(fmt.Sprintf("provider %q lacks clientId/authEndpoint for device flow", provider))
	}

	form := url.Values{
		"client_id": {cfg.ClientID},
		"scope":     {"openid profile email offline_access"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.AuthEndpoint, bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindServiceUnavailable, "build device flow request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindServiceUnavailable, "device flow request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindServiceUnavailable, "read device flow response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, gwerrors.New(gwerrors.KindAuth, fmt.Sprintf("device flow init failed: %d %s", resp.StatusCode, string(body)))
	}

	var parsed struct {
		DeviceCode              string `json:"device_code"`
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		ExpiresIn               int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindServiceUnavailable, "parse device flow response", err)
	}

	verificationURL := parsed.VerificationURIComplete
	if verificationURL == "" {
		verificationURL = parsed.VerificationURI
	}

	return &DeviceFlowInfo{
		DeviceCode:      parsed.DeviceCode,
		UserCode:        parsed.UserCode,
		VerificationURL: verificationURL,
		ExpiresIn:       parsed.ExpiresIn,
	}, nil
}

type tokenEndpointResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// CompleteDeviceFlow polls the token endpoint for provider until the user
// authorizes deviceCode, the grant expires, or the poll budget (120 polls,
// ~10 minutes at the default 5s interval) is exhausted.
func (m *Manager) CompleteDeviceFlow(ctx context.Context, provider, deviceCode string) (*tokenstore.TokenSet, error) {
	cfg, err := m.providerConfig(provider)
	if err != nil {
		return nil, err
	}
	if cfg.ClientID == "" || cfg.TokenEndpoint == "" {
		return nil, gwerrors.NewAuth(fmt.Sprintf("provider %q lacks clientId/tokenEndpoint for device flow", provider))
	}

	interval := devicePollInterval

	for attempt := 0; attempt < devicePollBudget; attempt++ {
		select {
		case <-ctx.Done():
			return nil, gwerrors.Wrap(gwerrors.KindServiceUnavailable, "device flow cancelled", ctx.Err())
		case <-time.After(interval):
		}

		resp, err := m.pollToken(ctx, cfg, deviceCode)
		if err != nil {
			return nil, err
		}

		switch resp.Error {
		case "":
			ts := tokenstore.TokenSet{
				Provider:        provider,
				AccessToken:     resp.AccessToken,
				RefreshToken:    resp.RefreshToken,
				ExpiresAtMillis: time.Now().UnixMilli() + resp.ExpiresIn*1000,
			}
			if err := m.store.Save(ts); err != nil {
				return nil, gwerrors.Wrap(gwerrors.KindServiceUnavailable, "persist token", err)
			}
			return &ts, nil
		case "authorization_pending":
			continue
		case "slow_down":
			interval *= 2
			continue
		case "expired_token", "access_denied":
			return nil, gwerrors.New(gwerrors.KindAuth, "device flow "+resp.Error)
		default:
			return nil, gwerrors.New(gwerrors.KindAuth, "device flow error: "+resp.Error)
		}
	}

	return nil, gwerrors.New(gwerrors.KindAuth, "device flow poll budget exhausted")
}

func (m *Manager) pollToken(ctx context.Context, cfg config.ProviderConfig, deviceCode string) (*tokenEndpointResponse, error) {
	form := url.Values{
		"client_id":   {cfg.ClientID},
		"device_code": {deviceCode},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenEndpoint, bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindServiceUnavailable, "build token poll request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindServiceUnavailable, "token poll request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindServiceUnavailable, "read token poll response", err)
	}

	var parsed tokenEndpointResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, gwerrors.New(gwerrors.KindAuth, fmt.Sprintf("device flow poll failed: %d %s", resp.StatusCode, string(body)))
		}
		return nil, gwerrors.Wrap(gwerrors.KindServiceUnavailable, "parse token poll response", err)
	}

	if parsed.Error == "" && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return nil, gwerrors.New(gwerrors.KindAuth, fmt.Sprintf("device flow poll failed with unrecognized response: %d %s", resp.StatusCode, string(body)))
	}

	return &parsed, nil
}

// RefreshToken exchanges the stored refresh token for a new access token. A
// failure always deletes the stored entry, forcing re-authentication.
func (m *Manager) RefreshToken(provider string) (tokenstore.TokenSet, error) {
	ts, err := m.doRefreshToken(provider)
	if m.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		m.metrics.ObserveAuthRefresh(provider, outcome)
	}
	return ts, err
}

func (m *Manager) doRefreshToken(provider string) (tokenstore.TokenSet, error) {
	cfg, err := m.providerConfig(provider)
	if err != nil {
		return tokenstore.TokenSet{}, err
	}

	current, ok := m.store.Get(provider)
	if !ok || current.RefreshToken == "" {
		return tokenstore.TokenSet{}, gwerrors.NewAuth("no refresh token stored for " + provider)
	}

	form := url.Values{
		"client_id":     {cfg.ClientID},
		"refresh_token": {current.RefreshToken},
		"grant_type":    {"refresh_token"},
	}
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}

	req, reqErr := http.NewRequest(http.MethodPost, cfg.TokenEndpoint, bytes.NewReader([]byte(form.Encode())))
	if reqErr != nil {
		m.store.Delete(provider)
		return tokenstore.TokenSet{}, gwerrors.Wrap(gwerrors.KindAuth, "build refresh request", reqErr)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, doErr := m.client.Do(req)
	if doErr != nil {
		m.store.Delete(provider)
		return tokenstore.TokenSet{}, gwerrors.Wrap(gwerrors.KindAuth, "refresh request failed", doErr)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		m.store.Delete(provider)
		return tokenstore.TokenSet{}, gwerrors.Wrap(gwerrors.KindAuth, "read refresh response", readErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.store.Delete(provider)
		return tokenstore.TokenSet{}, gwerrors.New(gwerrors.KindAuth, fmt.Sprintf("refresh failed: %d %s", resp.StatusCode, string(body)))
	}

	var parsed tokenEndpointResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		m.store.Delete(provider)
		return tokenstore.TokenSet{}, gwerrors.Wrap(gwerrors.KindAuth, "parse refresh response", err)
	}

	refreshToken := parsed.RefreshToken
	if refreshToken == "" {
		refreshToken = current.RefreshToken
	}

	newTS := tokenstore.TokenSet{
		Provider:        provider,
		AccessToken:     parsed.AccessToken,
		RefreshToken:    refreshToken,
		ExpiresAtMillis: time.Now().UnixMilli() + parsed.ExpiresIn*1000,
	}
	if err := m.store.Save(newTS); err != nil {
		return tokenstore.TokenSet{}, gwerrors.Wrap(gwerrors.KindServiceUnavailable, "persist refreshed token", err)
	}
	return newTS, nil
}

// GetValidToken returns a non-expired TokenSet for provider, refreshing
// inline if necessary. Concurrent callers observing the same expired
// provider coalesce into a single in-flight refresh via singleflight.
func (m *Manager) GetValidToken(provider string) (tokenstore.TokenSet, error) {
	if !m.store.IsExpired(provider) {
		ts, ok := m.store.Get(provider)
		if !ok {
			return tokenstore.TokenSet{}, gwerrors.NewAuth("no token for " + provider + "; authenticate")
		}
		return ts, nil
	}

	current, ok := m.store.Get(provider)
	if !ok {
		return tokenstore.TokenSet{}, gwerrors.NewAuth("no token for " + provider + "; authenticate")
	}
	if current.RefreshToken == "" {
		return tokenstore.TokenSet{}, gwerrors.NewAuth("token for " + provider + " expired; re-authenticate")
	}

	result, err, _ := m.sf.Do(provider, func() (interface{}, error) {
		return m.RefreshToken(provider)
	})
	if err != nil {
		return tokenstore.TokenSet{}, err
	}
	return result.(tokenstore.TokenSet), nil
}

// DeleteToken removes the stored token for provider.
func (m *Manager) DeleteToken(provider string) error {
	return m.store.Delete(provider)
}

// InsertToken manually writes a TokenSet (dashboard "manual insert" route).
func (m *Manager) InsertToken(ts tokenstore.TokenSet) error {
	return m.store.Save(ts)
}

// RedactedTokens returns every stored provider's access token reduced to
// "..." plus its last 8 characters, for the dashboard.
func (m *Manager) RedactedTokens() map[string]string {
	all := m.store.GetAll()
	redacted := make(map[string]string, len(all))
	for provider, ts := range all {
		redacted[provider] = redactToken(ts.AccessToken)
	}
	return redacted
}

func redactToken(token string) string {
	if len(token) <= 8 {
		return "..." + token
	}
	return "..." + token[len(token)-8:]
}
