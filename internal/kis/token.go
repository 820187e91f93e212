// token.go manages the OAuth access token for the KIS REST API.
//
// Tokens are requested from /oauth2/tokenP with the app key/secret and
// persisted to <data_dir>/token/token_info_<server>.json so a restart does
// not burn the broker's daily token quota. The token file is written
// atomically (tmp + rename) with mode 0600 inside a 0700 directory;
// construction fails if those modes cannot be enforced. A token is treated
// as expired ten minutes before its actual expiry.
package kis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"hantu-quant/internal/alert"
	"hantu-quant/internal/config"
)

// refreshMargin is how long before expiry a token is considered stale.
const refreshMargin = 10 * time.Minute

const expiredTimeLayout = "2006-01-02 15:04:05"

// tokenInfo is the persisted token file shape.
type tokenInfo struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// tokenResponse is the /oauth2/tokenP response body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	// Optional explicit expiry, "YYYY-MM-DD HH:MM:SS" local exchange time.
	AccessTokenExpired string `json:"access_token_token_expired"`
}

// TokenManager owns the access token lifecycle. It is the single writer of
// token state; readers take the lock briefly and copy out.
type TokenManager struct {
	creds  config.Credentials
	http   *resty.Client
	path   string
	logger zerolog.Logger

	mu    sync.Mutex
	token tokenInfo
}

// NewTokenManager creates the manager, enforces token directory/file modes,
// and loads any previously persisted token. A malformed token file is
// discarded, not fatal; an unenforceable directory mode is fatal.
func NewTokenManager(creds config.Credentials, dataDir string, logger zerolog.Logger) (*TokenManager, error) {
	dir := filepath.Join(dataDir, "token")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, alert.NewError(alert.KindCredential, "", "create token dir: "+err.Error(), err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, alert.NewError(alert.KindCredential, "", "chmod token dir: "+err.Error(), err)
	}

	tm := &TokenManager{
		creds: creds,
		http: resty.New().
			SetBaseURL(creds.RESTBase()).
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json; charset=utf-8"),
		path:   filepath.Join(dir, fmt.Sprintf("token_info_%s.json", creds.Server)),
		logger: logger.With().Str("component", "token").Logger(),
	}
	tm.loadPersisted()
	return tm, nil
}

// AccessToken returns the current token string, which may be empty or
// stale; call EnsureValidToken first on request paths.
func (tm *TokenManager) AccessToken() string {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.token.AccessToken
}

// ExpiresAt returns the current token expiry instant.
func (tm *TokenManager) ExpiresAt() time.Time {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.token.ExpiresAt
}

// EnsureValidToken returns true when a token valid for at least another ten
// minutes is available, refreshing if necessary.
func (tm *TokenManager) EnsureValidToken(ctx context.Context) bool {
	tm.mu.Lock()
	valid := tm.token.AccessToken != "" && time.Now().Add(refreshMargin).Before(tm.token.ExpiresAt)
	tm.mu.Unlock()
	if valid {
		return true
	}
	return tm.Refresh(ctx, false)
}

// Refresh requests a new token. With force=false a still-valid token is
// kept. Returns false on any failure; errors never propagate past this
// layer.
func (tm *TokenManager) Refresh(ctx context.Context, force bool) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if !force && tm.token.AccessToken != "" && time.Now().Add(refreshMargin).Before(tm.token.ExpiresAt) {
		return true
	}

	var body tokenResponse
	resp, err := tm.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"grant_type": "client_credentials",
			"appkey":     tm.creds.AppKey,
			"appsecret":  tm.creds.AppSecret,
		}).
		SetResult(&body).
		Post("/oauth2/tokenP")
	if err != nil {
		tm.logger.Warn().Err(err).Msg("token refresh request failed")
		return false
	}
	if resp.StatusCode() != 200 || body.AccessToken == "" {
		tm.logger.Warn().
			Int("status", resp.StatusCode()).
			Msg("token refresh rejected")
		return false
	}

	expiresAt := time.Now().Add(time.Duration(body.ExpiresIn) * time.Second)
	if body.AccessTokenExpired != "" {
		if t, err := time.ParseInLocation(expiredTimeLayout, body.AccessTokenExpired, time.Local); err == nil {
			expiresAt = t
		}
	}

	tm.token = tokenInfo{AccessToken: body.AccessToken, ExpiresAt: expiresAt}
	if err := tm.persist(); err != nil {
		tm.logger.Warn().Err(err).Msg("token persist failed")
	}
	// Token value is never logged, only its expiry.
	tm.logger.Info().Time("expires_at", expiresAt).Msg("access token refreshed (token: ***)")
	return true
}

// ClearToken drops the in-memory token and removes the persisted file.
func (tm *TokenManager) ClearToken() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.token = tokenInfo{}
	if err := os.Remove(tm.path); err != nil && !os.IsNotExist(err) {
		tm.logger.Warn().Err(err).Msg("token file removal failed")
	}
}

// loadPersisted restores a previously saved token. Expired or malformed
// files are discarded silently; the next request will refresh.
func (tm *TokenManager) loadPersisted() {
	data, err := os.ReadFile(tm.path)
	if err != nil {
		return
	}
	var saved tokenInfo
	if err := json.Unmarshal(data, &saved); err != nil {
		tm.logger.Warn().Msg("discarding malformed token file")
		_ = os.Remove(tm.path)
		return
	}
	if time.Now().Add(refreshMargin).Before(saved.ExpiresAt) {
		tm.token = saved
		tm.logger.Info().Time("expires_at", saved.ExpiresAt).Msg("restored persisted token (token: ***)")
	}
}

// persist writes the token file atomically with mode 0600.
func (tm *TokenManager) persist() error {
	data, err := json.Marshal(tm.token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	tmp := tm.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		return fmt.Errorf("chmod token: %w", err)
	}
	return os.Rename(tmp, tm.path)
}
