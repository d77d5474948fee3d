package auth

import (
	"encoding/json"
	"os"
	"time"

	"github.com/llmgateway/gateway/internal/tokenstore"
	"go.uber.org/zap"
)

// SyncFromFile reads path as JSON (either snake_case or camelCase token
// fields) and stores the resulting TokenSet for provider. Every failure is
// logged and swallowed — this must never raise to the file watcher.
func (m *Manager) SyncFromFile(path, provider string) {
	data, err := os.ReadFile(path)
	if err != nil {
		m.logger.Warn("token file sync: read failed", zap.String("path", path), zap.Error(err))
		return
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		m.logger.Warn("token file sync: malformed JSON", zap.String("path", path), zap.Error(err))
		return
	}

	accessToken := firstString(raw, "access_token", "accessToken")
	if accessToken == "" {
		m.logger.Warn("token file sync: missing access token", zap.String("path", path))
		return
	}

	refreshToken := firstString(raw, "refresh_token", "refreshToken")

	expiresAt := firstInt64(raw, "expires_at", "expiresAt")
	now := time.Now().UnixMilli()
	if expiresAt == 0 {
		expiresAt = now + 3600000
	}
	if expiresAt <= now {
		m.logger.Warn("token file sync: already expired, refusing", zap.String("path", path))
		return
	}

	ts := tokenstore.TokenSet{
		Provider:        provider,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		ExpiresAtMillis: expiresAt,
	}
	if err := m.store.Save(ts); err != nil {
		m.logger.Warn("token file sync: save failed", zap.String("path", path), zap.Error(err))
	}
}

func firstString(raw map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func firstInt64(raw map[string]interface{}, keys ...string) int64 {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int64(n)
		case int64:
			return n
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return i
			}
		}
	}
	return 0
}
