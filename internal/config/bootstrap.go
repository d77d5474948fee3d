package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application directory name under the user's home.
const AppName = "llm-gateway"

// HomeDir returns ~/.llm-gateway.
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "."+AppName)
}

// Bootstrap ensures ~/.llm-gateway exists with a default config.yaml. Safe to
// call on every startup — it never overwrites an existing file.
func Bootstrap(logger *zap.Logger) error {
	root := HomeDir()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", root, err)
	}

	configPath := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		logger.Debug("gateway home directory OK", zap.String("home", root))
		return nil
	}

	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		logger.Warn("failed to write default config", zap.String("path", configPath), zap.Error(err))
		return nil
	}

	logger.Info("gateway bootstrap complete", zap.String("home", root))
	return nil
}

const defaultConfig = `# llm-gateway configuration — auto-generated on first launch.
gateway:
  host: 127.0.0.1
  port: 8787

auth:
  tokenStorePath: ~/.llm-gateway/tokens.json
  watchFiles: []

logLevel: info
logFormat: console

modelAliases: []
# Example:
# modelAliases:
#   - alias: gpt-4
#     providers:
#       - provider: openai
#         model: gpt-4
#         priority: 1
#       - provider: gemini
#         model: gemini-1.5-pro
#         priority: 2

rateLimits: []
# Example:
# rateLimits:
#   - provider: openai
#     requestsPerMinute: 60
#     maxQueueSize: 20

providers: {}
# Example:
# providers:
#   openai:
#     enabled: true
#     type: openai
#     apiEndpoint: https://api.openai.com/v1
#     clientId: ...
#     authEndpoint: https://auth.openai.com/device/code
#     tokenEndpoint: https://auth.openai.com/oauth/token
`
