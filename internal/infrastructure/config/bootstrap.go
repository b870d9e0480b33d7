package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// AppName is the canonical application name
const AppName = "ccapis"

// HomeDir returns the proxy's configuration home: ~/xyz-jphil/ccapis
func HomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "xyz-jphil", AppName)
}

// Bootstrap ensures the configuration home exists with default content.
// Called once at startup. Safe to call multiple times — only creates
// missing items, never overwrites user edits.
func Bootstrap(logger *zap.Logger) error {
	root := HomeDir()

	dirs := []string{
		root,
		filepath.Join(root, "logs"),
		filepath.Join(root, "conversations-logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	defaults := map[string]string{
		filepath.Join(root, "settings.yaml"): defaultSettings,
		filepath.Join(root, "accounts.yaml"): defaultAccounts,
	}

	created := 0
	for path, content := range defaults {
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			logger.Warn("Failed to write default file", zap.String("path", path), zap.Error(err))
			continue
		}
		created++
	}

	if created > 0 {
		logger.Info("Bootstrap complete",
			zap.String("home", root),
			zap.Int("files_created", created),
		)
	} else {
		logger.Debug("Configuration home OK", zap.String("home", root))
	}

	return nil
}

const defaultSettings = `# ccapis settings
# Auto-generated on first launch — feel free to edit.

server:
  host: 0.0.0.0
  port: 8080

# Path to the watched credentials file. Empty = <this dir>/accounts.yaml.
credentials_file: ""

circuit_breaker:
  enabled: true
  failure_threshold: 3
  generic_cooldown: 5m
  rate_limit_cooldown: 15m
  usage_staleness: 2m

upstream:
  request_timeout: 30s
  stream_timeout: 5m
  keep_conversations: false    # true keeps upstream conversations around
  user_agent: ""               # empty = built-in browser UA

# Probe each credential with a cheap upstream call before serving.
validate_on_start: true

# Periodically touch idle sessions so they stay signed in. 0s disables.
ping_interval: 0s

log:
  level: info                  # debug | info | warn | error
  format: console              # console | json
  file:
    enabled: false
    path: ""                   # empty = <this dir>/logs/ccapis.log
    max_size_mb: 50
    max_backups: 5
    max_age_days: 14
    compress: true

# Per-transaction request/response dumps for debugging.
conversation_log:
  enabled: true
  dir: ""                      # empty = <this dir>/conversations-logs
`

const defaultAccounts = `# ccapis credentials
# One entry per upstream browser session. This file is watched: edits are
# picked up without a restart.

accounts:
  - id: example
    name: Example Account
    session_key: sk-ses-replace-me
    org_id: 00000000-0000-0000-0000-000000000000
    base_url: https://claude.ai
    tier: 1
    active: false              # flip to true once session_key is real
    track_usage: true
    ping: false
    conversation_settings: {}
`
