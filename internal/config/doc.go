// Package config handles configuration loading for bella-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from BELLA_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/bella/gateway.yaml
//  3. ~/.config/bella/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	wechat:
//	  app_secret: "${BELLA_WECHAT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	voice:
//	  max_wait: "90s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: ":8080"
//	  webhook_path: "/wechat"
//
// Ledger database:
//
//	database:
//	  path: "./bella.db"
//
// Session store (optional; in-memory fallback without it):
//
//	redis:
//	  addr: "localhost:6379"
//	  key_prefix: "bella:"
//
// Platform credentials:
//
//	wechat:
//	  app_id: "wx..."
//	  app_secret: "${BELLA_WECHAT_SECRET}"
//	  bot_token: "${BELLA_WECHAT_TOKEN}"
//
// Model settings:
//
//	model:
//	  api_key: "${OPENAI_API_KEY}"
//	  model: "gpt-3.5-turbo-16k-0613"
//	  temperature: 0.7
//	  max_tokens: 2500
//
// Voice settings (optional):
//
//	voice:
//	  enabled: true
//	  api_key: "${PLAYHT_API_KEY}"
//	  user_id: "${PLAYHT_USER_ID}"
package config
