// Package wechat implements the messaging platform integration: the
// authenticated HTTP API client (push messages, media transfer, menu
// management, token caching) and the webhook wire formats (inbound XML
// envelopes, CDATA replies, handshake signature verification).
//
// The access token is cached in the shared key-value store with a TTL shorter
// than the platform's validity window; API errors carrying a stale-token code
// can be detected via APIError.StaleToken and resolved with RefreshToken.
package wechat
