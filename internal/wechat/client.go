// ABOUTME: Platform client for the WeChat-style messaging API.
// ABOUTME: Handles token caching, push messages, media transfer, and menu management.

package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/bellalabs/bella-gateway/internal/kv"
)

// Application error codes the client reacts to.
const (
	codeOK                 = 0
	codeInvalidCredential  = 40001
	codeAccessTokenExpired = 42001
)

// tokenCacheKey is the KV slot the bearer token is cached under.
const tokenCacheKey = "wechat:access_token"

// tokenTTL keeps the cached token comfortably inside the platform's ~2h
// validity window.
const tokenTTL = 100 * time.Minute

// APIError is a non-zero application-level error code from the platform.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform error %d: %s", e.Code, e.Message)
}

// StaleToken reports whether the error indicates the cached access token is
// no longer valid and should be refreshed before retrying.
func (e *APIError) StaleToken() bool {
	return e.Code == codeInvalidCredential || e.Code == codeAccessTokenExpired
}

// Client talks to the platform's HTTP API. The access token is cached in the
// key-value store so multiple processes share one token.
type Client struct {
	AppID     string
	AppSecret string
	BaseURL   string
	HTTP      *http.Client

	cache  kv.Store
	logger *slog.Logger
}

// NewClient creates a platform client. An empty baseURL defaults to the
// production API host.
func NewClient(appID, appSecret, baseURL string, cache kv.Store, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.weixin.qq.com"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		AppID:     appID,
		AppSecret: appSecret,
		BaseURL:   baseURL,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		cache:     cache,
		logger:    logger.With("component", "wechat"),
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Errcode     int    `json:"errcode"`
	Errmsg      string `json:"errmsg"`
}

// AccessToken returns the cached bearer token, fetching a fresh one from the
// token endpoint on a cache miss or when force is set.
//
// The token endpoint rejects callers whose IP is not whitelisted by the
// platform; that surfaces here as an APIError.
func (c *Client) AccessToken(ctx context.Context, force bool) (string, error) {
	if !force {
		token, err := c.cache.Get(ctx, tokenCacheKey)
		if err == nil && token != "" {
			return token, nil
		}
		if err != nil && !errors.Is(err, kv.ErrNotFound) {
			c.logger.Warn("token cache read failed", "error", err)
		}
	}

	endpoint := fmt.Sprintf("%s/cgi-bin/token?grant_type=client_credential&appid=%s&secret=%s",
		c.BaseURL, url.QueryEscape(c.AppID), url.QueryEscape(c.AppSecret))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if out.AccessToken == "" {
		return "", &APIError{Code: out.Errcode, Message: out.Errmsg}
	}

	if err := c.cache.Set(ctx, tokenCacheKey, out.AccessToken, tokenTTL); err != nil {
		c.logger.Warn("token cache write failed", "error", err)
	}
	return out.AccessToken, nil
}

type apiResult struct {
	Errcode int    `json:"errcode"`
	Errmsg  string `json:"errmsg"`
}

// postJSON sends one authenticated JSON call and converts non-zero errcodes
// into APIError.
func (c *Client) postJSON(ctx context.Context, path string, payload any) error {
	token, err := c.AccessToken(ctx, false)
	if err != nil {
		return err
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s%s?access_token=%s", c.BaseURL, path, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("platform request failed: %w", err)
	}
	defer resp.Body.Close()

	var out apiResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding platform response: %w", err)
	}
	if out.Errcode != codeOK {
		return &APIError{Code: out.Errcode, Message: out.Errmsg}
	}
	return nil
}

// RefreshToken discards the cached token and fetches a new one.
func (c *Client) RefreshToken(ctx context.Context) error {
	_, err := c.AccessToken(ctx, true)
	return err
}

// SendText pushes a text message to the user via the custom-send endpoint.
func (c *Client) SendText(ctx context.Context, toUser, text string) error {
	return c.postJSON(ctx, "/cgi-bin/message/custom/send", map[string]any{
		"touser":  toUser,
		"msgtype": "text",
		"text":    map[string]string{"content": text},
	})
}

// SendVoice pushes a previously uploaded voice message to the user.
func (c *Client) SendVoice(ctx context.Context, toUser, mediaID string) error {
	return c.postJSON(ctx, "/cgi-bin/message/custom/send", map[string]any{
		"touser":  toUser,
		"msgtype": "voice",
		"voice":   map[string]string{"media_id": mediaID},
	})
}

// SendTyping shows the typing indicator to the user. Best effort; callers
// usually ignore the error.
func (c *Client) SendTyping(ctx context.Context, toUser string) error {
	return c.postJSON(ctx, "/cgi-bin/message/custom/typing", map[string]any{
		"touser":  toUser,
		"command": "Typing",
	})
}

type uploadResponse struct {
	MediaID string `json:"media_id"`
	Errcode int    `json:"errcode"`
	Errmsg  string `json:"errmsg"`
}

// UploadVoice uploads audio bytes as temporary voice media and returns the
// platform media id.
func (c *Client) UploadVoice(ctx context.Context, filename string, audio []byte) (string, error) {
	token, err := c.AccessToken(ctx, false)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("media", filename)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("writing form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("closing form: %w", err)
	}

	endpoint := fmt.Sprintf("%s/cgi-bin/media/upload?access_token=%s&type=voice",
		c.BaseURL, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding upload response: %w", err)
	}
	if out.MediaID == "" {
		return "", &APIError{Code: out.Errcode, Message: out.Errmsg}
	}
	return out.MediaID, nil
}

// FetchMedia downloads media bytes (voice recordings) by media id.
func (c *Client) FetchMedia(ctx context.Context, mediaID string) ([]byte, error) {
	token, err := c.AccessToken(ctx, false)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/cgi-bin/media/get?access_token=%s&media_id=%s",
		c.BaseURL, url.QueryEscape(token), url.QueryEscape(mediaID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating media request: %w", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media fetch failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading media body: %w", err)
	}

	// Error responses come back as a JSON envelope instead of audio bytes.
	if resp.Header.Get("Content-Type") == "application/json" ||
		(len(data) > 0 && data[0] == '{') {
		var out apiResult
		if json.Unmarshal(data, &out) == nil && out.Errcode != codeOK {
			return nil, &APIError{Code: out.Errcode, Message: out.Errmsg}
		}
	}
	return data, nil
}
