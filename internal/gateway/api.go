// ABOUTME: HTTP handlers for the platform webhook: handshake, events, health.
// ABOUTME: The POST handler must answer fast; slow work belongs to the controller.

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/bellalabs/bella-gateway/internal/bot"
	"github.com/bellalabs/bella-gateway/internal/wechat"
)

// maxWebhookBody bounds the inbound XML payload.
const maxWebhookBody = 1 << 20

// EventHandler turns one inbound event into a synchronous reply.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev bot.Event) (string, error)
}

// WebhookHandler serves the platform callback endpoint: the one-time URL
// verification handshake on GET and message events on POST.
type WebhookHandler struct {
	token   string
	handler EventHandler
	logger  *slog.Logger
}

// NewWebhookHandler creates the webhook endpoint handler. token is the
// verification token configured in the platform console.
func NewWebhookHandler(token string, handler EventHandler, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		token:   token,
		handler: handler,
		logger:  logger.With("component", "webhook"),
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerify(w, r)
	case http.MethodPost:
		h.handleEvent(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerify answers the platform's URL verification handshake: echo the
// challenge string when the signature checks out.
func (h *WebhookHandler) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	signature := q.Get("signature")
	timestamp := q.Get("timestamp")
	nonce := q.Get("nonce")
	echostr := q.Get("echostr")

	if !wechat.VerifySignature(h.token, timestamp, nonce, signature) {
		h.logger.Warn("webhook verification failed", "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, echostr)
}

// handleEvent parses one inbound message, runs the controller, and writes
// the synchronous XML reply.
func (h *WebhookHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	inbound, err := wechat.ParseInbound(body)
	if err != nil {
		h.logger.Warn("unparseable webhook payload", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	reply, err := h.handler.HandleEvent(r.Context(), bot.Event{
		Sender:      inbound.FromUserName,
		MsgType:     inbound.MsgType,
		Content:     inbound.Content,
		Event:       inbound.Event,
		EventKey:    inbound.EventKey,
		MediaID:     inbound.MediaID,
		Recognition: inbound.Recognition,
	})
	if err != nil {
		h.logger.Error("event handling failed", "user", inbound.FromUserName, "error", err)
		// An empty 200 tells the platform not to retry; the user will ask again.
		w.WriteHeader(http.StatusOK)
		return
	}

	out, err := wechat.FormatReply(inbound, reply)
	if err != nil {
		h.logger.Error("reply encoding failed", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	io.WriteString(w, out)
}

// handleHealth reports liveness.
func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"status":"ok"}`)
}
