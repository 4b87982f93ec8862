// ABOUTME: Response dispatcher delivering one segment to the end user.
// ABOUTME: Retries transient platform failures, records the ledger, and adds best-effort voice.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bellalabs/bella-gateway/internal/markdown"
	"github.com/bellalabs/bella-gateway/internal/store"
	"github.com/bellalabs/bella-gateway/internal/voice"
	"github.com/bellalabs/bella-gateway/internal/wechat"
)

const (
	maxAttempts = 3
	retryDelay  = 2 * time.Second
)

// Platform is what the dispatcher needs from the messaging platform client.
type Platform interface {
	SendText(ctx context.Context, toUser, text string) error
	SendVoice(ctx context.Context, toUser, mediaID string) error
	UploadVoice(ctx context.Context, filename string, audio []byte) (string, error)
	SendMenuPrompt(ctx context.Context, toUser string) error
	RefreshToken(ctx context.Context) error
}

// Synthesizer is what the dispatcher needs from the text-to-speech service.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Dispatcher delivers text (and optionally voice) segments to users. A
// delivery failure is logged and reported, never escalated: the background
// response task must survive it.
type Dispatcher struct {
	platform Platform
	ledger   store.Ledger
	synth    Synthesizer
	logger   *slog.Logger

	// retryDelay is a field so tests do not sleep for real.
	retryDelay time.Duration
}

// New creates a dispatcher. synth may be nil when voice is disabled.
func New(platform Platform, ledger store.Ledger, synth Synthesizer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		platform:   platform,
		ledger:     ledger,
		synth:      synth,
		logger:     logger.With("component", "dispatch"),
		retryDelay: retryDelay,
	}
}

// Send delivers one text segment to the user, rendered for a plain-text
// platform. The message is recorded in the ledger regardless of the platform
// outcome (best-effort audit trail). withVoice marks the final segment of a
// response: when set and the text carries enough English, a voice rendition
// is additionally sent, and the satisfaction prompt follows the delivery.
// Neither failure affects the already-delivered text.
func (d *Dispatcher) Send(ctx context.Context, userID, text string, withVoice bool) error {
	rendered := markdown.PlainText(text)
	if strings.TrimSpace(rendered) == "" {
		return nil
	}

	deliveryErr := d.sendWithRetry(ctx, userID, rendered)
	if deliveryErr != nil {
		d.logger.Warn("text delivery failed, giving up",
			"user", userID, "error", deliveryErr)
	}

	if err := d.ledger.AppendMessage(ctx, &store.Message{
		ID:       uuid.New().String(),
		Sender:   store.UserBot,
		Receiver: userID,
		Content:  rendered,
		Kind:     store.KindText,
	}); err != nil {
		d.logger.Warn("ledger write failed", "user", userID, "error", err)
	}

	if withVoice && deliveryErr == nil {
		if voice.Speakable(rendered) {
			d.sendVoice(ctx, userID, rendered)
		}
		if err := d.platform.SendMenuPrompt(ctx, userID); err != nil {
			d.logger.Debug("satisfaction prompt failed", "user", userID, "error", err)
		}
	}

	return deliveryErr
}

// sendWithRetry pushes the text, retrying on application-level errors with a
// fixed backoff. A stale-token error forces a token refresh before retrying.
func (d *Dispatcher) sendWithRetry(ctx context.Context, userID, text string) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = d.platform.SendText(ctx, userID, text)
		if lastErr == nil {
			return nil
		}

		var apiErr *wechat.APIError
		if errors.As(lastErr, &apiErr) && apiErr.StaleToken() {
			if err := d.platform.RefreshToken(ctx); err != nil {
				d.logger.Warn("token refresh failed", "error", err)
			}
		}

		d.logger.Debug("send attempt failed",
			"user", userID, "attempt", attempt, "error", lastErr)

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.retryDelay):
			}
		}
	}
	return fmt.Errorf("delivery failed after %d attempts: %w", maxAttempts, lastErr)
}

// sendVoice synthesizes and delivers a voice rendition. Best effort only.
func (d *Dispatcher) sendVoice(ctx context.Context, userID, text string) {
	if d.synth == nil {
		return
	}

	audio, err := d.synth.Synthesize(ctx, text)
	if err != nil {
		d.logger.Warn("voice synthesis failed", "user", userID, "error", err)
		return
	}

	mediaID, err := d.platform.UploadVoice(ctx, "reply.mp3", audio)
	if err != nil {
		d.logger.Warn("voice upload failed", "user", userID, "error", err)
		return
	}

	if err := d.platform.SendVoice(ctx, userID, mediaID); err != nil {
		d.logger.Warn("voice delivery failed", "user", userID, "error", err)
		return
	}

	if err := d.ledger.AppendMessage(ctx, &store.Message{
		ID:       uuid.New().String(),
		Sender:   store.UserBot,
		Receiver: userID,
		Content:  text,
		Kind:     store.KindVoice,
		MediaID:  mediaID,
	}); err != nil {
		d.logger.Warn("ledger write failed", "user", userID, "error", err)
	}
}

// SendVoiceOf synthesizes and delivers only the voice rendition of text,
// recording it in the ledger as sent by the system. Used by the
// repeat-with-voice shortcut.
func (d *Dispatcher) SendVoiceOf(ctx context.Context, userID, text string) error {
	if d.synth == nil {
		return fmt.Errorf("voice synthesis not configured")
	}

	audio, err := d.synth.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesizing: %w", err)
	}

	mediaID, err := d.platform.UploadVoice(ctx, "repeat.mp3", audio)
	if err != nil {
		return fmt.Errorf("uploading audio: %w", err)
	}

	if err := d.platform.SendVoice(ctx, userID, mediaID); err != nil {
		return fmt.Errorf("sending voice: %w", err)
	}

	if err := d.ledger.AppendMessage(ctx, &store.Message{
		ID:       uuid.New().String(),
		Sender:   store.UserSystem,
		Receiver: userID,
		Kind:     store.KindVoice,
		MediaID:  mediaID,
	}); err != nil {
		d.logger.Warn("ledger write failed", "user", userID, "error", err)
	}
	return nil
}
