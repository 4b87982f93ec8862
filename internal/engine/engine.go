// ABOUTME: Conversation engine orchestrating history, model streaming, and segment dispatch.
// ABOUTME: Owns the busy lock release so a user is never left permanently busy.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bellalabs/bella-gateway/internal/llm"
	"github.com/bellalabs/bella-gateway/internal/segment"
	"github.com/bellalabs/bella-gateway/internal/session"
)

// historyWindow is how many prior exchanges are included in the prompt.
const historyWindow = 3

// apologyReply is sent when the model call fails.
const apologyReply = "对不起，我这边出了点问题，请稍后再问我一次。"

// Default sampling parameters keeping responses conversational-length.
const (
	defaultModel       = "gpt-3.5-turbo-16k-0613"
	defaultTemperature = 0.7
	defaultMaxTokens   = 2500
)

// Dispatcher delivers one completed segment to the user.
type Dispatcher interface {
	Send(ctx context.Context, userID, text string, withVoice bool) error
}

// Options tune the model invocation. Zero values fall back to the defaults.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Engine runs one response generation per invocation: it loads bounded
// history, streams the model output, splits it into segments at natural
// boundaries, and dispatches each segment in order.
type Engine struct {
	model      llm.Streamer
	history    *session.History
	sessions   *session.Sessions
	dispatcher Dispatcher
	opts       Options
	logger     *slog.Logger
}

// New creates an engine with explicitly injected collaborators.
func New(model llm.Streamer, history *session.History, sessions *session.Sessions,
	dispatcher Dispatcher, opts Options, logger *slog.Logger) *Engine {
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		model:      model,
		history:    history,
		sessions:   sessions,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.With("component", "engine"),
	}
}

// Respond generates and delivers the full response to one user input. The
// caller must have marked the session busy; Respond releases it on every
// path, including model failure.
func (e *Engine) Respond(ctx context.Context, userID, input string) (string, error) {
	defer func() {
		// Release must run even when ctx is already cancelled.
		releaseCtx := context.WithoutCancel(ctx)
		if err := e.sessions.Release(releaseCtx, userID); err != nil {
			e.logger.Error("failed to release session", "user", userID, "error", err)
		}
	}()

	prefix, err := e.sessions.TakeContext(ctx, userID)
	if err != nil {
		e.logger.Warn("attached context lookup failed", "user", userID, "error", err)
	}
	if prefix != "" {
		input = fmt.Sprintf("%s \"%s\"", prefix, input)
	}

	turns, err := e.history.Recent(ctx, userID, historyWindow)
	if err != nil {
		// A cold history degrades the answer, it does not block it.
		e.logger.Warn("history load failed", "user", userID, "error", err)
	}

	req := llm.Request{
		Model:       e.opts.Model,
		Messages:    buildMessages(turns, input),
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
	}

	var full strings.Builder
	buffer := ""

	streamErr := e.model.StreamChat(ctx, req, func(token string) {
		full.WriteString(token)

		seg, leftover, ok := segment.Split(buffer, token)
		buffer = leftover
		if !ok {
			return
		}
		if trimmed := strings.TrimSpace(seg); trimmed != "" {
			if err := e.dispatcher.Send(ctx, userID, trimmed, false); err != nil {
				e.logger.Debug("segment delivery failed", "user", userID, "error", err)
			}
		}
	})
	if streamErr != nil {
		e.logger.Error("model invocation failed", "user", userID, "error", streamErr)
		if err := e.dispatcher.Send(ctx, userID, apologyReply, false); err != nil {
			e.logger.Debug("apology delivery failed", "user", userID, "error", err)
		}
		return "", fmt.Errorf("model invocation: %w", streamErr)
	}

	// Flush whatever remains past the last boundary. The final flush carries
	// the voice option; mid-stream segments stay text-only.
	if trimmed := strings.TrimSpace(buffer); trimmed != "" {
		if err := e.dispatcher.Send(ctx, userID, trimmed, true); err != nil {
			e.logger.Debug("final segment delivery failed", "user", userID, "error", err)
		}
	}

	response := full.String()
	if err := e.history.Append(ctx, userID, input, response); err != nil {
		e.logger.Warn("history append failed", "user", userID, "error", err)
	}

	e.logger.Debug("response complete", "user", userID, "length", len(response))
	return response, nil
}
