// ABOUTME: Bot session controller mapping webhook events to replies and background work.
// ABOUTME: Enforces the busy gate so one user never has two responses in flight.

package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bellalabs/bella-gateway/internal/session"
	"github.com/bellalabs/bella-gateway/internal/store"
	"github.com/bellalabs/bella-gateway/internal/wechat"
)

// Menu event keys understood by the controller. They must match the keys
// pushed with the account menu.
const (
	keyTutorial = wechat.MenuKeyTutorial
	keyExplain  = wechat.MenuKeyExplain
	keyEnglish  = wechat.MenuKeyEnglish
	keySimilar  = wechat.MenuKeySimilar
	keyVoice    = wechat.MenuKeyVoice
)

// Canned synchronous replies. The webhook must answer within the platform's
// deadline, so everything slow happens after one of these is returned.
const (
	replyBusy      = "我现在忙着，请稍等"
	replyAccepted  = "稍等..."
	replyExplain   = "[帮我解释下面这个英文句子]\n\n好的，你要我解释什么英文句子？直接发给我就行了"
	replyEnglish   = "[怎么用英文表达下面这个句话?]\n\n你想用英文表达什么话？直接发我中文句子就行了"
	replySimilar   = "[教我一句相关的英文]\n\n好的，让我想想一句相关的英文词或句子..."
	replyVoiceAck  = "稍等，我来用语音重复一遍"
	replyNoRepeat  = "对不起，没有话需要用语音重复。你有任何关于英文的问题吗?"
	replyConfused  = "对不起， 我不懂"
	replyBadVoice  = "对不起，我没听清楚，请再说一遍或者打字发给我。"
	promptSimilar  = "教我一个跟最近问的相关的英文词或句子"
	contextExplain = "这句话是什么意思?"
	contextEnglish = "怎么用英文表达这句话?"
)

// IntroMessage greets new followers and answers the tutorial menu click.
const IntroMessage = `你好！我是 Bella，你的私人英语助手，帮你理解日常生活中遇到的任何有关英语的问题。你可以使用菜单下的功能：

[翻译解释] - 我帮你翻译或者解释某个英文词或句子
[英文表达] - 我来教你用英文表达某句中文话
[教我相关词] - 我会教你一句跟你之前问过相关的英语短语
[用语音重复] - 我用语音重复我最近发给你的信息

并且你可以直接问我问题， 比如:
1. bite the bullet 是什么意思?
2. 怎么用英文说 "我这几天有点不舒服，明天可能来不了你的家"?
3. 解释一下这句话: I'm looking forward to our meeting tomorrow.

你有什么关于英语的问题吗?`

// minRepeatRunes is the shortest message worth repeating with voice.
const minRepeatRunes = 5

// Event is one normalized inbound webhook event.
type Event struct {
	Sender      string
	MsgType     string
	Content     string
	Event       string
	EventKey    string
	MediaID     string
	Recognition string
}

// Responder generates and delivers the full answer to one user input.
type Responder interface {
	Respond(ctx context.Context, userID, input string) (string, error)
}

// VoiceRepeater delivers a voice-only rendition of text.
type VoiceRepeater interface {
	SendVoiceOf(ctx context.Context, userID, text string) error
}

// Platform is what the controller needs from the messaging platform beyond
// what the dispatcher already covers.
type Platform interface {
	SendTyping(ctx context.Context, toUser string) error
	FetchMedia(ctx context.Context, mediaID string) ([]byte, error)
}

// Transcriber converts recorded audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

// Controller decides, per inbound event, what to reply synchronously and what
// to run in the background. It owns the busy gate: a user whose response is
// still being generated is told to wait and their session state is left alone.
type Controller struct {
	sessions    *session.Sessions
	ledger      store.Ledger
	responder   Responder
	repeater    VoiceRepeater
	platform    Platform
	transcriber Transcriber
	logger      *slog.Logger

	wg sync.WaitGroup
}

// New creates a controller. repeater and transcriber may be nil when voice is
// disabled; the corresponding flows then degrade to apologies.
func New(sessions *session.Sessions, ledger store.Ledger, responder Responder,
	repeater VoiceRepeater, platform Platform, transcriber Transcriber,
	logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		sessions:    sessions,
		ledger:      ledger,
		responder:   responder,
		repeater:    repeater,
		platform:    platform,
		transcriber: transcriber,
		logger:      logger.With("component", "bot"),
	}
}

// Wait blocks until all background response tasks have finished. Used during
// graceful shutdown.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// HandleEvent processes one inbound event and returns the synchronous reply
// text. Long-running work (model calls, synthesis) is started in the
// background; the returned reply is always immediate.
func (c *Controller) HandleEvent(ctx context.Context, ev Event) (string, error) {
	status, err := c.sessions.Status(ctx, ev.Sender)
	if err != nil {
		return "", err
	}
	if status == session.StatusBusy {
		// Reject without touching state: the in-flight task owns the release.
		return replyBusy, nil
	}

	if err := c.sessions.Acquire(ctx, ev.Sender); err != nil {
		return "", err
	}

	if _, err := c.ledger.GetOrCreateUser(ctx, ev.Sender); err != nil {
		c.logger.Warn("user lookup failed", "user", ev.Sender, "error", err)
	}

	switch {
	case ev.Event == wechat.EventSubscribe:
		return c.replyAndRelease(ctx, ev.Sender, IntroMessage)

	case ev.Event == wechat.EventClick && ev.EventKey == keyTutorial:
		return c.replyAndRelease(ctx, ev.Sender, IntroMessage)

	case ev.Event == wechat.EventClick && ev.EventKey == keyExplain:
		return c.attachAndRelease(ctx, ev.Sender, contextExplain, replyExplain)

	case ev.Event == wechat.EventClick && ev.EventKey == keyEnglish:
		return c.attachAndRelease(ctx, ev.Sender, contextEnglish, replyEnglish)

	case ev.Event == wechat.EventClick && ev.EventKey == keySimilar:
		return c.handleSimilar(ctx, ev)

	case ev.Event == wechat.EventClick && ev.EventKey == keyVoice:
		return c.handleRepeatWithVoice(ctx, ev)

	case ev.MsgType == wechat.MsgTypeText && ev.Content != "":
		return c.handleText(ctx, ev.Sender, ev.Content)

	case ev.MsgType == wechat.MsgTypeVoice:
		return c.handleVoice(ctx, ev)
	}

	return c.replyAndRelease(ctx, ev.Sender, replyConfused)
}

// handleText accepts a free-text question: record it, hint at typing, and
// answer in the background. The busy lock stays held until the responder
// finishes.
func (c *Controller) handleText(ctx context.Context, sender, content string) (string, error) {
	if err := c.ledger.AppendMessage(ctx, &store.Message{
		ID:       uuid.New().String(),
		Sender:   sender,
		Receiver: store.UserAssistant,
		Content:  content,
		Kind:     store.KindText,
	}); err != nil {
		c.logger.Warn("inbound ledger write failed", "user", sender, "error", err)
	}

	if err := c.platform.SendTyping(ctx, sender); err != nil {
		c.logger.Debug("typing indicator failed", "user", sender, "error", err)
	}

	c.inBackground(func(bg context.Context) {
		if _, err := c.responder.Respond(bg, sender, content); err != nil {
			c.logger.Error("response task failed", "user", sender, "error", err)
		}
	})
	return replyAccepted, nil
}

// handleVoice turns a recorded voice message into text and continues as a
// text question. The platform's own recognition result is used when present;
// otherwise the recording is fetched and transcribed.
func (c *Controller) handleVoice(ctx context.Context, ev Event) (string, error) {
	if ev.Recognition != "" {
		return c.handleText(ctx, ev.Sender, ev.Recognition)
	}
	if c.transcriber == nil || ev.MediaID == "" {
		return c.replyAndRelease(ctx, ev.Sender, replyBadVoice)
	}

	audio, err := c.platform.FetchMedia(ctx, ev.MediaID)
	if err != nil {
		c.logger.Warn("media fetch failed", "user", ev.Sender, "error", err)
		return c.replyAndRelease(ctx, ev.Sender, replyBadVoice)
	}

	text, err := c.transcriber.Transcribe(ctx, "question.amr", audio)
	if err != nil || text == "" {
		c.logger.Warn("transcription failed", "user", ev.Sender, "error", err)
		return c.replyAndRelease(ctx, ev.Sender, replyBadVoice)
	}

	return c.handleText(ctx, ev.Sender, text)
}

// handleSimilar asks the model for something related to the recent exchange.
// Any pending attached context is stale at this point and discarded.
func (c *Controller) handleSimilar(ctx context.Context, ev Event) (string, error) {
	if err := c.sessions.ClearContext(ctx, ev.Sender); err != nil {
		c.logger.Warn("context clear failed", "user", ev.Sender, "error", err)
	}

	c.inBackground(func(bg context.Context) {
		if _, err := c.responder.Respond(bg, ev.Sender, promptSimilar); err != nil {
			c.logger.Error("response task failed", "user", ev.Sender, "error", err)
		}
	})
	return replySimilar, nil
}

// handleRepeatWithVoice replays the latest delivered message as audio. Short
// or system-sent messages are not worth repeating.
func (c *Controller) handleRepeatWithVoice(ctx context.Context, ev Event) (string, error) {
	if c.repeater == nil {
		return c.replyAndRelease(ctx, ev.Sender, replyNoRepeat)
	}

	latest, err := c.ledger.LatestMessageTo(ctx, ev.Sender)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		c.logger.Warn("latest message lookup failed", "user", ev.Sender, "error", err)
	}
	if latest == nil || utf8.RuneCountInString(latest.Content) < minRepeatRunes ||
		latest.Sender == store.UserSystem {
		return c.replyAndRelease(ctx, ev.Sender, replyNoRepeat)
	}

	content := latest.Content
	c.inBackground(func(bg context.Context) {
		defer c.release(bg, ev.Sender)
		if err := c.repeater.SendVoiceOf(bg, ev.Sender, content); err != nil {
			c.logger.Error("voice repeat failed", "user", ev.Sender, "error", err)
		}
	})
	return replyVoiceAck, nil
}

func (c *Controller) attachAndRelease(ctx context.Context, sender, prefix, reply string) (string, error) {
	if err := c.sessions.AttachContext(ctx, sender, prefix); err != nil {
		// No background task exists on this path, so nothing else will ever
		// release the busy lock; at least attempt it before failing.
		c.release(ctx, sender)
		return "", err
	}
	return c.replyAndRelease(ctx, sender, reply)
}

// replyAndRelease answers synchronously and returns the session to listening:
// nothing is running in the background for this user.
func (c *Controller) replyAndRelease(ctx context.Context, sender, reply string) (string, error) {
	c.release(ctx, sender)
	return reply, nil
}

func (c *Controller) release(ctx context.Context, sender string) {
	if err := c.sessions.Release(ctx, sender); err != nil {
		c.logger.Error("failed to release session", "user", sender, "error", err)
	}
}

// inBackground runs fn detached from the webhook request's context, tracked
// for graceful shutdown.
func (c *Controller) inBackground(fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(context.Background())
	}()
}
