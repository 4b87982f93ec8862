// ABOUTME: Tests for the bot session controller.
// ABOUTME: Validates the busy gate, menu click flows, and voice message handling.

package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bellalabs/bella-gateway/internal/kv"
	"github.com/bellalabs/bella-gateway/internal/session"
	"github.com/bellalabs/bella-gateway/internal/store"
	"github.com/bellalabs/bella-gateway/internal/wechat"
)

type fakeResponder struct {
	mu     sync.Mutex
	inputs []string
	users  []string
}

func (f *fakeResponder) Respond(_ context.Context, userID, input string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	f.inputs = append(f.inputs, input)
	return "answer", nil
}

type fakeRepeater struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeRepeater) SendVoiceOf(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

type fakeBotPlatform struct {
	typingSent int
	media      []byte
	mediaErr   error
}

func (f *fakeBotPlatform) SendTyping(context.Context, string) error {
	f.typingSent++
	return nil
}

func (f *fakeBotPlatform) FetchMedia(context.Context, string) ([]byte, error) {
	if f.mediaErr != nil {
		return nil, f.mediaErr
	}
	return f.media, nil
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(context.Context, string, []byte) (string, error) {
	return f.text, f.err
}

type fakeBotLedger struct {
	store.Ledger
	mu       sync.Mutex
	messages []*store.Message
	latest   *store.Message
}

func (f *fakeBotLedger) GetOrCreateUser(_ context.Context, name string) (*store.User, error) {
	return &store.User{ID: name, Name: name}, nil
}

func (f *fakeBotLedger) AppendMessage(_ context.Context, msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeBotLedger) LatestMessageTo(context.Context, string) (*store.Message, error) {
	if f.latest == nil {
		return nil, store.ErrNotFound
	}
	return f.latest, nil
}

type botFixture struct {
	controller  *Controller
	sessions    *session.Sessions
	responder   *fakeResponder
	repeater    *fakeRepeater
	platform    *fakeBotPlatform
	transcriber *fakeTranscriber
	ledger      *fakeBotLedger
}

func newBotFixture(t *testing.T) *botFixture {
	t.Helper()
	kvStore := kv.NewMemoryStore()
	t.Cleanup(kvStore.Close)

	f := &botFixture{
		sessions:    session.NewSessions(kvStore),
		responder:   &fakeResponder{},
		repeater:    &fakeRepeater{},
		platform:    &fakeBotPlatform{},
		transcriber: &fakeTranscriber{},
		ledger:      &fakeBotLedger{},
	}
	f.controller = New(f.sessions, f.ledger, f.responder, f.repeater,
		f.platform, f.transcriber, nil)
	return f
}

func textEvent(sender, content string) Event {
	return Event{Sender: sender, MsgType: wechat.MsgTypeText, Content: content}
}

func clickEvent(sender, key string) Event {
	return Event{Sender: sender, MsgType: wechat.MsgTypeEvent, Event: wechat.EventClick, EventKey: key}
}

func TestHandleEvent_TextMessage(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	reply, err := f.controller.HandleEvent(ctx, textEvent("openid-1", "bite the bullet 是什么意思?"))
	require.NoError(t, err)
	assert.Equal(t, replyAccepted, reply)

	f.controller.Wait()
	assert.Equal(t, []string{"bite the bullet 是什么意思?"}, f.responder.inputs)
	assert.Equal(t, []string{"openid-1"}, f.responder.users)

	// Inbound message is in the ledger, typing indicator was attempted
	require.Len(t, f.ledger.messages, 1)
	assert.Equal(t, "openid-1", f.ledger.messages[0].Sender)
	assert.Equal(t, store.UserAssistant, f.ledger.messages[0].Receiver)
	assert.Equal(t, 1, f.platform.typingSent)
}

func TestHandleEvent_TextLeavesSessionBusy(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	_, err := f.controller.HandleEvent(ctx, textEvent("openid-1", "question"))
	require.NoError(t, err)
	f.controller.Wait()

	// The responder owns the release; the fake never releases.
	status, err := f.sessions.Status(ctx, "openid-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusBusy, status)
}

func TestHandleEvent_BusyRejectsWithoutTouchingState(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sessions.AttachContext(ctx, "openid-1", contextExplain))
	require.NoError(t, f.sessions.Acquire(ctx, "openid-1"))

	reply, err := f.controller.HandleEvent(ctx, textEvent("openid-1", "another question"))
	require.NoError(t, err)
	assert.Equal(t, replyBusy, reply)

	// Still busy, attached context untouched, nothing dispatched
	status, err := f.sessions.Status(ctx, "openid-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusBusy, status)

	prefix, err := f.sessions.TakeContext(ctx, "openid-1")
	require.NoError(t, err)
	assert.Equal(t, contextExplain, prefix)

	f.controller.Wait()
	assert.Empty(t, f.responder.inputs)
}

func TestHandleEvent_Subscribe(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	reply, err := f.controller.HandleEvent(ctx, Event{
		Sender: "openid-1", MsgType: wechat.MsgTypeEvent, Event: wechat.EventSubscribe,
	})
	require.NoError(t, err)
	assert.Equal(t, IntroMessage, reply)

	status, err := f.sessions.Status(ctx, "openid-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusListening, status)
}

func TestHandleEvent_TutorialClick(t *testing.T) {
	f := newBotFixture(t)

	reply, err := f.controller.HandleEvent(context.Background(), clickEvent("openid-1", keyTutorial))
	require.NoError(t, err)
	assert.Equal(t, IntroMessage, reply)
}

func TestHandleEvent_ExplainClickAttachesContext(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	reply, err := f.controller.HandleEvent(ctx, clickEvent("openid-1", keyExplain))
	require.NoError(t, err)
	assert.Equal(t, replyExplain, reply)

	prefix, err := f.sessions.TakeContext(ctx, "openid-1")
	require.NoError(t, err)
	assert.Equal(t, contextExplain, prefix)

	status, err := f.sessions.Status(ctx, "openid-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusListening, status)
}

// flakyStore fails selected Set calls (1-based) and delegates the rest.
type flakyStore struct {
	kv.Store
	calls  int
	failOn map[int]bool
}

func (s *flakyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.calls++
	if s.failOn[s.calls] {
		return errors.New("kv write failed")
	}
	return s.Store.Set(ctx, key, value, ttl)
}

func TestHandleEvent_ExplainClickWriteFailureReleasesSession(t *testing.T) {
	kvStore := kv.NewMemoryStore()
	t.Cleanup(kvStore.Close)

	// First write (acquire) succeeds, second (attach context) fails.
	flaky := &flakyStore{Store: kvStore, failOn: map[int]bool{2: true}}
	sessions := session.NewSessions(flaky)
	controller := New(sessions, &fakeBotLedger{}, &fakeResponder{}, &fakeRepeater{},
		&fakeBotPlatform{}, &fakeTranscriber{}, nil)

	_, err := controller.HandleEvent(context.Background(), clickEvent("openid-1", keyExplain))
	require.Error(t, err)

	// Nothing runs in the background for a menu click, so the error path must
	// not leave the user stuck busy.
	status, err := sessions.Status(context.Background(), "openid-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusListening, status)
}

func TestHandleEvent_EnglishEquivalentClick(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	reply, err := f.controller.HandleEvent(ctx, clickEvent("openid-1", keyEnglish))
	require.NoError(t, err)
	assert.Equal(t, replyEnglish, reply)

	prefix, err := f.sessions.TakeContext(ctx, "openid-1")
	require.NoError(t, err)
	assert.Equal(t, contextEnglish, prefix)
}

func TestHandleEvent_SimilarClick(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()
	require.NoError(t, f.sessions.AttachContext(ctx, "openid-1", contextExplain))

	reply, err := f.controller.HandleEvent(ctx, clickEvent("openid-1", keySimilar))
	require.NoError(t, err)
	assert.Equal(t, replySimilar, reply)

	f.controller.Wait()
	assert.Equal(t, []string{promptSimilar}, f.responder.inputs)

	// Stale attached context is discarded, not applied to the fixed prompt
	prefix, err := f.sessions.TakeContext(ctx, "openid-1")
	require.NoError(t, err)
	assert.Empty(t, prefix)
}

func TestHandleEvent_RepeatWithVoice(t *testing.T) {
	f := newBotFixture(t)
	f.ledger.latest = &store.Message{
		Sender:   store.UserBot,
		Receiver: "openid-1",
		Content:  `你可以说 "I would like to practice my English every day."`,
	}

	reply, err := f.controller.HandleEvent(context.Background(), clickEvent("openid-1", keyVoice))
	require.NoError(t, err)
	assert.Equal(t, replyVoiceAck, reply)

	f.controller.Wait()
	assert.Equal(t, []string{f.ledger.latest.Content}, f.repeater.texts)

	// Released once the repeat finishes
	status, err := f.sessions.Status(context.Background(), "openid-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusListening, status)
}

func TestHandleEvent_RepeatWithVoice_NothingToRepeat(t *testing.T) {
	f := newBotFixture(t)

	reply, err := f.controller.HandleEvent(context.Background(), clickEvent("openid-1", keyVoice))
	require.NoError(t, err)
	assert.Equal(t, replyNoRepeat, reply)

	f.controller.Wait()
	assert.Empty(t, f.repeater.texts)
}

func TestHandleEvent_RepeatWithVoice_TooShort(t *testing.T) {
	f := newBotFixture(t)
	f.ledger.latest = &store.Message{Sender: store.UserBot, Content: "好的"}

	reply, err := f.controller.HandleEvent(context.Background(), clickEvent("openid-1", keyVoice))
	require.NoError(t, err)
	assert.Equal(t, replyNoRepeat, reply)
}

func TestHandleEvent_RepeatWithVoice_SystemMessageSkipped(t *testing.T) {
	f := newBotFixture(t)
	f.ledger.latest = &store.Message{
		Sender:  store.UserSystem,
		Content: "a system notice long enough to repeat",
	}

	reply, err := f.controller.HandleEvent(context.Background(), clickEvent("openid-1", keyVoice))
	require.NoError(t, err)
	assert.Equal(t, replyNoRepeat, reply)
}

func TestHandleEvent_VoiceMessageWithRecognition(t *testing.T) {
	f := newBotFixture(t)

	reply, err := f.controller.HandleEvent(context.Background(), Event{
		Sender:      "openid-1",
		MsgType:     wechat.MsgTypeVoice,
		MediaID:     "media-9",
		Recognition: "how are you 是什么意思",
	})
	require.NoError(t, err)
	assert.Equal(t, replyAccepted, reply)

	f.controller.Wait()
	assert.Equal(t, []string{"how are you 是什么意思"}, f.responder.inputs)
}

func TestHandleEvent_VoiceMessageTranscribed(t *testing.T) {
	f := newBotFixture(t)
	f.platform.media = []byte("amr-bytes")
	f.transcriber.text = "解释一下 break the ice"

	reply, err := f.controller.HandleEvent(context.Background(), Event{
		Sender: "openid-1", MsgType: wechat.MsgTypeVoice, MediaID: "media-9",
	})
	require.NoError(t, err)
	assert.Equal(t, replyAccepted, reply)

	f.controller.Wait()
	assert.Equal(t, []string{"解释一下 break the ice"}, f.responder.inputs)
}

func TestHandleEvent_VoiceMessageTranscriptionFails(t *testing.T) {
	f := newBotFixture(t)
	f.platform.media = []byte("amr-bytes")
	f.transcriber.err = errors.New("stt unavailable")

	reply, err := f.controller.HandleEvent(context.Background(), Event{
		Sender: "openid-1", MsgType: wechat.MsgTypeVoice, MediaID: "media-9",
	})
	require.NoError(t, err)
	assert.Equal(t, replyBadVoice, reply)

	status, err := f.sessions.Status(context.Background(), "openid-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusListening, status)
}

func TestHandleEvent_UnknownEvent(t *testing.T) {
	f := newBotFixture(t)

	reply, err := f.controller.HandleEvent(context.Background(), Event{
		Sender: "openid-1", MsgType: "image",
	})
	require.NoError(t, err)
	assert.Equal(t, replyConfused, reply)

	status, err := f.sessions.Status(context.Background(), "openid-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusListening, status)
}
