// ABOUTME: Tests for the conversation engine's streaming and state handling.
// ABOUTME: Validates segment ordering, busy release, context prefixing, and failure paths.

package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bellalabs/bella-gateway/internal/kv"
	"github.com/bellalabs/bella-gateway/internal/llm"
	"github.com/bellalabs/bella-gateway/internal/session"
)

type fakeStreamer struct {
	tokens  []string
	err     error
	lastReq llm.Request
}

func (f *fakeStreamer) StreamChat(_ context.Context, req llm.Request, fn llm.TokenFunc) error {
	f.lastReq = req
	for _, tok := range f.tokens {
		fn(tok)
	}
	return f.err
}

type sentSegment struct {
	text  string
	voice bool
}

type fakeDispatcher struct {
	segments []sentSegment
	err      error
}

func (f *fakeDispatcher) Send(_ context.Context, _, text string, withVoice bool) error {
	f.segments = append(f.segments, sentSegment{text: text, voice: withVoice})
	return f.err
}

type fixture struct {
	engine     *Engine
	sessions   *session.Sessions
	history    *session.History
	streamer   *fakeStreamer
	dispatcher *fakeDispatcher
}

func newFixture(t *testing.T, streamer *fakeStreamer) *fixture {
	t.Helper()
	store := kv.NewMemoryStore()
	t.Cleanup(store.Close)

	sessions := session.NewSessions(store)
	history := session.NewHistory(store)
	dispatcher := &fakeDispatcher{}

	return &fixture{
		engine:     New(streamer, history, sessions, dispatcher, Options{}, nil),
		sessions:   sessions,
		history:    history,
		streamer:   streamer,
		dispatcher: dispatcher,
	}
}

func TestRespond_SingleSegment(t *testing.T) {
	f := newFixture(t, &fakeStreamer{tokens: []string{"这个短语的意思是", "尽管困难重重。"}})
	ctx := context.Background()
	require.NoError(t, f.sessions.Acquire(ctx, "user-1"))

	full, err := f.engine.Respond(ctx, "user-1", "against all odds 是什么意思?")
	require.NoError(t, err)
	assert.Equal(t, "这个短语的意思是尽管困难重重。", full)

	require.Len(t, f.dispatcher.segments, 1)
	assert.Equal(t, "这个短语的意思是尽管困难重重。", f.dispatcher.segments[0].text)
	assert.True(t, f.dispatcher.segments[0].voice)
}

func TestRespond_SplitsAtParagraphBoundaries(t *testing.T) {
	first := strings.Repeat("解", 25)
	second := "比如这个例子"
	f := newFixture(t, &fakeStreamer{tokens: []string{first, "\n\n", second}})
	ctx := context.Background()
	require.NoError(t, f.sessions.Acquire(ctx, "user-1"))

	full, err := f.engine.Respond(ctx, "user-1", "问题")
	require.NoError(t, err)
	assert.Equal(t, first+"\n\n"+second, full)

	require.Len(t, f.dispatcher.segments, 2)
	assert.Equal(t, first, f.dispatcher.segments[0].text)
	assert.False(t, f.dispatcher.segments[0].voice)
	assert.Equal(t, second, f.dispatcher.segments[1].text)
	assert.True(t, f.dispatcher.segments[1].voice)
}

func TestRespond_SegmentsConcatenateToFullOutput(t *testing.T) {
	tokens := []string{strings.Repeat("a", 30), "\n\n", strings.Repeat("b", 30), "\n\n", "tail text"}
	f := newFixture(t, &fakeStreamer{tokens: tokens})
	ctx := context.Background()
	require.NoError(t, f.sessions.Acquire(ctx, "user-1"))

	full, err := f.engine.Respond(ctx, "user-1", "q")
	require.NoError(t, err)

	var delivered []string
	for _, seg := range f.dispatcher.segments {
		delivered = append(delivered, seg.text)
	}
	assert.Equal(t, full, strings.Join(delivered, "\n\n"))
}

func TestRespond_ReleasesSessionOnSuccess(t *testing.T) {
	f := newFixture(t, &fakeStreamer{tokens: []string{"短回答"}})
	ctx := context.Background()
	require.NoError(t, f.sessions.Acquire(ctx, "user-1"))

	_, err := f.engine.Respond(ctx, "user-1", "q")
	require.NoError(t, err)

	status, err := f.sessions.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusListening, status)
}

func TestRespond_ReleasesSessionOnModelFailure(t *testing.T) {
	f := newFixture(t, &fakeStreamer{err: errors.New("model timeout")})
	ctx := context.Background()
	require.NoError(t, f.sessions.Acquire(ctx, "user-1"))

	_, err := f.engine.Respond(ctx, "user-1", "q")
	require.Error(t, err)

	status, err := f.sessions.Status(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusListening, status)

	// The user gets an apology, not silence
	require.Len(t, f.dispatcher.segments, 1)
	assert.Equal(t, apologyReply, f.dispatcher.segments[0].text)
}

func TestRespond_ConsumesAttachedContext(t *testing.T) {
	f := newFixture(t, &fakeStreamer{tokens: []string{"回答"}})
	ctx := context.Background()
	require.NoError(t, f.sessions.AttachContext(ctx, "user-1", "这句话是什么意思?"))
	require.NoError(t, f.sessions.Acquire(ctx, "user-1"))

	_, err := f.engine.Respond(ctx, "user-1", "break a leg")
	require.NoError(t, err)

	// The prefixed input went to the model...
	last := f.streamer.lastReq.Messages[len(f.streamer.lastReq.Messages)-1]
	assert.Equal(t, `这句话是什么意思? "break a leg"`, last.Content)

	// ...and the context is consumed
	prefix, err := f.sessions.TakeContext(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, prefix)
}

func TestRespond_AppendsHistory(t *testing.T) {
	f := newFixture(t, &fakeStreamer{tokens: []string{"回答内容"}})
	ctx := context.Background()
	require.NoError(t, f.sessions.Acquire(ctx, "user-1"))

	_, err := f.engine.Respond(ctx, "user-1", "问题内容")
	require.NoError(t, err)

	turns, err := f.history.Recent(ctx, "user-1", 3)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, session.Turn{Role: session.RoleStudent, Text: "问题内容"}, turns[0])
	assert.Equal(t, session.Turn{Role: session.RoleAssistant, Text: "回答内容"}, turns[1])
}

func TestRespond_NoHistoryAppendOnFailure(t *testing.T) {
	f := newFixture(t, &fakeStreamer{err: errors.New("quota exceeded")})
	ctx := context.Background()
	require.NoError(t, f.sessions.Acquire(ctx, "user-1"))

	_, err := f.engine.Respond(ctx, "user-1", "q")
	require.Error(t, err)

	turns, err := f.history.Recent(ctx, "user-1", 3)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestRespond_HistoryIncludedInPrompt(t *testing.T) {
	f := newFixture(t, &fakeStreamer{tokens: []string{"second answer"}})
	ctx := context.Background()
	require.NoError(t, f.history.Append(ctx, "user-1", "first question", "first answer"))
	require.NoError(t, f.sessions.Acquire(ctx, "user-1"))

	_, err := f.engine.Respond(ctx, "user-1", "second question")
	require.NoError(t, err)

	msgs := f.streamer.lastReq.Messages
	require.GreaterOrEqual(t, len(msgs), 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "first question", msgs[len(msgs)-3].Content)
	assert.Equal(t, "first answer", msgs[len(msgs)-2].Content)
	assert.Equal(t, "second question", msgs[len(msgs)-1].Content)
}

func TestRespond_DispatchFailureDoesNotAbortStream(t *testing.T) {
	tokens := []string{strings.Repeat("a", 30), "\n\n", "rest of the answer"}
	f := newFixture(t, &fakeStreamer{tokens: tokens})
	f.dispatcher.err = errors.New("delivery failed")
	ctx := context.Background()
	require.NoError(t, f.sessions.Acquire(ctx, "user-1"))

	full, err := f.engine.Respond(ctx, "user-1", "q")
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{strings.Repeat("a", 30), "rest of the answer"}, "\n\n"), full)
	assert.Len(t, f.dispatcher.segments, 2)
}

func TestNew_DefaultOptions(t *testing.T) {
	f := newFixture(t, &fakeStreamer{tokens: []string{"ok"}})
	ctx := context.Background()
	require.NoError(t, f.sessions.Acquire(ctx, "user-1"))

	_, err := f.engine.Respond(ctx, "user-1", "q")
	require.NoError(t, err)

	assert.Equal(t, defaultModel, f.streamer.lastReq.Model)
	assert.InDelta(t, defaultTemperature, f.streamer.lastReq.Temperature, 0.001)
	assert.Equal(t, defaultMaxTokens, f.streamer.lastReq.MaxTokens)
}
