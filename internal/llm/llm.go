// ABOUTME: Chat-completion types and the streaming client interface.
// ABOUTME: Keeps the engine decoupled from the concrete model provider.

package llm

import "context"

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one streaming completion call. Sampling parameters are
// fixed per deployment to keep responses conversational-length.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// TokenFunc receives each emitted token in order. The stream is finite and
// not restartable.
type TokenFunc func(token string)

// Streamer invokes the language model in streaming mode, calling fn once per
// emitted token. It returns after the stream completes or fails; the client
// carries its own request timeout.
type Streamer interface {
	StreamChat(ctx context.Context, req Request, fn TokenFunc) error
}
