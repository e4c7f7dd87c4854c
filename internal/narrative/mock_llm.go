package narrative

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockLLM is a deterministic LLM implementation for testing.
// It returns predictable responses based on message content.
type MockLLM struct {
	// Response is the fixed text returned by Chat.
	// If empty, a default response is generated from the messages.
	Response string

	// Error, if set, is returned by Chat instead of a response.
	Error error

	// Handler, if set, takes precedence over Response and Error.
	Handler func(ctx context.Context, messages []Message, opts Options) (string, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one Chat invocation.
type MockCall struct {
	Messages []Message
	Options  Options
}

// NewMockLLM creates a mock LLM with the given fixed response.
func NewMockLLM(response string) *MockLLM {
	return &MockLLM{Response: response}
}

// NewMockLLMWithError creates a mock LLM that always returns an error.
func NewMockLLMWithError(err error) *MockLLM {
	return &MockLLM{Error: err}
}

// Chat returns the configured response or generates a deterministic one.
func (m *MockLLM) Chat(ctx context.Context, messages []Message, opts Options) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Messages: append([]Message(nil), messages...), Options: opts})
	m.mu.Unlock()

	if m.Handler != nil {
		return m.Handler(ctx, messages, opts)
	}
	if m.Error != nil {
		return "", m.Error
	}
	if m.Response != "" {
		return m.Response, nil
	}
	return generateMockResponse(messages), nil
}

// Calls returns a copy of every recorded invocation.
func (m *MockLLM) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// CallCount returns the number of Chat invocations.
func (m *MockLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// LastMessages returns the messages of the most recent call.
func (m *MockLLM) LastMessages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1].Messages
}

// LastPrompt returns the content of the final message of the most recent call.
func (m *MockLLM) LastPrompt() string {
	msgs := m.LastMessages()
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}

// generateMockResponse echoes the final user message.
func generateMockResponse(messages []Message) string {
	var last string
	for _, msg := range messages {
		if msg.Role == RoleUser {
			last = msg.Content
		}
	}
	if len(last) > 80 {
		last = last[:80]
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("The council considers your words: %q. ", strings.TrimSpace(last)))
	b.WriteString("Delegates exchange glances as the talks continue.")
	return b.String()
}
