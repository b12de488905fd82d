// Package llmtest provides a scripted chat model for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// Call records one GenerateContent invocation.
type Call struct {
	Messages    []llms.MessageContent
	Temperature float64
}

// FakeModel answers every call with Reply, or fails with Err. Respond, when
// set, takes precedence and can inspect the messages.
type FakeModel struct {
	Reply   string
	Err     error
	Respond func(messages []llms.MessageContent) (string, error)
	// Block makes calls wait for context cancellation.
	Block bool

	mu    sync.Mutex
	calls []Call
}

func (f *FakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	f.mu.Lock()
	f.calls = append(f.calls, Call{Messages: messages, Temperature: opts.Temperature})
	f.mu.Unlock()

	if f.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	reply, err := f.Reply, f.Err
	if f.Respond != nil {
		reply, err = f.Respond(messages)
	}
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (f *FakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func (f *FakeModel) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

func (f *FakeModel) LastCall() Call {
	calls := f.Calls()
	if len(calls) == 0 {
		return Call{}
	}
	return calls[len(calls)-1]
}

// Text returns the text of a message's parts.
func Text(m llms.MessageContent) string {
	var out string
	for _, p := range m.Parts {
		if tc, ok := p.(llms.TextContent); ok {
			out += tc.Text
		}
	}
	return out
}
