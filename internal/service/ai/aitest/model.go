// Package aitest provides a scripted chat model for tests.
package aitest

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ScriptedModel replays fixed tokens through an eino stream, optionally
// followed by an error. Stream may be called once per model.
type ScriptedModel struct {
	Tokens []string
	// Err is delivered after the last token.
	Err error
	// StartErr fails Stream/Generate before any token.
	StartErr error
	// Step, when set, must receive once before each token is emitted.
	Step chan struct{}

	mu        sync.Mutex
	inputs    [][]*schema.Message
	once      sync.Once
	finished  chan struct{}
	finishErr error
}

var _ model.BaseChatModel = (*ScriptedModel)(nil)

// New returns a model that streams tokens and ends normally.
func New(tokens ...string) *ScriptedModel {
	return &ScriptedModel{Tokens: tokens}
}

// Generate returns all tokens joined as one message.
func (m *ScriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.record(input)
	if m.StartErr != nil {
		return nil, m.StartErr
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return schema.AssistantMessage(strings.Join(m.Tokens, ""), nil), nil
}

// Stream emits the scripted tokens from a background goroutine.
func (m *ScriptedModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.record(input)
	m.init()
	if m.StartErr != nil {
		m.finish(m.StartErr)
		return nil, m.StartErr
	}

	sr, sw := schema.Pipe[*schema.Message](0)
	go func() {
		defer sw.Close()
		for _, token := range m.Tokens {
			if m.Step != nil {
				select {
				case <-m.Step:
				case <-ctx.Done():
					sw.Send(nil, ctx.Err())
					m.finish(ctx.Err())
					return
				}
			}
			if closed := sw.Send(schema.AssistantMessage(token, nil), nil); closed {
				m.finish(context.Canceled)
				return
			}
		}
		if m.Err != nil {
			sw.Send(nil, m.Err)
		}
		m.finish(m.Err)
	}()
	return sr, nil
}

// Finished is closed once the streaming goroutine has returned.
func (m *ScriptedModel) Finished() <-chan struct{} {
	m.init()
	return m.finished
}

// FinishErr reports how the last stream ended. Valid after Finished.
func (m *ScriptedModel) FinishErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finishErr
}

// Inputs returns every prompt the model received.
func (m *ScriptedModel) Inputs() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.inputs...)
}

func (m *ScriptedModel) init() {
	m.once.Do(func() { m.finished = make(chan struct{}) })
}

func (m *ScriptedModel) finish(err error) {
	m.mu.Lock()
	m.finishErr = err
	m.mu.Unlock()
	close(m.finished)
}

func (m *ScriptedModel) record(input []*schema.Message) {
	m.mu.Lock()
	m.inputs = append(m.inputs, input)
	m.mu.Unlock()
}
