package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/memchat/internal/model/chat"
	"github.com/zhouzirui/memchat/internal/service/ai"
	"github.com/zhouzirui/memchat/internal/service/ai/aitest"
)

func newBridge(t *testing.T, fake *aitest.ScriptedModel, opts Options) *Bridge {
	t.Helper()
	svc, err := ai.NewService(fake, true)
	require.NoError(t, err)
	return New(svc, opts)
}

// drain reads ch to its terminal state.
func drain(t *testing.T, ch *Channel) ([]string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var tokens []string
	for {
		tok, err := ch.Recv(ctx)
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
	}
}

func TestStartStreamsTokensThenEnds(t *testing.T) {
	fake := aitest.New("Hel", "lo", " there")
	b := newBridge(t, fake, Options{})

	ch, err := b.Start(context.Background(), chat.Request{Persona: "You are Helpful.", Input: "Hi"})
	require.NoError(t, err)
	defer ch.Close()

	tokens, err := drain(t, ch)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, "Hello there", strings.Join(tokens, ""))

	inputs := fake.Inputs()
	require.Len(t, inputs, 1)
	require.Len(t, inputs[0], 2)
	require.Equal(t, schema.System, inputs[0][0].Role)
	require.Equal(t, "Hi", inputs[0][1].Content)
}

func TestStartRejectsUnknownMessageType(t *testing.T) {
	fake := aitest.New("never")
	b := newBridge(t, fake, Options{})

	ch, err := b.Start(context.Background(), chat.Request{
		Persona:      "p",
		Input:        "Hi",
		PastMessages: []chat.PastMessage{{Type: "robot", Text: "x"}},
	})
	require.Nil(t, ch)
	require.EqualError(t, err, "Unsupported message type: robot")

	var verr *chat.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Empty(t, fake.Inputs())
}

func TestStartAbortsAfterPartialOutput(t *testing.T) {
	fake := aitest.New("Hel", "lo")
	fake.Err = errors.New("upstream reset")
	b := newBridge(t, fake, Options{})

	ch, err := b.Start(context.Background(), chat.Request{Persona: "p", Input: "Hi"})
	require.NoError(t, err)
	defer ch.Close()

	tokens, err := drain(t, ch)
	require.Equal(t, []string{"Hel", "lo"}, tokens)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	require.ErrorContains(t, err, "upstream reset")
}

func TestStartAbortsWhenModelFailsToStart(t *testing.T) {
	fake := aitest.New()
	fake.StartErr = errors.New("connection refused")
	b := newBridge(t, fake, Options{})

	ch, err := b.Start(context.Background(), chat.Request{Persona: "p", Input: "Hi"})
	require.NoError(t, err)
	defer ch.Close()

	tokens, err := drain(t, ch)
	require.Empty(t, tokens)
	require.ErrorContains(t, err, "connection refused")
}

func TestConsumerCloseStopsGeneration(t *testing.T) {
	fake := aitest.New("a", "b", "c")
	fake.Step = make(chan struct{})
	b := newBridge(t, fake, Options{})

	ch, err := b.Start(context.Background(), chat.Request{Persona: "p", Input: "Hi"})
	require.NoError(t, err)

	fake.Step <- struct{}{}
	tok, err := ch.Recv(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", tok)

	ch.Close()

	select {
	case <-fake.Finished():
	case <-time.After(2 * time.Second):
		t.Fatal("generation kept running after the consumer left")
	}
	require.ErrorIs(t, fake.FinishErr(), context.Canceled)
}

func TestGenerationTimeoutAborts(t *testing.T) {
	fake := aitest.New("a")
	fake.Step = make(chan struct{})
	b := newBridge(t, fake, Options{Timeout: 20 * time.Millisecond})

	ch, err := b.Start(context.Background(), chat.Request{Persona: "p", Input: "Hi"})
	require.NoError(t, err)
	defer ch.Close()

	_, err = drain(t, ch)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorContains(t, err, "timed out")
}

func TestCallerCancelIsLoggedAsInfo(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	fake := aitest.New("a")
	fake.Step = make(chan struct{})
	b := newBridge(t, fake, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Start(ctx, chat.Request{Persona: "p", Input: "Hi"})
	require.NoError(t, err)
	defer ch.Close()

	cancel()
	_, err = drain(t, ch)
	require.ErrorIs(t, err, context.Canceled)

	out := buf.String()
	require.Contains(t, out, "generation cancelled by the caller")
	require.Contains(t, out, `"level":"info"`)
	require.NotContains(t, out, "generation failed")
}

type panickingGenerator struct{}

func (panickingGenerator) Prepare(context.Context, chat.PromptContext) ([]*schema.Message, error) {
	return nil, nil
}

func (panickingGenerator) Generate(context.Context, []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	panic("model exploded")
}

func TestGenerationPanicBecomesAbort(t *testing.T) {
	b := New(panickingGenerator{}, Options{})

	ch, err := b.Start(context.Background(), chat.Request{Persona: "p", Input: "Hi"})
	require.NoError(t, err)
	defer ch.Close()

	_, err = drain(t, ch)
	require.ErrorContains(t, err, "model exploded")
}

type failingPrepare struct{ panickingGenerator }

func (failingPrepare) Prepare(context.Context, chat.PromptContext) ([]*schema.Message, error) {
	return nil, errors.New("template broken")
}

func TestPrepareFailureOpensNoChannel(t *testing.T) {
	b := New(failingPrepare{}, Options{})

	ch, err := b.Start(context.Background(), chat.Request{Persona: "p", Input: "Hi"})
	require.Nil(t, ch)
	require.EqualError(t, err, "template broken")
}

func TestIndependentRequestsDoNotShareChannels(t *testing.T) {
	first := newBridge(t, aitest.New("one"), Options{})
	second := newBridge(t, aitest.New("two"), Options{})

	ch1, err := first.Start(context.Background(), chat.Request{Input: "1"})
	require.NoError(t, err)
	defer ch1.Close()
	ch2, err := second.Start(context.Background(), chat.Request{Input: "2"})
	require.NoError(t, err)
	defer ch2.Close()

	got2, err := drain(t, ch2)
	require.ErrorIs(t, err, io.EOF)
	got1, err := drain(t, ch1)
	require.ErrorIs(t, err, io.EOF)

	require.Equal(t, []string{"one"}, got1)
	require.Equal(t, []string{"two"}, got2)
}
