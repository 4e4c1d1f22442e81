package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/memchat/internal/model/chat"
)

// Generator is the model capability the bridge consumes.
type Generator interface {
	// Prepare builds the model prompt. Failures here happen before any
	// stream is opened.
	Prepare(ctx context.Context, pc chat.PromptContext) ([]*schema.Message, error)
	// Generate starts producing chunks for prompt.
	Generate(ctx context.Context, prompt []*schema.Message) (*schema.StreamReader[*schema.Message], error)
}

// Options tunes every channel the bridge opens.
type Options struct {
	// Buffer is the channel capacity; 0 means strict hand-off.
	Buffer int
	// Timeout bounds a generation; 0 disables the limit.
	Timeout time.Duration
}

// Bridge turns a generator's chunk stream into per-request token channels.
type Bridge struct {
	gen  Generator
	opts Options
}

// New creates a Bridge backed by gen.
func New(gen Generator, opts Options) *Bridge {
	return &Bridge{gen: gen, opts: opts}
}

// Start validates req, prepares the prompt and launches generation. Errors
// are returned only when no channel was opened; after that every failure is
// delivered through the channel. The caller must Close the channel.
func (b *Bridge) Start(ctx context.Context, req chat.Request) (*Channel, error) {
	pc, err := req.PromptContext()
	if err != nil {
		return nil, err
	}

	prompt, err := b.gen.Prepare(ctx, pc)
	if err != nil {
		return nil, err
	}

	var (
		genCtx context.Context
		cancel context.CancelFunc
	)
	if b.opts.Timeout > 0 {
		genCtx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
	} else {
		genCtx, cancel = context.WithCancel(ctx)
	}

	ch := newChannel(b.opts.Buffer, cancel)
	logger := log.With().
		Str("component", "bridge").
		Str("stream_id", uuid.NewString()).
		Int("history", len(pc.History)).
		Logger()

	go b.run(genCtx, cancel, ch, prompt, logger)
	return ch, nil
}

func (b *Bridge) run(ctx context.Context, cancel context.CancelFunc, ch *Channel, prompt []*schema.Message, logger zerolog.Logger) {
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("generation task panicked")
			_ = ch.emit(ctx, Failure(fmt.Errorf("generation panicked: %v", r)))
		}
	}()

	started := time.Now()
	tokens, ev := b.relay(ctx, ch, prompt)

	switch {
	case ev.Kind == EventEnd:
		logger.Debug().Int("tokens", tokens).Dur("elapsed", time.Since(started)).Msg("generation completed")
	case errors.Is(ev.Err, ErrConsumerGone):
		logger.Info().Int("tokens", tokens).Msg("consumer left before generation ended")
	case errors.Is(ev.Err, context.Canceled):
		logger.Info().Int("tokens", tokens).Msg("generation cancelled by the caller")
	case errors.Is(ev.Err, context.DeadlineExceeded):
		ev = Failure(fmt.Errorf("generation timed out after %s: %w", b.opts.Timeout, ev.Err))
		logger.Warn().Int("tokens", tokens).Msg("generation timed out")
	default:
		logger.Warn().Err(ev.Err).Int("tokens", tokens).Msg("generation failed")
	}

	_ = ch.emit(ctx, ev)
}

// relay pumps chunks into ch until the stream ends, returning the number of
// tokens written and the terminal event.
func (b *Bridge) relay(ctx context.Context, ch *Channel, prompt []*schema.Message) (int, TokenEvent) {
	reader, err := b.gen.Generate(ctx, prompt)
	if err != nil {
		return 0, Failure(err)
	}
	defer reader.Close()

	written := 0
	for {
		msg, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			return written, End()
		}
		if err != nil {
			return written, Failure(err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		if err := ch.emit(ctx, Token(msg.Content)); err != nil {
			return written, Failure(err)
		}
		written++
	}
}
