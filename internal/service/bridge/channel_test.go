package bridge

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChannelWaitsForConsumerBeforeEachWrite(t *testing.T) {
	ch := newChannel(0, nil)
	ctx := context.Background()

	wrote := make(chan struct{})
	go func() {
		_ = ch.emit(ctx, Token("a"))
		close(wrote)
	}()

	select {
	case <-wrote:
		t.Fatal("write completed before the consumer was ready")
	case <-time.After(50 * time.Millisecond):
	}

	token, err := ch.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "a", token)
	<-wrote
}

func TestChannelPreservesOrderThenEnds(t *testing.T) {
	ch := newChannel(0, nil)
	ctx := context.Background()
	tokens := []string{"a", "b", "c", "d"}

	go func() {
		for _, tok := range tokens {
			_ = ch.emit(ctx, Token(tok))
		}
		_ = ch.emit(ctx, End())
	}()

	var got []string
	for {
		tok, err := ch.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, tok)
	}
	require.Equal(t, tokens, got)
}

func TestChannelBufferedTokensDrainBeforeEnd(t *testing.T) {
	ch := newChannel(3, nil)
	ctx := context.Background()

	require.NoError(t, ch.emit(ctx, Token("x")))
	require.NoError(t, ch.emit(ctx, Token("y")))
	require.NoError(t, ch.emit(ctx, Failure(errors.New("boom"))))

	for _, want := range []string{"x", "y"} {
		tok, err := ch.Recv(ctx)
		require.NoError(t, err)
		require.Equal(t, want, tok)
	}

	_, err := ch.Recv(ctx)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	require.EqualError(t, genErr.Cause, "boom")
	require.NotErrorIs(t, err, io.EOF)
}

func TestChannelCloseUnblocksProducerAndCancels(t *testing.T) {
	cancelled := make(chan struct{})
	ch := newChannel(0, func() { close(cancelled) })

	errs := make(chan error, 1)
	go func() { errs <- ch.emit(context.Background(), Token("never read")) }()

	ch.Close()
	ch.Close()

	require.ErrorIs(t, <-errs, ErrConsumerGone)
	<-cancelled
	require.ErrorIs(t, ch.emit(context.Background(), Token("late")), ErrConsumerGone)
}

func TestChannelWriteHonoursContext(t *testing.T) {
	ch := newChannel(0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, ch.emit(ctx, Token("a")), context.Canceled)
}

func TestChannelRecvHonoursContext(t *testing.T) {
	ch := newChannel(0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := ch.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelOnlyFirstTerminalEventCounts(t *testing.T) {
	ch := newChannel(0, nil)
	ctx := context.Background()

	require.NoError(t, ch.emit(ctx, End()))
	require.NoError(t, ch.emit(ctx, Failure(errors.New("late"))))

	_, err := ch.Recv(ctx)
	require.ErrorIs(t, err, io.EOF)
}

func TestTokenEventConstructors(t *testing.T) {
	require.False(t, Token("a").Terminal())
	require.True(t, End().Terminal())
	require.True(t, Failure(errors.New("x")).Terminal())
	require.Equal(t, "error", Failure(nil).Kind.String())
}
