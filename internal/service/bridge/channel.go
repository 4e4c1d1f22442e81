package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrConsumerGone is returned to the producer once the consumer closed the channel.
var ErrConsumerGone = errors.New("stream consumer is gone")

// Channel carries the tokens of one generation from a single producer to a
// single consumer. With capacity 0 every write waits until the consumer is
// ready to receive it.
type Channel struct {
	tokens chan string
	ended  chan struct{}
	done   chan struct{}

	endOnce  sync.Once
	doneOnce sync.Once
	err      error

	cancel context.CancelFunc
}

func newChannel(capacity int, cancel context.CancelFunc) *Channel {
	if capacity < 0 {
		capacity = 0
	}
	if cancel == nil {
		cancel = func() {}
	}
	return &Channel{
		tokens: make(chan string, capacity),
		ended:  make(chan struct{}),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Recv returns the next token in arrival order. It returns io.EOF after a
// normal end and a *GenerationError after an abort.
func (c *Channel) Recv(ctx context.Context) (string, error) {
	select {
	case token := <-c.tokens:
		return token, nil
	case <-c.ended:
		// Buffered tokens written before the end are still delivered first.
		select {
		case token := <-c.tokens:
			return token, nil
		default:
		}
		if c.err != nil {
			return "", &GenerationError{Cause: c.err}
		}
		return "", io.EOF
	case <-c.done:
		return "", ErrConsumerGone
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close releases the channel from the consumer side. The producer is
// cancelled and unblocked. Close is idempotent.
func (c *Channel) Close() {
	c.doneOnce.Do(func() {
		close(c.done)
		c.cancel()
	})
}

// emit delivers ev to the consumer. Token events wait for consumer
// readiness; End and Error never block.
func (c *Channel) emit(ctx context.Context, ev TokenEvent) error {
	switch ev.Kind {
	case EventToken:
		return c.write(ctx, ev.Text)
	case EventEnd:
		c.finish(nil)
	case EventError:
		err := ev.Err
		if err == nil {
			err = errors.New("unknown generation error")
		}
		c.finish(err)
	}
	return nil
}

func (c *Channel) write(ctx context.Context, token string) error {
	// A consumer that already left must not receive anything else, even if
	// buffer space is available.
	select {
	case <-c.done:
		return ErrConsumerGone
	default:
	}

	select {
	case c.tokens <- token:
		return nil
	case <-c.done:
		return ErrConsumerGone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish records the terminal state; only the first call has an effect.
func (c *Channel) finish(err error) {
	c.endOnce.Do(func() {
		c.err = err
		close(c.ended)
	})
}
