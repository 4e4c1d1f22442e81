package bridge

import "fmt"

// EventKind discriminates a TokenEvent.
type EventKind int

const (
	EventToken EventKind = iota
	EventEnd
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventToken:
		return "token"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// TokenEvent is one unit of producer output. A generation yields zero or
// more Token events followed by exactly one End or Error.
type TokenEvent struct {
	Kind EventKind
	Text string
	Err  error
}

// Token wraps generated text.
func Token(text string) TokenEvent { return TokenEvent{Kind: EventToken, Text: text} }

// End marks normal completion.
func End() TokenEvent { return TokenEvent{Kind: EventEnd} }

// Failure marks abnormal termination.
func Failure(err error) TokenEvent { return TokenEvent{Kind: EventError, Err: err} }

// Terminal reports whether the event ends the generation.
func (e TokenEvent) Terminal() bool { return e.Kind != EventToken }

// GenerationError is what a consumer receives when the producer aborted.
type GenerationError struct {
	Cause error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }
