// Package session drives a conversation from the client side: it owns the
// turn history and persona, sends the full context with every input and
// commits the streamed reply as a new turn.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/memchat/internal/model/chat"
	"github.com/zhouzirui/memchat/internal/session/store"
)

// Keys under which a session is persisted.
const (
	KeyPersona      = "persona"
	KeyPastMessages = "pastMessages"
)

var (
	ErrEmptyInput    = errors.New("input is empty")
	ErrNotReady      = errors.New("session is not ready to send")
	ErrPersonaLocked = errors.New("persona cannot change once the conversation has started")

	errNoBody = errors.New("response has no body")
)

// State is the position of the current submission.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures Open.
type Options struct {
	// ID scopes persistence; a random ID is used when empty.
	ID        string
	Store     store.Store
	Transport Transport
	// DefaultPersona applies when the store holds no persona.
	DefaultPersona string
	// OnChunk receives every decoded chunk of the live output in order.
	OnChunk func(chunk string)
	// OnState observes every state transition.
	OnState func(State)
}

// Session is one conversation. Its methods are safe for concurrent use;
// only one submission is in flight at a time.
type Session struct {
	id        string
	store     store.Store
	transport Transport
	onChunk   func(string)
	onState   func(State)
	logger    zerolog.Logger

	mu      sync.Mutex
	persona string
	history []chat.Turn
	live    strings.Builder
	err     error
	state   State
	sending bool
}

// Open rehydrates a session from opts.Store.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, errors.New("session store is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("session transport is required")
	}

	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	s := &Session{
		id:        id,
		store:     opts.Store,
		transport: opts.Transport,
		onChunk:   opts.OnChunk,
		onState:   opts.OnState,
		logger:    log.With().Str("component", "session").Str("session_id", id).Logger(),
		persona:   opts.DefaultPersona,
	}

	persona, ok, err := s.store.Load(ctx, id, KeyPersona)
	if err != nil {
		return nil, fmt.Errorf("failed to load persona: %w", err)
	}
	if ok {
		s.persona = persona
	}

	raw, ok, err := s.store.Load(ctx, id, KeyPastMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if ok {
		history, err := decodeHistory(raw)
		if err != nil {
			return nil, err
		}
		s.history = history
	}

	s.logger.Debug().Int("history", len(s.history)).Msg("session opened")
	return s, nil
}

// ID returns the persistence scope of the session.
func (s *Session) ID() string { return s.id }

// Persona returns the current system instruction.
func (s *Session) Persona() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persona
}

// History returns a copy of the committed turns.
func (s *Session) History() []chat.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Turn(nil), s.history...)
}

// LiveOutput returns the reply streamed so far. After a failure it keeps
// the partial reply.
func (s *Session) LiveOutput() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live.String()
}

// Err returns the error on display, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State returns the state of the current submission.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CanSend reports whether Submit would start a request: nothing is in
// flight and no error is waiting to be dismissed.
func (s *Session) CanSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canSendLocked()
}

func (s *Session) canSendLocked() bool {
	return !s.sending && s.err == nil
}

// SetPersona replaces the persona while the history is empty.
func (s *Session) SetPersona(ctx context.Context, persona string) error {
	s.mu.Lock()
	if len(s.history) > 0 {
		s.mu.Unlock()
		return ErrPersonaLocked
	}
	s.persona = persona
	s.mu.Unlock()

	return s.store.Save(ctx, s.id, KeyPersona, persona)
}

// Reset clears the conversation so the persona can change again. It is
// refused while a submission is in flight.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return ErrNotReady
	}
	s.history = nil
	s.live.Reset()
	s.err = nil
	s.mu.Unlock()

	return s.saveHistory(ctx, nil)
}

// DismissError clears the displayed error and reopens the send gate.
func (s *Session) DismissError() {
	s.mu.Lock()
	s.err = nil
	s.mu.Unlock()
}

// Submit sends input with the current persona and history and streams the
// reply. The human turn is recorded once the server accepted the request;
// the ai turn only when the reply ended normally. Errors are also kept for
// display until DismissError.
func (s *Session) Submit(ctx context.Context, input string) error {
	if strings.TrimSpace(input) == "" {
		return ErrEmptyInput
	}

	s.mu.Lock()
	if !s.canSendLocked() {
		s.mu.Unlock()
		return ErrNotReady
	}
	s.sending = true
	s.live.Reset()
	req := chat.NewRequest(s.persona, input, s.history)
	s.mu.Unlock()

	defer s.release()
	s.transition(StateSending)

	body, err := s.transport.Send(ctx, req)
	if err != nil {
		return s.fail(err)
	}
	defer body.Close()

	s.mu.Lock()
	s.history = append(s.history, chat.HumanTurn(input))
	history := append([]chat.Turn(nil), s.history...)
	s.mu.Unlock()
	s.persistHistory(ctx, history)
	s.transition(StateStreaming)

	if err := s.read(body); err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.history = append(s.history, chat.AITurn(s.live.String()))
	s.live.Reset()
	history = append([]chat.Turn(nil), s.history...)
	s.mu.Unlock()
	s.persistHistory(ctx, history)
	s.transition(StateCommitted)
	return nil
}

// read appends decoded chunks to the live output until the body ends.
func (s *Session) read(body io.Reader) error {
	var dec chunkDecoder
	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk, derr := dec.Decode(buf[:n])
			if derr != nil {
				return &TransportError{Err: derr}
			}
			if chunk != "" {
				s.mu.Lock()
				s.live.WriteString(chunk)
				s.mu.Unlock()
				if s.onChunk != nil {
					s.onChunk(chunk)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			if ferr := dec.Flush(); ferr != nil {
				return &TransportError{Err: ferr}
			}
			return nil
		}
		if err != nil {
			return &TransportError{Err: err}
		}
	}
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.logger.Warn().Err(err).Msg("submission failed")
	s.transition(StateFailed)
	return err
}

func (s *Session) release() {
	s.mu.Lock()
	s.sending = false
	s.mu.Unlock()
	s.transition(StateIdle)
}

func (s *Session) transition(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	if s.onState != nil {
		s.onState(state)
	}
}

// persistHistory saves history; a store failure is logged and does not
// fail the submission.
func (s *Session) persistHistory(ctx context.Context, history []chat.Turn) {
	if err := s.saveHistory(ctx, history); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist history")
	}
}

func (s *Session) saveHistory(ctx context.Context, history []chat.Turn) error {
	if history == nil {
		history = []chat.Turn{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	return s.store.Save(ctx, s.id, KeyPastMessages, string(raw))
}

func decodeHistory(raw string) ([]chat.Turn, error) {
	var history []chat.Turn
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("failed to decode stored history: %w", err)
	}
	for i, turn := range history {
		if _, ok := chat.ParseRole(string(turn.Role)); !ok {
			return nil, fmt.Errorf("failed to decode stored history: turn %d: %w", i, &chat.ValidationError{Index: i, Type: string(turn.Role)})
		}
	}
	return history, nil
}
