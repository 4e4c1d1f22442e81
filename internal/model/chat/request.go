package chat

// Request is the body of one conversation turn sent by the client.
type Request struct {
	Persona      string        `json:"persona"`
	Input        string        `json:"input"`
	PastMessages []PastMessage `json:"pastMessages"`
}

// PromptContext is everything the model needs for one generation.
type PromptContext struct {
	Persona string
	History []Turn
	Input   string
}

// Turns validates the history discriminators in order. The first unknown
// discriminator stops validation with a *ValidationError.
func (r Request) Turns() ([]Turn, error) {
	turns := make([]Turn, 0, len(r.PastMessages))
	for i, msg := range r.PastMessages {
		role, ok := ParseRole(msg.Type)
		if !ok {
			return nil, &ValidationError{Index: i, Type: msg.Type}
		}
		turns = append(turns, Turn{Text: msg.Text, Role: role})
	}
	return turns, nil
}

// PromptContext validates the request and assembles its prompt context.
func (r Request) PromptContext() (PromptContext, error) {
	history, err := r.Turns()
	if err != nil {
		return PromptContext{}, err
	}
	return PromptContext{Persona: r.Persona, History: history, Input: r.Input}, nil
}

// NewRequest builds the wire request for a new input on top of history.
func NewRequest(persona, input string, history []Turn) Request {
	past := make([]PastMessage, 0, len(history))
	for _, turn := range history {
		past = append(past, PastMessage{Type: string(turn.Role), Text: turn.Text})
	}
	return Request{Persona: persona, Input: input, PastMessages: past}
}
