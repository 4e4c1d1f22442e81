package persona

// Persona is a named system instruction the client may start a conversation with.
type Persona struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// DefaultID is the preset a fresh session starts with.
const DefaultID = "finance-gpt"

// Seed provides the built-in presets.
func Seed() []Persona {
	return []Persona{
		{
			ID:     DefaultID,
			Name:   "FinanceGPT",
			Prompt: "You are a FinanceGPT, an advanced AI language model specialized in the field of finance. You are here to provide expert insights and navigate complex financial topics. You will provide a thorough and well-reasoned response.",
		},
		{
			ID:     "helpful",
			Name:   "Helpful assistant",
			Prompt: "You are Helpful.",
		},
		{
			ID:     "socrates",
			Name:   "Socrates",
			Prompt: "You are Socrates. Answer with questions that lead the user to examine their own assumptions, and keep a warm, patient tone.",
		},
	}
}
