package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role tags who produced a turn.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// ParseRole maps a wire discriminator onto a Role.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleHuman:
		return RoleHuman, true
	case RoleAI:
		return RoleAI, true
	default:
		return "", false
	}
}

// Turn is one message in the conversation timeline. The JSON shape matches
// both the request body and the client-side persisted history.
type Turn struct {
	Text string `json:"text"`
	Role Role   `json:"type"`
}

// HumanTurn builds a turn authored by the user.
func HumanTurn(text string) Turn { return Turn{Text: text, Role: RoleHuman} }

// AITurn builds a turn authored by the model.
func AITurn(text string) Turn { return Turn{Text: text, Role: RoleAI} }

// PastMessage is the unvalidated boundary shape of a history entry.
type PastMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// missingType stands in for an absent discriminator in error messages.
const missingType = "undefined"

// UnmarshalJSON accepts any JSON value as the discriminator so that a
// non-string type is reported by Turns instead of failing the decode.
// Non-string values keep their JSON text, e.g. 5 or true.
func (m *PastMessage) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type json.RawMessage `json:"type"`
		Text string          `json:"text"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Text = raw.Text
	switch {
	case raw.Type == nil:
		m.Type = missingType
	case raw.Type[0] == '"':
		return json.Unmarshal(raw.Type, &m.Type)
	default:
		var compact bytes.Buffer
		if err := json.Compact(&compact, raw.Type); err != nil {
			return err
		}
		m.Type = compact.String()
	}
	return nil
}

// ValidationError reports a history entry with an unknown discriminator.
type ValidationError struct {
	Index int
	Type  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Unsupported message type: %s", e.Type)
}
