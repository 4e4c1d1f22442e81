package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/memchat/internal/config"
	"github.com/zhouzirui/memchat/internal/model/chat"
)

// Service turns a prompt context into a model token stream.
type Service struct {
	chatModel model.BaseChatModel
	template  prompt.ChatTemplate
	streaming bool
}

// NewService wraps chatModel with the persona/history/input chat template.
func NewService(chatModel model.BaseChatModel, streaming bool) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	// Persona and input are substituted as values, so braces typed by the
	// user are never interpreted as template fields.
	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{persona}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{input}"),
	)

	return &Service{
		chatModel: chatModel,
		template:  template,
		streaming: streaming,
	}, nil
}

// NewChatModel builds the backend selected by cfg.Provider.
func NewChatModel(ctx context.Context, cfg config.AIConfig) (model.BaseChatModel, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIChatModel(cfg)
	default:
		return cfg.NewArkChatModel(ctx)
	}
}

// StreamingEnabled reports whether the model is asked for incremental output.
func (s *Service) StreamingEnabled() bool {
	return s.streaming
}

// Prepare renders the prompt: persona as system instruction, history in
// order, and the new input as the final user message.
func (s *Service) Prepare(ctx context.Context, pc chat.PromptContext) ([]*schema.Message, error) {
	messages, err := s.template.Format(ctx, map[string]any{
		"persona": pc.Persona,
		"history": historyMessages(pc.History),
		"input":   pc.Input,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to format prompt: %w", err)
	}
	return messages, nil
}

// Generate starts generation. With streaming disabled the full reply is
// delivered as a single chunk.
func (s *Service) Generate(ctx context.Context, messages []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	if s.streaming {
		stream, err := s.chatModel.Stream(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("failed to start model stream: %w", err)
		}
		return stream, nil
	}

	response, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("failed to generate response: %w", err)
	}
	log.Debug().Str("component", "ai").Int("length", len(response.Content)).Msg("generated non-streaming response")
	return schema.StreamReaderFromArray([]*schema.Message{response}), nil
}

func historyMessages(turns []chat.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleHuman:
			history = append(history, schema.UserMessage(turn.Text))
		case chat.RoleAI:
			history = append(history, schema.AssistantMessage(turn.Text, nil))
		}
	}
	return history
}
