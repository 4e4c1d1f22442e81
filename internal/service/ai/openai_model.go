package ai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/memchat/internal/config"
)

// OpenAIChatModel adapts an OpenAI-compatible chat completion API to the
// eino chat model interface.
type OpenAIChatModel struct {
	client      *openai.Client
	model       string
	temperature *float32
	topP        *float32
	maxTokens   *int
}

var _ model.BaseChatModel = (*OpenAIChatModel)(nil)

// NewOpenAIChatModel builds a client from the OPENAI_* settings in cfg.
func NewOpenAIChatModel(cfg config.AIConfig) (*OpenAIChatModel, error) {
	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	if cfg.OpenAI.Model == "" {
		return nil, fmt.Errorf("OPENAI_MODEL is not set")
	}

	clientCfg := openai.DefaultConfig(cfg.OpenAI.APIKey)
	if cfg.OpenAI.BaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAI.BaseURL
	}

	m := &OpenAIChatModel{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.OpenAI.Model,
		maxTokens: cfg.MaxTokens,
	}
	if cfg.Temperature != nil {
		val := float32(*cfg.Temperature)
		m.temperature = &val
	}
	if cfg.TopP != nil {
		val := float32(*cfg.TopP)
		m.topP = &val
	}

	log.Info().Str("component", "ai").Str("model", m.model).Msg("initialized openai chat model")
	return m, nil
}

// Generate returns the whole completion at once.
func (m *OpenAIChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	resp, err := m.client.CreateChatCompletion(ctx, m.request(input, false))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}
	return schema.AssistantMessage(resp.Choices[0].Message.Content, nil), nil
}

// Stream relays content deltas as they arrive. Closing the returned reader
// stops the relay and releases the HTTP response.
func (m *OpenAIChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	stream, err := m.client.CreateChatCompletionStream(ctx, m.request(input, true))
	if err != nil {
		return nil, fmt.Errorf("openai chat completion stream: %w", err)
	}

	sr, sw := schema.Pipe[*schema.Message](1)
	go func() {
		defer sw.Close()
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				sw.Send(nil, fmt.Errorf("openai stream: %w", err))
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if closed := sw.Send(schema.AssistantMessage(resp.Choices[0].Delta.Content, nil), nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

func (m *OpenAIChatModel) request(input []*schema.Message, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    m.model,
		Messages: toOpenAIMessages(input),
		Stream:   stream,
	}
	if m.temperature != nil {
		req.Temperature = *m.temperature
	}
	if m.topP != nil {
		req.TopP = *m.topP
	}
	if m.maxTokens != nil {
		req.MaxTokens = *m.maxTokens
	}
	return req
}

func toOpenAIMessages(input []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case schema.System:
			role = openai.ChatMessageRoleSystem
		case schema.Assistant:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}
	return out
}
