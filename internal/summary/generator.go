package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type Mode string

const (
	ModeSummary Mode = "summary"
	ModeChat    Mode = "chat"
)

func (m Mode) Valid() bool { return m == ModeSummary || m == ModeChat }

// Message is one chat turn. Role is user, assistant or system.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required"`
}

type Request struct {
	Mode     Mode
	Messages []Message
	Payload  Payload
}

// Generator turns report context into free-form text.
type Generator interface {
	Generate(ctx context.Context, req Request) (Message, error)
}

const summaryPrompt = `You are a retail analyst assistant that extracts insights from store reports.
You are given data about retail stores and their reports. Your job is to:
1. Identify key trends across multiple stores
2. Find notable patterns in sales, customer behavior, or inventory
3. Highlight issues that require attention
4. Provide actionable insights backed by specific store data

Always cite your sources by mentioning store names and dates when providing insights.
Be concise, professional, and focus on the most important information.`

const chatPrompt = `You are a retail analyst assistant helping with store report queries.
You have access to report data from stores. When answering questions:
1. Only use the information provided in the context
2. Cite specific stores and dates when providing insights
3. If you don't have enough information, politely say so
4. Keep answers concise and professional

Always back your statements with evidence from the reports.`

func systemPrompt(m Mode) string {
	if m == ModeChat {
		return chatPrompt
	}
	return summaryPrompt
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key not set")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// chatMessages assembles the system prompt, the data context and the
// conversation so far.
func chatMessages(req Request) ([]openai.ChatCompletionMessage, error) {
	ctxMsg, err := contextMessage(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req.Mode)},
		{Role: openai.ChatMessageRoleSystem, Content: ctxMsg},
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if len(req.Messages) == 0 {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "Summarize these store reports."})
	}
	return msgs, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (Message, error) {
	msgs, err := chatMessages(req)
	if err != nil {
		return Message{}, err
	}
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    msgs,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		return Message{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Message{}, ErrEmptySummary
	}
	choice := resp.Choices[0].Message
	return Message{Role: choice.Role, Content: choice.Content}, nil
}
