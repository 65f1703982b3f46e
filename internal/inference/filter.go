// Package inference rewrites extracted markdown through a generative model
// for cleanup.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/quillhq/pagemd/internal/telemetry"
)

const promptTemplate = `You are an AI assistant that converts webpage content to clean, readable markdown while filtering out unnecessary information. Please follow these guidelines:

1. Start with the main heading or article title at the top of the markdown output.
2. Remove any inappropriate content, ads, irrelevant information, or distracting elements.
3. If unsure about including something, err on the side of keeping it to preserve important details.
4. Organize the content into a logical structure using markdown headers, lists, and paragraphs.
5. Use markdown formatting to enhance readability, such as bold and italic text, links, and code blocks where appropriate.
6. Aim for a clean, readable, and concise markdown representation of the webpage content.
7. If the webpage contains images, include relevant image descriptions and alt text.
8. Ensure the output is in English and contains all essential points in sufficient detail to be useful.
9. Remove all navigation, menu, footer, and other non-content elements.
10. Return only the markdown content or main article content, starting with the heading or the article title, without any additional text or explanations.

Input:
` + "```html\n%s\n```" + `

Output:
` + "```markdown\n"

// Filter cleans markdown through a chat-completion model.
type Filter struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

// Option configures a Filter.
type Option func(*settings)

type settings struct {
	baseURL string
	model   string
}

// WithBaseURL points the filter at an OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(s *settings) { s.baseURL = baseURL }
}

// WithModel selects the model used for cleanup.
func WithModel(model string) Option {
	return func(s *settings) { s.model = model }
}

// NewFilter constructs a Filter. An empty apiKey falls back to the
// OPENAI_API_KEY environment variable inside the client.
func NewFilter(apiKey string, logger *zap.Logger, opts ...Option) (*Filter, error) {
	s := settings{model: "meta-llama-3-8b-instruct"}
	for _, opt := range opts {
		opt(&s)
	}
	if s.model == "" {
		return nil, errors.New("inference model must not be empty")
	}

	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	if s.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(s.baseURL))
	}
	return &Filter{
		client: openai.NewClient(clientOpts...),
		model:  s.model,
		logger: logger,
	}, nil
}

// Clean rewrites markdown with the instruction template and returns the
// model's output. The caller replaces its markdown with the result.
func (f *Filter) Clean(ctx context.Context, markdown string) (string, error) {
	prompt := fmt.Sprintf(promptTemplate, markdown)
	resp, err := f.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(f.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		telemetry.ObserveInferenceCall("error")
		return "", fmt.Errorf("inference call: %w", err)
	}
	if len(resp.Choices) == 0 {
		telemetry.ObserveInferenceCall("empty")
		return "", errors.New("inference returned no choices")
	}
	telemetry.ObserveInferenceCall("ok")
	out := resp.Choices[0].Message.Content
	out = strings.TrimSuffix(strings.TrimSpace(out), "```")
	return strings.TrimSpace(out), nil
}
