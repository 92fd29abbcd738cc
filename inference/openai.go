package inference

import (
	"context"
	"log/slog"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAI completes prompts through the chat completions API. It also serves
// OpenAI-compatible servers such as llama-server, vLLM and OpenRouter.
type OpenAI struct {
	client openai.Client
	log    *slog.Logger
}

// NewOpenAI builds an OpenAI backend. The SDK's own retries are disabled:
// a failed call is reported, never repeated.
func NewOpenAI(cfg ProviderConfig) *OpenAI {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAI{client: openai.NewClient(opts...), log: loggerOrDefault(cfg.Logger)}
}

func (o *OpenAI) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	callCtx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	var messages []openai.ChatCompletionMessageParamUnion
	if opts.System != "" {
		messages = append(messages, openai.SystemMessage(opts.System))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(opts.Model),
		Messages: messages,
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}

	resp, err := o.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		return "", classify(ctx, ProviderOpenAI, err)
	}
	if len(resp.Choices) == 0 {
		return "", &BackendError{Provider: ProviderOpenAI, Message: "no choices in response", Cause: ErrEmptyResponse}
	}
	o.log.Debug("openai completion", "model", resp.Model, "finish_reason", resp.Choices[0].FinishReason,
		"prompt_tokens", resp.Usage.PromptTokens, "completion_tokens", resp.Usage.CompletionTokens)
	return strings.TrimRight(resp.Choices[0].Message.Content, " \t"), nil
}
