package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIHandler talks to the OpenAI chat completions API. Setting "base_url"
// in the connection parameters points it at any OpenAI-compatible endpoint
// (Together, vLLM, proxies) instead of the public API.
type OpenAIHandler struct {
	client *openai.Client
	model  string
	params map[string]string
}

var _ Handler = &OpenAIHandler{}

func (h *OpenAIHandler) Name() string { return "openai" }

func (h *OpenAIHandler) Connect(ctx context.Context, params map[string]string) error {
	if params["model"] == "" {
		return fmt.Errorf("openai: connection parameters must contain \"model\"")
	}
	if params["token"] == "" {
		return fmt.Errorf("openai: connection parameters must contain \"token\"")
	}

	opts := []option.RequestOption{option.WithAPIKey(params["token"])}
	if params["base_url"] != "" {
		opts = append(opts, option.WithBaseURL(params["base_url"]))
	}
	client := openai.NewClient(opts...)

	h.client = client
	h.model = params["model"]
	h.params = params

	ok, err := h.ValidateModel(ctx, h.model)
	if err != nil {
		return fmt.Errorf("openai: model validation failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("openai: model %q not found", h.model)
	}
	return nil
}

func (h *OpenAIHandler) Connected(ctx context.Context) bool {
	if h.client == nil {
		return false
	}
	_, err := h.client.Models.Get(ctx, h.model)
	return err == nil
}

func (h *OpenAIHandler) ValidateModel(ctx context.Context, model string) (bool, error) {
	if h.client == nil {
		return false, fmt.Errorf("openai: not connected, use Connect first")
	}
	if _, err := h.client.Models.Get(ctx, model); err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (h *OpenAIHandler) Complete(ctx context.Context, req Request) (*Response, error) {
	if h.client == nil {
		return nil, fmt.Errorf("openai: not connected, use Connect first")
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(ContextPrompt(req.Prompt, req.Context)))

	params := openai.ChatCompletionNewParams{
		Messages: openai.F(messages),
		Model:    openai.F(h.model),
	}
	if req.Schema != nil {
		schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:   openai.F(req.SchemaName),
			Schema: openai.F(req.Schema),
			Strict: openai.Bool(true),
		}
		params.ResponseFormat = openai.F[openai.ChatCompletionNewParamsResponseFormatUnion](
			openai.ResponseFormatJSONSchemaParam{
				Type:       openai.F(openai.ResponseFormatJSONSchemaTypeJSONSchema),
				JSONSchema: openai.F(schemaParam),
			},
		)
	}

	completion, err := h.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai: completion returned no choices")
	}

	choice := completion.Choices[0]
	return &Response{
		Content: choice.Message.Content,
		Model:   completion.Model,
		Metadata: map[string]any{
			"finish_reason":     string(choice.FinishReason),
			"prompt_tokens":     completion.Usage.PromptTokens,
			"completion_tokens": completion.Usage.CompletionTokens,
		},
	}, nil
}

func (h *OpenAIHandler) Info() map[string]string {
	return h.params
}
