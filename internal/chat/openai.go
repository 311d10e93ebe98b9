package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"aigod/internal/remote"
)

// OpenAI is a Backend on the chat completions API.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI builds the client with its own retries disabled; Synthesizer owns retrying.
func NewOpenAI(apiKey string, httpClient *http.Client) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &OpenAI{client: openai.NewClient(opts...)}
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    openai.ChatModel(req.Model),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return resp.Choices[0].Message.Content, nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &remote.Error{
			Backend: "openai",
			Kind:    remote.KindOfStatus(apiErr.StatusCode),
			Status:  apiErr.StatusCode,
			Err:     err,
		}
	}
	return remote.Wrap("openai", err)
}
