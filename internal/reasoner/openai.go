package reasoner

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/vocalmail/vocalmail/internal/model"
	"github.com/vocalmail/vocalmail/internal/tools"
)

// OpenAIReasoner talks to an OpenAI-compatible chat completions endpoint.
type OpenAIReasoner struct {
	client *resty.Client
	model  string
}

func NewOpenAIReasoner(baseURL, apiKey, modelName string) *OpenAIReasoner {
	c := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(60 * time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(time.Second)
	return &OpenAIReasoner{client: c, model: modelName}
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function tools.Definition `json:"function"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireTool    `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (r *OpenAIReasoner) Converse(ctx context.Context, history []Message, defs []tools.Definition) (*Response, error) {
	req := chatRequest{Model: r.model, Messages: toWire(history)}
	for _, d := range defs {
		req.Tools = append(req.Tools, wireTool{Type: "function", Function: d})
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(&req).
		Post("/chat/completions")
	if err != nil {
		return nil, errors.Wrap(err, "chat completions request")
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errors.Errorf("chat completions status %d: %s", resp.StatusCode(), resp.String())
	}

	var out chatResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, errors.Wrap(err, "decode chat response")
	}
	if out.Error != nil {
		return nil, errors.Errorf("chat completions: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("chat completions returned no choices")
	}

	msg := out.Choices[0].Message
	res := &Response{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		res.ToolCalls = append(res.ToolCalls, model.ToolCall{
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return res, nil
}

func toWire(history []Message) []wireMessage {
	out := make([]wireMessage, 0, len(history))
	for _, m := range history {
		wm := wireMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.CallID,
				Type: "function",
				Function: wireFunction{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, wm)
	}
	return out
}
