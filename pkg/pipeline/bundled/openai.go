package bundled

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/parleylabs/agentd/internal/httpc"
	"github.com/parleylabs/agentd/pkg/pipeline"
)

// OpenAIPlanner produces replies with the OpenAI chat completions API.
type OpenAIPlanner struct {
	cfg    pipeline.Config
	logger *slog.Logger
	client *http.Client
}

// NewOpenAIPlanner creates a planner from the pipeline config.
func NewOpenAIPlanner(cfg pipeline.Config, logger *slog.Logger) (*OpenAIPlanner, error) {
	if cfg.OpenAIKey == "" {
		return nil, pipeline.ErrMissingAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIPlanner{
		cfg:    cfg,
		logger: logger.With("component", "bundled.openai"),
		client: httpc.Client,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Plan sends the conversation to the chat completions endpoint and returns
// the assistant's reply.
func (p *OpenAIPlanner) Plan(ctx context.Context, req pipeline.PlanRequest) (*pipeline.Reply, error) {
	body, err := json.Marshal(chatRequest{
		Model:       p.cfg.LLMModel,
		Messages:    buildChatMessages(req),
		Temperature: p.cfg.LLMTemperature,
		MaxTokens:   p.cfg.LLMMaxTokens,
	})
	if err != nil {
		return nil, pipeline.WrapError("openai", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.OpenAIURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, pipeline.WrapError("openai", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.OpenAIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, pipeline.WrapError("openai", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, pipeline.WrapError("openai", err)
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil && resp.StatusCode == http.StatusOK {
		return nil, pipeline.WrapError("openai", fmt.Errorf("decode response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &pipeline.APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
			Provider:   "openai",
		}
		if out.Error != nil {
			apiErr.Message = out.Error.Message
			apiErr.Code = out.Error.Code
		}
		return nil, apiErr
	}
	if len(out.Choices) == 0 {
		return nil, pipeline.WrapError("openai", fmt.Errorf("response has no choices"))
	}

	// Interrupted turns must never surface a stale reply.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg := out.Choices[0].Message
	reply := &pipeline.Reply{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				p.logger.Warn("unparseable tool arguments", "tool", tc.Function.Name, "error", err)
			}
		}
		reply.ToolCalls = append(reply.ToolCalls, pipeline.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return reply, nil
}

func (p *OpenAIPlanner) Close() error { return nil }

// buildChatMessages converts the plan request into chat completion messages.
// Session observations and one-off instructions ride along as trailing
// system messages.
func buildChatMessages(req pipeline.PlanRequest) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.Messages)+2)
	for _, m := range req.Messages {
		role := m.Role
		if role == "agent" {
			role = "assistant"
		}
		msgs = append(msgs, chatMessage{Role: role, Content: m.Text})
	}
	if len(req.Observations) > 0 {
		msgs = append(msgs, chatMessage{
			Role:    "system",
			Content: "Observations:\n" + strings.Join(req.Observations, "\n"),
		})
	}
	if req.Instructions != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.Instructions})
	}
	return msgs
}

var _ pipeline.ResponsePlanner = (*OpenAIPlanner)(nil)
