package claude

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vnmchuo/ai-orchestrator/internal/provider"
)

const defaultModel = "claude-3-5-haiku-20241022"

type Driver struct {
	apiKey  string
	baseURL string
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID      string         `json:"id"`
	Content []contentBlock `json:"content"`
	Model   string         `json:"model"`
	Usage   usage          `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func New(apiKey string) *Driver {
	return &Driver{
		apiKey:  apiKey,
		baseURL: "https://api.anthropic.com/v1",
	}
}

func (d *Driver) Name() string {
	return "claude"
}

func (d *Driver) Initialize(ctx context.Context) error {
	if d.apiKey == "" {
		return fmt.Errorf("claude: %w", provider.ErrNotConfigured)
	}
	return nil
}

func (d *Driver) Send(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("claude: %w", provider.ErrNotConfigured)
	}

	model := req.Model
	if model == "" {
		model = defaultModel
	}

	msgReq := messagesRequest{
		Model:     model,
		MaxTokens: 4096,
		System:    systemPrompt(req),
		Messages:  []message{{Role: "user", Content: req.Payload}},
	}
	body, err := json.Marshal(msgReq)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/messages", d.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", d.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &provider.APIError{Provider: d.Name(), StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var msgResp messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&msgResp); err != nil {
		return nil, err
	}

	if len(msgResp.Content) == 0 {
		return nil, fmt.Errorf("claude api returned no content")
	}

	return &provider.Result{
		Content:      msgResp.Content[0].Text,
		Model:        msgResp.Model,
		InputTokens:  msgResp.Usage.InputTokens,
		OutputTokens: msgResp.Usage.OutputTokens,
	}, nil
}

func systemPrompt(req *provider.Request) string {
	if req.Capability != provider.CapabilityTranslation {
		return ""
	}
	instruction := "Translate the user's text"
	if req.LanguageHint != "" {
		instruction = fmt.Sprintf("Translate the user's text to %s", req.LanguageHint)
	}
	if len(req.CulturalFlags) > 0 {
		instruction += fmt.Sprintf(", respecting these cultural considerations: %v", req.CulturalFlags)
	}
	return instruction + ". Reply with the translation only."
}

// HealthCheck issues a minimal completion.
func (d *Driver) HealthCheck(ctx context.Context) error {
	if d.apiKey == "" {
		return fmt.Errorf("claude: %w", provider.ErrNotConfigured)
	}
	_, err := d.Send(ctx, &provider.Request{
		Capability: provider.CapabilityChat,
		Payload:    "ping",
	})
	return err
}

func (d *Driver) Shutdown(ctx context.Context) error {
	return nil
}
