package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/vnmchuo/ai-orchestrator/internal/provider"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultSpeechModel = "whisper-1"
)

type Driver struct {
	apiKey  string
	baseURL string
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Model   string       `json:"model"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

func New(apiKey string) *Driver {
	return &Driver{
		apiKey:  apiKey,
		baseURL: "https://api.openai.com/v1",
	}
}

func (d *Driver) Name() string {
	return "openai"
}

func (d *Driver) Initialize(ctx context.Context) error {
	if d.apiKey == "" {
		return fmt.Errorf("openai: %w", provider.ErrNotConfigured)
	}
	return nil
}

func (d *Driver) Send(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("openai: %w", provider.ErrNotConfigured)
	}

	if req.Capability == provider.CapabilitySpeechToText {
		return d.transcribe(ctx, req)
	}

	model := req.Model
	if model == "" {
		model = defaultModel
	}

	chatReq := chatRequest{
		Model:    model,
		Messages: buildMessages(req),
	}
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/chat/completions", d.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", d.apiKey))

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &provider.APIError{Provider: d.Name(), StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, err
	}

	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("openai api returned no choices")
	}

	return &provider.Result{
		Content:      chatResp.Choices[0].Message.Content,
		Model:        chatResp.Model,
		InputTokens:  chatResp.Usage.PromptTokens,
		OutputTokens: chatResp.Usage.CompletionTokens,
	}, nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// transcribe sends base64-encoded audio to the transcription endpoint.
func (d *Driver) transcribe(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	audio, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("openai: payload is not base64-encoded audio: %w", err)
	}

	model := req.Model
	if model == "" {
		model = defaultSpeechModel
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("model", model); err != nil {
		return nil, err
	}
	part, err := form.CreateFormFile("file", "audio")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/audio/transcriptions", d.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, &body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", d.apiKey))

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &provider.APIError{Provider: d.Name(), StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var trResp transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&trResp); err != nil {
		return nil, err
	}
	return &provider.Result{
		Content: trResp.Text,
		Model:   model,
	}, nil
}

func buildMessages(req *provider.Request) []chatMessage {
	switch req.Capability {
	case provider.CapabilityTranslation:
		instruction := "Translate the user's text"
		if req.LanguageHint != "" {
			instruction = fmt.Sprintf("Translate the user's text to %s", req.LanguageHint)
		}
		if len(req.CulturalFlags) > 0 {
			instruction += fmt.Sprintf(", respecting these cultural considerations: %v", req.CulturalFlags)
		}
		return []chatMessage{
			{Role: "system", Content: instruction + ". Reply with the translation only."},
			{Role: "user", Content: req.Payload},
		}
	default:
		return []chatMessage{{Role: "user", Content: req.Payload}}
	}
}

// HealthCheck issues a minimal one-token completion.
func (d *Driver) HealthCheck(ctx context.Context) error {
	if d.apiKey == "" {
		return fmt.Errorf("openai: %w", provider.ErrNotConfigured)
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
