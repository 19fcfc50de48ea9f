package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vnmchuo/ai-orchestrator/internal/provider"
)

const defaultModel = "gemini-2.0-flash"

type Driver struct {
	apiKey  string
	baseURL string
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates    []candidate   `json:"candidates"`
	UsageMetadata usageMetadata `json:"usageMetadata"`
}

type candidate struct {
	Content content `json:"content"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

func New(apiKey string) *Driver {
	return &Driver{
		apiKey:  apiKey,
		baseURL: "https://generativelanguage.googleapis.com",
	}
}

func (d *Driver) Name() string {
	return "gemini"
}

func (d *Driver) Initialize(ctx context.Context) error {
	if d.apiKey == "" {
		return fmt.Errorf("gemini: %w", provider.ErrNotConfigured)
	}
	return nil
}

func (d *Driver) Send(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", provider.ErrNotConfigured)
	}

	model := req.Model
	if model == "" {
		model = defaultModel
	}

	genReq := generateRequest{
		Contents: buildContents(req),
	}
	body, err := json.Marshal(genReq)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", d.baseURL, model, d.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &provider.APIError{Provider: d.Name(), StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, err
	}

	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini api returned no candidates")
	}

	return &provider.Result{
		Content:      genResp.Candidates[0].Content.Parts[0].Text,
		Model:        model,
		InputTokens:  genResp.UsageMetadata.PromptTokenCount,
		OutputTokens: genResp.UsageMetadata.CandidatesTokenCount,
	}, nil
}

func buildContents(req *provider.Request) []content {
	text := req.Payload
	switch req.Capability {
	case provider.CapabilityTranslation:
		instruction := "Translate the following text"
		if req.LanguageHint != "" {
			instruction = fmt.Sprintf("Translate the following text to %s", req.LanguageHint)
		}
		if len(req.CulturalFlags) > 0 {
			instruction += fmt.Sprintf(", respecting these cultural considerations: %v", req.CulturalFlags)
		}
		text = instruction + ". Reply with the translation only.\n\n" + req.Payload
	case provider.CapabilityVision:
		text = "Describe the referenced image.\n\n" + req.Payload
	}
	return []content{{Role: "user", Parts: []part{{Text: text}}}}
}

// HealthCheck issues a minimal generation.
func (d *Driver) HealthCheck(ctx context.Context) error {
	if d.apiKey == "" {
		return fmt.Errorf("gemini: %w", provider.ErrNotConfigured)
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
