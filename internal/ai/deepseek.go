package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DeepSeekProvider talks to any OpenAI-compatible chat-completions endpoint.
// The default deployment is DeepSeek V3 hosted on Akash ML.
type DeepSeekProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

type deepseekChatReq struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type deepseekChatResp struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewDeepSeekProvider(baseURL, apiKey, model string) *DeepSeekProvider {
	if baseURL == "" {
		baseURL = "https://chatapi.akash.network/api/v1"
	}
	if model == "" {
		model = "DeepSeek-V3-0324"
	}
	return &DeepSeekProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (p *DeepSeekProvider) Complete(ctx context.Context, messages []Message, temperature float64, maxTokens int) (string, error) {
	if p.Client == nil {
		return "", errors.New("deepseek: http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return "", errors.New("deepseek: api key is required")
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return "", errors.New("deepseek: model is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	reqBody := deepseekChatReq{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("deepseek: %s", msg)
	}

	var decoded deepseekChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", errors.New("deepseek: empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}
