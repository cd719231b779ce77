package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"illustrationapi/internal/config"
	"illustrationapi/internal/model"
	"illustrationapi/internal/reqid"
)

// AnthropicClient implements Client over the Anthropic Messages API.
type AnthropicClient struct {
	cfg    config.AnthropicConfig
	http   *http.Client
	logger *slog.Logger
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropic builds a client. Empty settings fall back to the public API
// defaults; timeout <= 0 means 120s.
func NewAnthropic(cfg config.AnthropicConfig, timeout time.Duration, logger *slog.Logger) *AnthropicClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Version == "" {
		cfg.Version = "2023-06-01"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{cfg: cfg, http: newHTTPClient(timeout), logger: logger}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesResponse struct {
	Content []contentBlock `json:"content"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke sends every image followed by the instruction as a single user turn.
func (c *AnthropicClient) Invoke(ctx context.Context, images []model.PageImage, instruction string) (string, error) {
	if len(images) == 0 {
		return "", ErrNoImages
	}

	content := make([]contentBlock, 0, len(images)+1)
	for _, img := range images {
		content = append(content, contentBlock{
			Type: "image",
			Source: &imageSource{
				Type:      "base64",
				MediaType: img.MediaType,
				Data:      img.Data,
			},
		})
	}
	content = append(content, contentBlock{Type: "text", Text: instruction})

	body, err := json.Marshal(messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages:  []message{{Role: "user", Content: content}},
	})
	if err != nil {
		return "", fmt.Errorf("encode messages request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build messages request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", c.cfg.Version)

	rid := reqid.From(ctx)
	start := time.Now()
	c.logger.Info("vision.request",
		"req_id", rid,
		"provider", "anthropic",
		"model", c.cfg.Model,
		"images", len(images),
		"content_length", len(body),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("vision.request.error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", &ServiceError{Message: fmt.Sprintf("model service request failed: %v", err)}
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.logger.Warn("vision.response_body_close_error", "req_id", rid, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("vision.response.read_error", "req_id", rid, "status", resp.StatusCode, "error", err)
		return "", statusError(resp.StatusCode, fmt.Sprintf("read model reply: %v", err))
	}

	c.logger.Info("vision.response",
		"req_id", rid,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		var er errorResponse
		_ = json.Unmarshal(raw, &er)
		return "", statusError(resp.StatusCode, er.Error.Message)
	}

	var mr messagesResponse
	if err := json.Unmarshal(raw, &mr); err != nil {
		return "", statusError(resp.StatusCode, fmt.Sprintf("decode model reply: %v", err))
	}
	for _, block := range mr.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", nil
}
