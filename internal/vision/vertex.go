package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/vertexai/genai"

	"illustrationapi/internal/config"
	"illustrationapi/internal/model"
	"illustrationapi/internal/reqid"
)

// contentGenerator is the part of *genai.GenerativeModel the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// VertexClient implements Client with Gemini on Vertex AI.
type VertexClient struct {
	model     contentGenerator
	modelName string
	base      *genai.Client
	logger    *slog.Logger
}

var _ Client = (*VertexClient)(nil)

// NewVertex creates a Gemini-backed client. Close releases the underlying connection.
func NewVertex(ctx context.Context, cfg config.VertexConfig, logger *slog.Logger) (*VertexClient, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, fmt.Errorf("NewVertex: project and region cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	base, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	gm := base.GenerativeModel(cfg.Model)
	gm.SetTemperature(0)
	gm.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text("You read scanned life-insurance illustration pages and answer with JSON only.")},
	}

	return &VertexClient{model: gm, modelName: cfg.Model, base: base, logger: logger}, nil
}

// Invoke sends the pages as inline blobs followed by the instruction.
func (c *VertexClient) Invoke(ctx context.Context, images []model.PageImage, instruction string) (string, error) {
	if len(images) == 0 {
		return "", ErrNoImages
	}

	parts := make([]genai.Part, 0, len(images)+1)
	for i, img := range images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return "", fmt.Errorf("decode page %d: %w", i, err)
		}
		parts = append(parts, genai.Blob{MIMEType: img.MediaType, Data: data})
	}
	parts = append(parts, genai.Text(instruction))

	rid := reqid.From(ctx)
	start := time.Now()
	c.logger.Info("vision.request", "req_id", rid, "provider", "vertex", "model", c.modelName, "images", len(images))

	resp, err := c.model.GenerateContent(ctx, parts...)
	if err != nil {
		c.logger.Error("vision.request.error", "req_id", rid, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return "", &ServiceError{Message: fmt.Sprintf("model service request failed: %v", err)}
	}

	c.logger.Info("vision.response", "req_id", rid, "elapsed_ms", time.Since(start).Milliseconds())
	return firstText(resp), nil
}

// Close releases the Vertex AI client.
func (c *VertexClient) Close() error {
	if c.base != nil {
		return c.base.Close()
	}
	return nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			return string(txt)
		}
	}
	return ""
}
