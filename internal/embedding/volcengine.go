package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gitvec/gitvec/internal/config"
)

// VolcEngineClient implements Provider for the VolcEngine Ark embedding API
type VolcEngineClient struct {
	endpoint   string
	apiKey     string
	model      string
	dimensions int
	batchLimit int
	client     *http.Client
}

// NewVolcEngineClient creates a new VolcEngine embedding client
func NewVolcEngineClient(cfg *config.EmbeddingConfig) (*VolcEngineClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("volcengine api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("volcengine model is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://ark.cn-beijing.volces.com/api/v3/embeddings/multimodal"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &VolcEngineClient{
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchLimit: cfg.MaxBatchSize,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

// EmbedBatch generates embeddings for multiple texts, preserving input order
func (c *VolcEngineClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided")
	}
	inputs := make([]map[string]any, 0, len(texts))
	for _, text := range texts {
		inputs = append(inputs, map[string]any{
			"type": "text",
			"text": text,
		})
	}
	reqBody := map[string]any{
		"model":           c.model,
		"input":           inputs,
		"encoding_format": "float",
	}
	if c.dimensions > 0 {
		reqBody["dimensions"] = c.dimensions
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(resp.StatusCode,
			fmt.Errorf("volcengine status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var parsed struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) != len(texts) {
		if parsed.Message != "" {
			return nil, fmt.Errorf("volcengine embedding response incomplete: %s", parsed.Message)
		}
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(parsed.Data))
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("invalid embedding index: %d", item.Index)
		}
		vec := make([]float32, len(item.Embedding))
		for i, val := range item.Embedding {
			vec[i] = float32(val)
		}
		embeddings[item.Index] = vec
	}
	return embeddings, nil
}

// Dimensions returns the configured embedding width
func (c *VolcEngineClient) Dimensions() int {
	if c.dimensions > 0 {
		return c.dimensions
	}
	return 2048
}

// MaxBatchSize returns the provider batch limit
func (c *VolcEngineClient) MaxBatchSize() int {
	if c.batchLimit > 0 {
		return c.batchLimit
	}
	return 64
}
