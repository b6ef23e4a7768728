package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	jinaEndpoint = "https://api.jina.ai/v1/embeddings"
)

// EmbeddingProvider turns exercise texts and search queries into vectors.
type EmbeddingProvider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	GetModel() string
	GetDimensions() int
}

// EmbeddingProviderConfig holds configuration for an embedding provider.
type EmbeddingProviderConfig struct {
	Provider   string // jina or openai-compatible
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

// NewEmbeddingProvider creates the provider named by cfg.Provider.
func NewEmbeddingProvider(cfg *EmbeddingProviderConfig) (EmbeddingProvider, error) {
	switch cfg.Provider {
	case "jina", "":
		return NewEmbeddingService(cfg), nil
	case "openai-compatible":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai-compatible embedding requires a base url")
		}
		return NewEmbeddingService(cfg), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}

// EmbeddingService calls a Jina or OpenAI-compatible embeddings endpoint.
type EmbeddingService struct {
	client     *resty.Client
	endpoint   string
	model      string
	dimensions int
	jina       bool
}

// NewEmbeddingService creates a new embedding service. A BaseURL overrides
// the public Jina endpoint.
func NewEmbeddingService(cfg *EmbeddingProviderConfig) *EmbeddingService {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(30 * time.Second)

	endpoint := jinaEndpoint
	if cfg.BaseURL != "" {
		endpoint = strings.TrimSuffix(cfg.BaseURL, "/") + "/embeddings"
	}

	return &EmbeddingService{
		client:     client,
		endpoint:   endpoint,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		jina:       cfg.Provider != "openai-compatible",
	}
}

// GetModel returns the model name being used
func (s *EmbeddingService) GetModel() string {
	return s.model
}

// GetDimensions returns the vector size requested from the provider.
func (s *EmbeddingService) GetDimensions() int {
	return s.dimensions
}

type embeddingRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	Input         []string `json:"input"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Detail string `json:"detail,omitempty"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// EmbedBatch generates passage embeddings for multiple texts, in input order.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	resp, err := s.call(ctx, "retrieval.passage", texts)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index >= 0 && item.Index < len(embeddings) {
			embeddings[item.Index] = item.Embedding
		}
	}
	for i, e := range embeddings {
		if e == nil {
			return nil, fmt.Errorf("embedding %d missing from response", i)
		}
	}
	return embeddings, nil
}

// EmbedQuery generates an embedding optimized for search queries.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	resp, err := s.call(ctx, "retrieval.query", []string{query})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

func (s *EmbeddingService) call(ctx context.Context, task string, input []string) (*embeddingResponse, error) {
	req := embeddingRequest{
		Model:      s.model,
		Dimensions: s.dimensions,
		Input:      input,
	}
	if s.jina {
		req.Task = task
		req.EmbeddingType = "float"
	}

	var resp embeddingResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding API: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		switch {
		case resp.Detail != "":
			return nil, fmt.Errorf("embedding API error: %s", resp.Detail)
		case resp.Error != nil && resp.Error.Message != "":
			return nil, fmt.Errorf("embedding API error: %s", resp.Error.Message)
		}
		return nil, fmt.Errorf("embedding API error: status %d", httpResp.StatusCode())
	}
	return &resp, nil
}
