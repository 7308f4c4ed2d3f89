package embedding

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	cohereBaseURL = "https://api.cohere.com/v2"
	cohereModel   = "embed-v4.0"
)

type cohereClient struct {
	http *resty.Client
}

func newCohereClient(apiKey string) *cohereClient {
	return &cohereClient{
		http: resty.New().
			SetBaseURL(cohereBaseURL).
			SetTimeout(30 * time.Second).
			SetAuthToken(apiKey).
			SetHeader("Content-Type", "application/json"),
	}
}

func (c *cohereClient) name() string { return string(ProviderCohere) }

type cohereRequest struct {
	Model          string   `json:"model"`
	InputType      string   `json:"input_type"`
	EmbeddingTypes []string `json:"embedding_types"`
	Texts          []string `json:"texts,omitempty"`
	Images         []string `json:"images,omitempty"`
}

type cohereResponse struct {
	Embeddings struct {
		Float [][]float64 `json:"float"`
	} `json:"embeddings"`
}

func (c *cohereClient) embedText(ctx context.Context, text string) ([]float64, error) {
	return c.embed(ctx, cohereRequest{
		Model:          cohereModel,
		InputType:      "search_document",
		EmbeddingTypes: []string{"float"},
		Texts:          []string{text},
	})
}

func (c *cohereClient) embedImage(ctx context.Context, dataURI string) ([]float64, error) {
	return c.embed(ctx, cohereRequest{
		Model:          cohereModel,
		InputType:      "image",
		EmbeddingTypes: []string{"float"},
		Images:         []string{dataURI},
	})
}

func (c *cohereClient) embed(ctx context.Context, req cohereRequest) ([]float64, error) {
	var result cohereResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/embed")
	if err != nil {
		return nil, fmt.Errorf("cohere embed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("cohere embed: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Embeddings.Float) == 0 {
		return nil, fmt.Errorf("cohere embed: no embeddings in response")
	}
	return result.Embeddings.Float[0], nil
}

// imageDataURI renders raw image bytes as a base64 data URI, the shape both
// embedding providers accept for image input.
func imageDataURI(data []byte, mediaType string) string {
	return fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data))
}
