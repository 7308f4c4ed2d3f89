package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	voyageBaseURL = "https://api.voyageai.com/v1"
	voyageModel   = "voyage-multimodal-3"
)

type voyageClient struct {
	http *resty.Client
}

func newVoyageClient(apiKey string) *voyageClient {
	return &voyageClient{
		http: resty.New().
			SetBaseURL(voyageBaseURL).
			SetTimeout(30 * time.Second).
			SetAuthToken(apiKey).
			SetHeader("Content-Type", "application/json"),
	}
}

func (c *voyageClient) name() string { return string(ProviderVoyage) }

type voyageContent struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

type voyageInput struct {
	Content []voyageContent `json:"content"`
}

type voyageRequest struct {
	Model  string        `json:"model"`
	Inputs []voyageInput `json:"inputs"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

func (c *voyageClient) embedText(ctx context.Context, text string) ([]float64, error) {
	return c.embed(ctx, voyageInput{
		Content: []voyageContent{{Type: "text", Text: text}},
	})
}

func (c *voyageClient) embedImage(ctx context.Context, dataURI string) ([]float64, error) {
	return c.embed(ctx, voyageInput{
		Content: []voyageContent{{Type: "image_base64", ImageBase64: dataURI}},
	})
}

func (c *voyageClient) embed(ctx context.Context, input voyageInput) ([]float64, error) {
	var result voyageResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(voyageRequest{Model: voyageModel, Inputs: []voyageInput{input}}).
		SetResult(&result).
		Post("/multimodalembeddings")
	if err != nil {
		return nil, fmt.Errorf("voyage embed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("voyage embed: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("voyage embed: no embeddings in response")
	}
	return result.Data[0].Embedding, nil
}
