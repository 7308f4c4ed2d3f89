// Package embedding provides text and image embeddings used for
// conversation-continuity detection.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
)

// Sentinel errors.
var (
	ErrNoCredentials = errors.New("embedding: no provider credentials configured")
	ErrEmptyInput    = errors.New("embedding: empty input")
)

// ProviderType identifies an embedding provider.
type ProviderType string

const (
	ProviderCohere ProviderType = "cohere"
	ProviderVoyage ProviderType = "voyage"
)

// client is the provider-facing half of the service.
type client interface {
	embedText(ctx context.Context, text string) ([]float64, error)
	embedImage(ctx context.Context, dataURI string) ([]float64, error)
	name() string
}

// Credentials holds the configured embedding provider API keys.
type Credentials struct {
	Cohere string
	Voyage string
}

// Service produces embeddings through a single configured provider.
// Failures are transient: callers treat an error as "no embedding this turn".
type Service struct {
	client client

	mu  sync.Mutex
	dim int
}

// New selects a provider by preference, falling back to whichever credential
// is present. Returns ErrNoCredentials when neither key is configured.
func New(preferred ProviderType, creds Credentials) (*Service, error) {
	order := []ProviderType{preferred, ProviderCohere, ProviderVoyage}
	for _, pt := range order {
		switch {
		case pt == ProviderCohere && creds.Cohere != "":
			return &Service{client: newCohereClient(creds.Cohere)}, nil
		case pt == ProviderVoyage && creds.Voyage != "":
			return &Service{client: newVoyageClient(creds.Voyage)}, nil
		}
	}
	return nil, ErrNoCredentials
}

// Name returns the active provider name.
func (s *Service) Name() string { return s.client.name() }

// EmbedText embeds a text snippet.
func (s *Service) EmbedText(ctx context.Context, text string) ([]float64, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vec, err := s.client.embedText(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.checkDim(vec)
}

// EmbedImage embeds raw image bytes of the given media type.
func (s *Service) EmbedImage(ctx context.Context, data []byte, mediaType string) ([]float64, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	vec, err := s.client.embedImage(ctx, imageDataURI(data, mediaType))
	if err != nil {
		return nil, err
	}
	return s.checkDim(vec)
}

// checkDim pins the embedding dimension on the first successful call and
// rejects vectors of any other size afterwards.
func (s *Service) checkDim(vec []float64) ([]float64, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding: provider %s returned empty vector", s.client.name())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim == 0 {
		s.dim = len(vec)
	} else if len(vec) != s.dim {
		return nil, fmt.Errorf("embedding: dimension mismatch: got %d, want %d", len(vec), s.dim)
	}
	return vec, nil
}

// Combine averages the vectors and re-normalises the mean to unit length.
// Returns nil for empty input or disagreeing dimensions. A single vector is
// normalised and returned as-is otherwise.
func Combine(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil
	}
	mean := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil
		}
		for i, x := range v {
			mean[i] += x
		}
	}
	n := float64(len(vectors))
	var norm float64
	for i := range mean {
		mean[i] /= n
		norm += mean[i] * mean[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil
	}
	for i := range mean {
		mean[i] /= norm
	}
	return mean
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// empty, zero-length, or the dimensions disagree.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
