package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// NoopProvider is the "disabled" embeddings mode: Run returns immediately
// without polling, and this type exists mainly so config wiring always has
// a concrete Provider to construct.
type NoopProvider struct{}

func (NoopProvider) Name() string       { return "disabled" }
func (NoopProvider) Dimensions() int    { return 0 }
func (NoopProvider) Embed(context.Context, []string) ([][]float64, error) {
	return nil, nil
}

// LocalProvider is a seam for an in-process embedding model. No such model
// ships in this build, so Embed always reports ErrLocalModelUnavailable —
// the indexer treats that as "skip this tick", not a fatal error.
type LocalProvider struct {
	ModelName string
	Dims      int
}

func (p LocalProvider) Name() string    { return p.ModelName }
func (p LocalProvider) Dimensions() int { return p.Dims }
func (p LocalProvider) Embed(context.Context, []string) ([][]float64, error) {
	return nil, ErrLocalModelUnavailable
}

// RemoteProvider calls an OpenAI-compatible embeddings endpoint
// (POST {base}/embeddings, {"model":..., "input": [...]}), with exponential
// backoff on transient failures and a token-bucket rate limiter so a burst
// of pending rows doesn't exceed the upstream's request budget.
type RemoteProvider struct {
	BaseURL    string
	ModelName  string
	Dims       int
	AuthMethod string // "bearer" | "api_key"
	APIKey     string
	HTTPClient *http.Client
	Limiter    *rate.Limiter
}

// NewRemoteProvider builds a RemoteProvider with sane defaults for the HTTP
// client and rate limiter; callers may override either field afterward.
func NewRemoteProvider(baseURL, modelName string, dims int, authMethod, apiKey string) *RemoteProvider {
	return &RemoteProvider{
		BaseURL:    baseURL,
		ModelName:  modelName,
		Dims:       dims,
		AuthMethod: authMethod,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Limiter:    rate.NewLimiter(rate.Limit(5), 10),
	}
}

func (p *RemoteProvider) Name() string    { return p.ModelName }
func (p *RemoteProvider) Dimensions() int { return p.Dims }

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (p *RemoteProvider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if err := p.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var result [][]float64
	op := func() error {
		vectors, err := p.doRequest(ctx, texts)
		if err != nil {
			return err
		}
		result = vectors
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("embedding request failed after retries: %w", err)
	}
	return result, nil
}

func (p *RemoteProvider) doRequest(ctx context.Context, texts []string) ([][]float64, error) {
	body, err := json.Marshal(embeddingsRequest{Model: p.ModelName, Input: texts})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("marshaling embeddings request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building embeddings request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	switch p.AuthMethod {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	case "api_key":
		req.Header.Set("api-key", p.APIKey)
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, err // network errors are retryable
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("embeddings endpoint returned %d: %s", resp.StatusCode, data)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("embeddings endpoint returned %d: %s", resp.StatusCode, data))
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parsing embeddings response: %w", err))
	}

	out := make([][]float64, len(parsed.Data))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
