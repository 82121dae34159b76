package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/jmorganca/ollama/api"
)

type OllamaProvider struct {
	httpClient *http.Client
	base       *url.URL
	model      string
	dimensions int
}

var _ Provider = &OllamaProvider{}

// NewOllama builds a provider backed by a local or remote Ollama server. The
// api client exposes no embeddings call, so requests go straight to the
// /api/embeddings endpoint using the api package's wire types.
func NewOllama(host string, port string, model string) (*OllamaProvider, error) {
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "11434"
	}
	if model == "" {
		model = "all-minilm"
	}

	base, err := url.Parse(fmt.Sprintf("http://%s:%s", host, port))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama address %s:%s: %w", host, port, err)
	}

	return &OllamaProvider{
		httpClient: http.DefaultClient,
		base:       base,
		model:      model,
		dimensions: 384, // all-minilm default
	}, nil
}

func (p *OllamaProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(api.EmbeddingRequest{
		Model:  p.model,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings request failed: %w", err)
	}

	endpoint := p.base.JoinPath("api", "embeddings").String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings request failed: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := api.StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		if err := json.Unmarshal(body, &apiErr); err != nil {
			apiErr.ErrorMessage = string(body)
		}
		return nil, fmt.Errorf("ollama embeddings request failed: %w", apiErr)
	}

	var er api.EmbeddingResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, fmt.Errorf("ollama embeddings response invalid: %w", err)
	}

	vec := make([]float32, len(er.Embedding))
	for i, v := range er.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (p *OllamaProvider) Model() Model {
	return Model{
		Name:       p.model,
		Dimensions: p.dimensions,
	}
}
