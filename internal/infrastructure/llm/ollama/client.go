package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
	"github.com/Maheswari-23/EVAssist/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithExecutor routes every upstream call through retry and circuit breaking.
func WithExecutor(executor *resilience.Executor) Option {
	return func(c *Client) {
		c.executor = executor
	}
}

func New(baseURL, genModel, embedModel string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping checks that the Ollama daemon answers.
func (c *Client) Ping(ctx context.Context) error {
	var response struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	return c.call(ctx, "tags", func(ctx context.Context) error {
		return c.getJSON(ctx, "/api/tags", &response, "tags")
	})
}

type Embedder struct {
	client    *Client
	dimension int
}

// NewEmbedder returns an embedder that rejects vectors whose length differs
// from dimension. A zero dimension disables the check.
func NewEmbedder(client *Client, dimension int) *Embedder {
	return &Embedder{client: client, dimension: dimension}
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}

	var embeddings [][]float32
	err := e.client.call(ctx, "embed", func(ctx context.Context) error {
		var response struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
			return err
		}
		if err := e.checkShape(response.Embeddings, len(texts)); err != nil {
			return err
		}
		embeddings = response.Embeddings
		return nil
	})
	if err != nil {
		return nil, err
	}
	return embeddings, nil
}

func (e *Embedder) checkShape(vectors [][]float32, inputs int) error {
	if len(vectors) != inputs {
		return &MalformedResponseError{
			Operation: "embed",
			Detail:    fmt.Sprintf("%d vectors for %d inputs", len(vectors), inputs),
		}
	}
	if e.dimension <= 0 {
		return nil
	}
	for i, vector := range vectors {
		if len(vector) != e.dimension {
			return &MalformedResponseError{
				Operation: "embed",
				Detail:    fmt.Sprintf("vector %d has dimension %d, want %d", i, len(vector), e.dimension),
			}
		}
	}
	return nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return vectors[0], nil
}

type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Complete(ctx context.Context, prompt domain.Prompt) (string, error) {
	reqBody := map[string]any{
		"model":  g.client.genModel,
		"prompt": prompt.User,
		"stream": false,
	}
	if strings.TrimSpace(prompt.System) != "" {
		reqBody["system"] = prompt.System
	}

	var response struct {
		Response string `json:"response"`
	}
	err := g.client.call(ctx, "generate", func(ctx context.Context) error {
		return g.client.postJSON(ctx, "/api/generate", reqBody, &response, "generate")
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

func (c *Client) call(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return wrapTemporaryIfNeeded("ollama "+operation, fn(ctx))
	}
	err := c.executor.Execute(ctx, "ollama."+operation, fn, classifyOllamaError)
	return wrapTemporaryIfNeeded("ollama "+operation, err)
}
