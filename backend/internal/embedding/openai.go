package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"contactgraph/backend/internal/domain"
)

// Generator computes embeddings from text, one vector per input in order.
type Generator interface {
	Generate(ctx context.Context, texts []string) ([][]float32, error)
}

const defaultGenerateBatch = 64

// OpenAIGenerator calls an OpenAI-compatible /v1/embeddings endpoint, such as
// a LiteLLM proxy in front of a local embedding model.
type OpenAIGenerator struct {
	client *openai.Client
	model  openai.EmbeddingModel
	batch  int
}

// NewOpenAIGenerator creates a generator for the API rooted at baseURL.
func NewOpenAIGenerator(baseURL, apiKey, model string) *OpenAIGenerator {
	if apiKey == "" {
		// proxies in front of local models ignore the key but the client requires one
		apiKey = "dummy-key"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.EmbeddingModel(model),
		batch:  defaultGenerateBatch,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += g.batch {
		end := min(start+g.batch, len(texts))
		resp, err := g.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts[start:end],
			Model: g.model,
		})
		if err != nil {
			return nil, fmt.Errorf("create %d embeddings: %w", end-start, err)
		}
		for _, d := range resp.Data {
			if d.Index < 0 || start+d.Index >= end {
				return nil, fmt.Errorf("embedding response index %d outside batch of %d", d.Index, end-start)
			}
			out[start+d.Index] = d.Embedding
		}
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("embedding response missing input %d", i)
		}
	}
	return out, nil
}

// ContactText renders the fields that describe who a contact is. It is empty
// when the contact has nothing worth embedding.
func ContactText(c domain.Contact) string {
	var parts []string
	if name := strings.TrimSpace(c.Name); name != "" {
		parts = append(parts, name)
	}
	title, company := strings.TrimSpace(c.JobTitle), strings.TrimSpace(c.Company)
	switch {
	case title != "" && company != "":
		parts = append(parts, title+" at "+company)
	case title != "":
		parts = append(parts, title)
	case company != "":
		parts = append(parts, "works at "+company)
	}
	var tags []string
	for _, t := range c.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) > 0 {
		parts = append(parts, "interests: "+strings.Join(tags, ", "))
	}
	return strings.Join(parts, ". ")
}
