package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Common errors for embedding operations
var (
	ErrEmptyTexts      = errors.New("no texts provided for embedding")
	ErrMissingAPIKey   = errors.New("OPENAI_API_KEY environment variable not set")
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// EmbeddingRecord is one embedded text, tagged with the registered model that
// produced it.
type EmbeddingRecord struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
	Model     string    `json:"model"`
}

// Embedder generates embeddings for one registered model. The model id is the
// fusion key: it names the weight rows and the vector collection, not the
// provider's API model.
type Embedder interface {
	// Embed generates embeddings for the provided texts
	Embed(ctx context.Context, texts []string) ([]EmbeddingRecord, error)

	// GetModel returns the registered model identifier
	GetModel() string

	// GetDimension returns the embedding vector dimension
	GetDimension() int
}

// apiModelFor maps a registered model id to the OpenAI API model serving it.
// The Dimensions request parameter pins the output to the collection's
// dimension, so two registered models can share an API model.
func apiModelFor(model string) string {
	switch model {
	case "bge-small":
		return string(openai.EmbeddingModelTextEmbedding3Small)
	default:
		return string(openai.EmbeddingModelTextEmbedding3Large)
	}
}

// OpenAIEmbedder implements Embedder over OpenAI's embedding API.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	apiModel  string
	dimension int
}

// NewOpenAIEmbedder creates an embedder for one registered model.
func NewOpenAIEmbedder(model string, dimension int) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrEmbeddingFailed)
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		apiModel:  apiModelFor(model),
		dimension: dimension,
	}, nil
}

// GetModel returns the registered model identifier
func (e *OpenAIEmbedder) GetModel() string {
	return e.model
}

// GetDimension returns the embedding vector dimension
func (e *OpenAIEmbedder) GetDimension() int {
	return e.dimension
}

// Embed generates embeddings for the provided texts.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([]EmbeddingRecord, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyTexts
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          e.apiModel,
		Dimensions:     openai.Int(int64(e.dimension)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(resp.Data), len(texts))
	}

	records := make([]EmbeddingRecord, len(resp.Data))
	for i, data := range resp.Data {
		vec := make([]float32, len(data.Embedding))
		for j, val := range data.Embedding {
			vec[j] = float32(val)
		}

		records[i] = EmbeddingRecord{
			Text:      texts[int(data.Index)],
			Embedding: vec,
			Index:     int(data.Index),
			Model:     e.model,
		}
	}

	return records, nil
}
