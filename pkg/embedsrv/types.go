// Package embedsrv holds the wire types shared between the HTTP surface
// and the inference pipeline: the OpenAI-compatible embeddings request
// and response shapes, and the model-catalog cards.
package embedsrv

import (
	"encoding/json"
	"fmt"
)

// EncodingFormat selects how embeddings should be serialized in the
// response. Only Float is ever actually emitted; Base64 is accepted
// and otherwise ignored: FromEmbeddings always emits float rows.
type EncodingFormat string

const (
	EncodingFormatFloat  EncodingFormat = "float"
	EncodingFormatBase64 EncodingFormat = "base64"
)

// Sentences is the untagged request-input variant: either a single
// string or an ordered, non-empty list of strings. Go has no native
// untagged-enum deserialization, so this is hand-rolled around a
// discriminated pair.
type Sentences struct {
	single   *string
	multiple []string
}

// NewSingleSentence builds a Sentences wrapping exactly one string.
func NewSingleSentence(s string) Sentences {
	return Sentences{single: &s}
}

// NewSentences builds a Sentences wrapping an ordered list of strings.
func NewSentences(ss []string) Sentences {
	return Sentences{multiple: ss}
}

// Strings flattens the Sentences into an ordered slice, regardless of
// whether the wire form was a scalar or an array.
func (s Sentences) Strings() []string {
	if s.single != nil {
		return []string{*s.single}
	}
	return s.multiple
}

// Len reports the number of sentences, N, that the rest of the
// pipeline treats as the sequence count for batching and usage.
func (s Sentences) Len() int {
	if s.single != nil {
		return 1
	}
	return len(s.multiple)
}

func (s Sentences) MarshalJSON() ([]byte, error) {
	if s.single != nil {
		return json.Marshal(*s.single)
	}
	return json.Marshal(s.multiple)
}

func (s *Sentences) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		s.single = &single
		s.multiple = nil
		return nil
	}

	var multiple []string
	if err := json.Unmarshal(data, &multiple); err == nil {
		if len(multiple) == 0 {
			return fmt.Errorf("input must contain at least one sentence")
		}
		s.multiple = multiple
		s.single = nil
		return nil
	}

	return fmt.Errorf("input must be a string or an array of strings")
}

// Usage reports token accounting for a request.
//
// prompt_tokens and total_tokens are set to the number of input
// sequences, not the summed token count across those sequences. This
// is preserved intentionally rather than corrected.
type Usage struct {
	PromptTokens uint32 `json:"prompt_tokens"`
	TotalTokens  uint32 `json:"total_tokens"`
}

// EmbeddingsRequest is the POST /v1/embeddings request body.
type EmbeddingsRequest struct {
	Input          Sentences       `json:"input" binding:"required"`
	Model          string          `json:"model" binding:"required"`
	EncodingFormat *EncodingFormat `json:"encoding_format,omitempty"`
	Dimensions     *int            `json:"dimensions,omitempty"`
	User           *string         `json:"user,omitempty"`
}

// EmbeddingData is one row of the response's data array.
type EmbeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// EmbeddingsResponse is the POST /v1/embeddings response body.
type EmbeddingsResponse struct {
	Object string          `json:"object"`
	Data   []EmbeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  Usage           `json:"usage"`
}

// FromEmbeddings assembles a response from a pooled, row-major matrix
// and the usage collected while producing it.
func FromEmbeddings(embeddings [][]float32, usage Usage, model string) EmbeddingsResponse {
	data := make([]EmbeddingData, len(embeddings))
	for i, row := range embeddings {
		data[i] = EmbeddingData{
			Object:    "embedding",
			Embedding: row,
			Index:     i,
		}
	}
	return EmbeddingsResponse{
		Object: "list",
		Data:   data,
		Model:  model,
		Usage:  usage,
	}
}

// ModelCard describes one entry in the model catalog.
type ModelCard struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelCardList is the GET /v1/models response body.
type ModelCardList struct {
	Object string      `json:"object"`
	Data   []ModelCard `json:"data"`
}
