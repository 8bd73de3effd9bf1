// Package sentence composes a tokenizer, an embedder model, and a
// resolved model type into a SentenceTransformer: the component that
// turns raw sentences into pooled, optionally normalized embeddings
// plus usage accounting.
//
// A typestate builder with phantom marker types (Uninitialised/
// Initialised) adds no behavior in Go, where there is no equivalent of
// a trait bound on a generic parameter used purely for compile-time
// state; it collapses here to a plain Config value validated in a
// single Build call.
package sentence

import (
	"math"

	"github.com/embedsrv/embedsrv/internal/embedder"
	"github.com/embedsrv/embedsrv/internal/modelconfig"
	"github.com/embedsrv/embedsrv/internal/tokenizer"
	"github.com/embedsrv/embedsrv/internal/util"
	"github.com/embedsrv/embedsrv/pkg/embedsrv"
)

// textTokenizer is the subset of *tokenizer.Tokenizer this package
// depends on, narrowed to an interface so tests can substitute a
// fixture without loading a real tokenizer.json.
type textTokenizer interface {
	EncodeBatch(sentences []string) ([][]int64, error)
	PadTokenID() int64
}

var _ textTokenizer = (*tokenizer.Tokenizer)(nil)

// Config is the plain configuration record validated once by Build,
// replacing a compile-time-state builder.
type Config struct {
	Model     embedder.Model
	Tokenizer *tokenizer.Tokenizer
	ModelType modelconfig.ModelType
}

// SentenceTransformer composes an EmbedderModel, a Tokenizer, and a
// ModelType. It is thread-confined: exactly one lives per executor.
type SentenceTransformer struct {
	model     embedder.Model
	tokenizer textTokenizer
	modelType modelconfig.ModelType
}

// Build validates cfg and returns a ready-to-use SentenceTransformer.
func Build(cfg Config) (*SentenceTransformer, error) {
	if cfg.Model == nil {
		return nil, util.NewError(util.KindModelLoad, "sentence transformer requires a model")
	}
	if cfg.Tokenizer == nil {
		return nil, util.NewError(util.KindModelLoad, "sentence transformer requires a tokenizer")
	}
	return &SentenceTransformer{
		model:     cfg.Model,
		tokenizer: cfg.Tokenizer,
		modelType: cfg.ModelType,
	}, nil
}

// Dimension reports the embedding width produced by the underlying model.
func (st *SentenceTransformer) Dimension() int { return st.model.Dimension() }

// EncodeBatchWithUsage tokenizes, encodes, pools, and optionally
// normalizes a batch of sentences, following the 7-step algorithm:
// batch-tokenize with BatchLongest padding, fill in usage, stack into
// a matrix, run the forward pass, pool per ModelType, optionally
// L2-normalize, and return both the embeddings and usage.
func (st *SentenceTransformer) EncodeBatchWithUsage(sentences []string, normalize bool) ([][]float32, embedsrv.Usage, error) {
	n := len(sentences)

	// usage.prompt_tokens = usage.total_tokens = N, the number of
	// sequences, not the summed token count. Preserved intentionally
	// rather than corrected.
	usage := embedsrv.Usage{
		PromptTokens: uint32(n),
		TotalTokens:  uint32(n),
	}

	tokenIDs, err := st.tokenizer.EncodeBatch(sentences)
	if err != nil {
		return nil, usage, util.WrapError(util.KindInference, err, "tokenization failed")
	}

	attentionMask := buildAttentionMask(tokenIDs, st.tokenizer.PadTokenID())

	tokenEmbeddings, err := st.model.Encode(tokenIDs, attentionMask)
	if err != nil {
		return nil, usage, util.WrapError(util.KindInference, err, "model forward pass failed")
	}

	pooled, err := st.pool(tokenEmbeddings, tokenIDs)
	if err != nil {
		return nil, usage, err
	}

	if normalize {
		for i := range pooled {
			pooled[i] = normalizeL2(pooled[i])
		}
	}

	return pooled, usage, nil
}

func buildAttentionMask(tokenIDs [][]int64, padID int64) [][]int64 {
	mask := make([][]int64, len(tokenIDs))
	for i, row := range tokenIDs {
		m := make([]int64, len(row))
		for j, id := range row {
			if id != padID {
				m[j] = 1
			}
		}
		mask[i] = m
	}
	return mask
}

// pool reduces N×L×H token embeddings to N×H sentence embeddings,
// according to the resolved ModelType. Classifier behaves as Cls
// (position 0 is treated as the class embedding).
func (st *SentenceTransformer) pool(tokenEmbeddings [][][]float32, tokenIDs [][]int64) ([][]float32, error) {
	if st.modelType.Kind == modelconfig.KindClassifier {
		return clsPool(tokenEmbeddings), nil
	}

	switch st.modelType.Pooling {
	case modelconfig.PoolingCls:
		return clsPool(tokenEmbeddings), nil
	case modelconfig.PoolingMean:
		return st.meanPool(tokenEmbeddings, tokenIDs), nil
	case modelconfig.PoolingSplade:
		return nil, util.NewError(util.KindInference, "SPLADE pooling is not supported")
	default:
		return nil, util.NewError(util.KindInference, "unknown pooling strategy")
	}
}

func clsPool(tokenEmbeddings [][][]float32) [][]float32 {
	out := make([][]float32, len(tokenEmbeddings))
	for i, seq := range tokenEmbeddings {
		row := make([]float32, len(seq[0]))
		copy(row, seq[0])
		out[i] = row
	}
	return out
}

// meanPool builds a mask from live (non-pad) tokens, broadcast-
// multiplies it onto the embeddings, and sums along the token axis.
//
// This is a mask-weighted SUM, not a mean: the divisor (live-token
// count) is never applied, despite the name. That omission is
// preserved intentionally rather than corrected. See the design
// notes on usage accounting for the sibling issue of the same kind.
func (st *SentenceTransformer) meanPool(tokenEmbeddings [][][]float32, tokenIDs [][]int64) [][]float32 {
	padID := st.tokenizer.PadTokenID()
	out := make([][]float32, len(tokenEmbeddings))

	for i, seq := range tokenEmbeddings {
		h := len(seq[0])
		sum := make([]float32, h)
		for j, tok := range seq {
			if tokenIDs[i][j] == padID {
				continue
			}
			for d := 0; d < h; d++ {
				sum[d] += tok[d]
			}
		}
		out[i] = sum
	}
	return out
}

func normalizeL2(row []float32) []float32 {
	var sumSquares float64
	for _, v := range row {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return row
	}
	norm := float32(math.Sqrt(sumSquares))
	out := make([]float32, len(row))
	for i, v := range row {
		out[i] = v / norm
	}
	return out
}
