package sentence

import (
	"math"
	"testing"

	"github.com/embedsrv/embedsrv/internal/modelconfig"
)

// fakeModel returns deterministic token embeddings without touching
// ONNX Runtime, so pooling and usage-accounting behavior can be
// exercised in isolation.
type fakeModel struct {
	dim int
}

func (f *fakeModel) Dimension() int { return f.dim }
func (f *fakeModel) Device() string { return "cpu" }

func (f *fakeModel) Encode(tokenIDs, _ [][]int64) ([][][]float32, error) {
	out := make([][][]float32, len(tokenIDs))
	for i, row := range tokenIDs {
		out[i] = make([][]float32, len(row))
		for j, id := range row {
			vec := make([]float32, f.dim)
			for d := 0; d < f.dim; d++ {
				vec[d] = float32(id) + float32(d)
			}
			out[i][j] = vec
		}
	}
	return out, nil
}

// fakeTokenizer returns pre-baked rows instead of running a real
// tokenizer.json through daulet/tokenizers, so pooling and usage
// behavior can be tested without native bindings.
type fakeTokenizer struct {
	rows  [][]int64
	padID int64
}

func (f *fakeTokenizer) EncodeBatch(sentences []string) ([][]int64, error) {
	return f.rows, nil
}

func (f *fakeTokenizer) PadTokenID() int64 { return f.padID }

func mustTokenizerWithRows(t *testing.T, rows [][]int64, padID int64) *fakeTokenizer {
	t.Helper()
	return &fakeTokenizer{rows: rows, padID: padID}
}

func TestEncodeBatchWithUsage_UsageCountsSequencesNotTokens(t *testing.T) {
	st := &SentenceTransformer{
		model:     &fakeModel{dim: 4},
		tokenizer: mustTokenizerWithRows(t, [][]int64{{1, 2, 3}, {1, 0, 0}}, 0),
		modelType: modelconfig.ModelType{Kind: modelconfig.KindEmbedding, Pooling: modelconfig.PoolingMean},
	}

	_, usage, err := st.EncodeBatchWithUsage([]string{"a longer sentence", "short"}, false)
	if err != nil {
		t.Fatalf("EncodeBatchWithUsage: %v", err)
	}
	if usage.PromptTokens != 2 || usage.TotalTokens != 2 {
		t.Errorf("expected usage to count 2 sequences (not summed tokens), got %+v", usage)
	}
}

func TestMeanPool_OmitsDivision(t *testing.T) {
	st := &SentenceTransformer{
		model:     &fakeModel{dim: 2},
		tokenizer: mustTokenizerWithRows(t, [][]int64{{5, 5, 5}}, 0),
		modelType: modelconfig.ModelType{Kind: modelconfig.KindEmbedding, Pooling: modelconfig.PoolingMean},
	}

	pooled, _, err := st.EncodeBatchWithUsage([]string{"x"}, false)
	if err != nil {
		t.Fatalf("EncodeBatchWithUsage: %v", err)
	}
	// Each of 3 live tokens contributes [5,6]; a true mean would give
	// [5,6], the preserved sum gives [15,18].
	want := []float32{15, 18}
	for d := range want {
		if pooled[0][d] != want[d] {
			t.Errorf("meanPool()[0][%d] = %v, want %v (sum, not mean)", d, pooled[0][d], want[d])
		}
	}
}

func TestClsPool_SelectsFirstPosition(t *testing.T) {
	st := &SentenceTransformer{
		model:     &fakeModel{dim: 3},
		tokenizer: mustTokenizerWithRows(t, [][]int64{{9, 1, 1}}, 0),
		modelType: modelconfig.ModelType{Kind: modelconfig.KindEmbedding, Pooling: modelconfig.PoolingCls},
	}

	pooled, _, err := st.EncodeBatchWithUsage([]string{"x"}, false)
	if err != nil {
		t.Fatalf("EncodeBatchWithUsage: %v", err)
	}
	if pooled[0][0] != 9 {
		t.Errorf("expected Cls pooling to select position 0's embedding, got %v", pooled[0])
	}
}

func TestNormalize_UnitLength(t *testing.T) {
	row := []float32{3, 4}
	normalized := normalizeL2(row)
	var sumSquares float64
	for _, v := range normalized {
		sumSquares += float64(v) * float64(v)
	}
	if math.Abs(sumSquares-1) > 1e-3 {
		t.Errorf("expected unit L2 norm, got sum of squares %v", sumSquares)
	}
}

func TestClassifier_BehavesAsCls(t *testing.T) {
	st := &SentenceTransformer{
		model:     &fakeModel{dim: 2},
		tokenizer: mustTokenizerWithRows(t, [][]int64{{7, 1, 1}}, 0),
		modelType: modelconfig.ModelType{Kind: modelconfig.KindClassifier},
	}
	pooled, _, err := st.EncodeBatchWithUsage([]string{"x"}, false)
	if err != nil {
		t.Fatalf("EncodeBatchWithUsage: %v", err)
	}
	if pooled[0][0] != 7 {
		t.Errorf("expected classifier to behave as Cls pooling, got %v", pooled[0])
	}
}

func TestSplade_Unsupported(t *testing.T) {
	st := &SentenceTransformer{
		model:     &fakeModel{dim: 2},
		tokenizer: mustTokenizerWithRows(t, [][]int64{{7, 1, 1}}, 0),
		modelType: modelconfig.ModelType{Kind: modelconfig.KindEmbedding, Pooling: modelconfig.PoolingSplade},
	}
	if _, _, err := st.EncodeBatchWithUsage([]string{"x"}, false); err == nil {
		t.Fatal("expected an error for Splade pooling")
	}
}
