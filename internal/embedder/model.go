// Package embedder wraps a loaded ONNX Runtime session behind the
// EmbedderModel capability: encode(token_ids) -> token_embeddings.
// Bert, JinaBert, and DistilBert each build a different auxiliary
// input before invoking the same underlying forward pass, matching
// what the corresponding PyTorch modules do internally.
package embedder

import (
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/embedsrv/embedsrv/internal/modelconfig"
	"github.com/embedsrv/embedsrv/internal/util"
)

// Model is the EmbedderModel capability: encode a batch of padded
// token id rows into per-token embeddings. Every implementation is
// thread-unsafe in practice; callers (the dedicated executor) must
// guarantee single-threaded access for the model's entire lifetime.
type Model interface {
	// Encode runs the forward pass over an N×L batch of token ids and
	// an N×L attention mask, returning N×L×H token embeddings.
	Encode(tokenIDs, attentionMask [][]int64) ([][][]float32, error)
	Dimension() int
	Device() string
}

// session wraps the pieces common to all three architecture variants:
// a dynamic ONNX session and the hidden dimension it produces.
type session struct {
	sess      *ort.DynamicAdvancedSession
	inputs    []string
	output    string
	dimension int
	device    string
}

func (s *session) Dimension() int { return s.dimension }
func (s *session) Device() string { return s.device }

// EnsureEnvironment initializes the ONNX Runtime environment once per
// process, honoring ONNXRUNTIME_SHARED_LIB / ORT_SHLIB like the rest
// of the pack does for locating the native library.
func EnsureEnvironment() error {
	if ort.IsInitialized() {
		return nil
	}
	if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
		ort.SetSharedLibraryPath(shlib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return util.WrapError(util.KindModelLoad, err, "failed to initialize ONNX Runtime environment")
	}
	return nil
}

// DescribeExecutionProviders logs, at startup, a one-line summary of
// which execution providers this build of ONNX Runtime can offer.
func DescribeExecutionProviders() {
	providers, err := ort.GetAvailableProviders()
	if err != nil {
		util.Logger.Warn("could not query ONNX Runtime execution providers", "error", err)
		return
	}
	util.Logger.Info("ONNX Runtime execution providers available", "providers", providers)
}

func newSession(modelPath string, inputNames []string, outputName string, dimension int) (*session, error) {
	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, []string{outputName}, nil)
	if err != nil {
		return nil, util.WrapError(util.KindModelLoad, err, "failed to create ONNX session")
	}
	device := "cpu"
	if providers, perr := ort.GetAvailableProviders(); perr == nil {
		for _, p := range providers {
			if p != "CPUExecutionProvider" {
				device = p
				break
			}
		}
	}
	return &session{sess: sess, inputs: inputNames, output: outputName, dimension: dimension, device: device}, nil
}

// Load builds the EmbedderModel variant matching arch from an ONNX
// model file on disk.
func Load(modelPath string, arch modelconfig.Architecture, dimension int) (Model, error) {
	switch arch {
	case modelconfig.ArchBert:
		s, err := newSession(modelPath, []string{"input_ids", "attention_mask", "token_type_ids"}, "last_hidden_state", dimension)
		if err != nil {
			return nil, err
		}
		return &BertModel{session: s}, nil
	case modelconfig.ArchJinaBert:
		s, err := newSession(modelPath, []string{"input_ids", "attention_mask"}, "last_hidden_state", dimension)
		if err != nil {
			return nil, err
		}
		return &JinaBertModel{session: s}, nil
	case modelconfig.ArchDistilBert:
		s, err := newSession(modelPath, []string{"input_ids", "attention_mask"}, "last_hidden_state", dimension)
		if err != nil {
			return nil, err
		}
		return &DistilBertModel{session: s}, nil
	default:
		return nil, util.NewError(util.KindModelLoad, "unsupported architecture for embedder model")
	}
}

func runTokenLevel(s *session, shape ort.Shape, values ...[]int64) ([][][]float32, int, int, error) {
	tensors := make([]ort.Value, 0, len(values))
	for _, v := range values {
		t, err := ort.NewTensor(shape, v)
		if err != nil {
			return nil, 0, 0, util.WrapError(util.KindInference, err, "failed to create input tensor")
		}
		defer t.Destroy()
		tensors = append(tensors, t)
	}

	outputs := make([]ort.Value, 1)
	if err := s.sess.Run(tensors, outputs); err != nil {
		return nil, 0, 0, util.WrapError(util.KindInference, err, "ONNX inference failed")
	}
	defer func() {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
	}()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, 0, 0, util.NewError(util.KindInference, "unexpected ONNX output type, expected float32 tensor")
	}

	outShape := outTensor.GetShape()
	if len(outShape) != 3 {
		return nil, 0, 0, util.NewError(util.KindInference, fmt.Sprintf("unexpected output rank %d, want 3", len(outShape)))
	}
	n, l, h := int(outShape[0]), int(outShape[1]), int(outShape[2])
	data := outTensor.GetData()

	result := make([][][]float32, n)
	for i := 0; i < n; i++ {
		result[i] = make([][]float32, l)
		for j := 0; j < l; j++ {
			start := (i*l + j) * h
			row := make([]float32, h)
			copy(row, data[start:start+h])
			result[i][j] = row
		}
	}
	return result, l, h, nil
}

// BertModel builds a zero-valued token_type_ids tensor of the same
// shape as token_ids before forwarding, matching how
// transformers.BertModel treats an absent token_type_ids argument.
type BertModel struct {
	session *session
}

func (m *BertModel) Dimension() int { return m.session.Dimension() }
func (m *BertModel) Device() string { return m.session.Device() }

func (m *BertModel) Encode(tokenIDs, attentionMask [][]int64) ([][][]float32, error) {
	n, l := len(tokenIDs), len(tokenIDs[0])
	flatIDs := flatten(tokenIDs)
	flatMask := flatten(attentionMask)
	flatTypes := make([]int64, n*l)

	shape := ort.NewShape(int64(n), int64(l))
	embeddings, _, _, err := runTokenLevel(m.session, shape, flatIDs, flatMask, flatTypes)
	return embeddings, err
}

// JinaBertModel forwards token_ids and the attention mask directly;
// jina-embeddings-v2 has no token_type_ids input.
type JinaBertModel struct {
	session *session
}

func (m *JinaBertModel) Dimension() int { return m.session.Dimension() }
func (m *JinaBertModel) Device() string { return m.session.Device() }

func (m *JinaBertModel) Encode(tokenIDs, attentionMask [][]int64) ([][][]float32, error) {
	n, l := len(tokenIDs), len(tokenIDs[0])
	flatIDs := flatten(tokenIDs)
	flatMask := flatten(attentionMask)

	shape := ort.NewShape(int64(n), int64(l))
	embeddings, _, _, err := runTokenLevel(m.session, shape, flatIDs, flatMask)
	return embeddings, err
}

// DistilBertModel replaces the padding attention mask with an
// upper-triangular L×L byte matrix, mask[i][j] = 1 iff j > i, before
// forwarding. The mask is shared across the whole batch (one L×L
// matrix, independent of N) rather than broadcasting per-sequence
// padding.
type DistilBertModel struct {
	session *session
}

func (m *DistilBertModel) Dimension() int { return m.session.Dimension() }
func (m *DistilBertModel) Device() string { return m.session.Device() }

func (m *DistilBertModel) Encode(tokenIDs, attentionMask [][]int64) ([][][]float32, error) {
	n, l := len(tokenIDs), len(tokenIDs[0])
	flatIDs := flatten(tokenIDs)

	triangularMask := make([]int64, l*l)
	for i := 0; i < l; i++ {
		for j := 0; j < l; j++ {
			if j > i {
				triangularMask[i*l+j] = 1
			}
		}
	}

	idsTensor, err := ort.NewTensor(ort.NewShape(int64(n), int64(l)), flatIDs)
	if err != nil {
		return nil, util.WrapError(util.KindInference, err, "failed to create input_ids tensor")
	}
	defer idsTensor.Destroy()

	maskTensor, err := ort.NewTensor(ort.NewShape(int64(l), int64(l)), triangularMask)
	if err != nil {
		return nil, util.WrapError(util.KindInference, err, "failed to create attention_mask tensor")
	}
	defer maskTensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := m.session.sess.Run([]ort.Value{idsTensor, maskTensor}, outputs); err != nil {
		return nil, util.WrapError(util.KindInference, err, "ONNX inference failed")
	}
	defer func() {
		if outputs[0] != nil {
			_ = outputs[0].Destroy()
		}
	}()

	outTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, util.NewError(util.KindInference, "unexpected ONNX output type, expected float32 tensor")
	}
	outShape := outTensor.GetShape()
	if len(outShape) != 3 {
		return nil, util.NewError(util.KindInference, fmt.Sprintf("unexpected output rank %d, want 3", len(outShape)))
	}
	bn, bl, bh := int(outShape[0]), int(outShape[1]), int(outShape[2])
	data := outTensor.GetData()

	result := make([][][]float32, bn)
	for i := 0; i < bn; i++ {
		result[i] = make([][]float32, bl)
		for j := 0; j < bl; j++ {
			start := (i*bl + j) * bh
			row := make([]float32, bh)
			copy(row, data[start:start+bh])
			result[i][j] = row
		}
	}
	return result, nil
}

func flatten(rows [][]int64) []int64 {
	if len(rows) == 0 {
		return nil
	}
	l := len(rows[0])
	out := make([]int64, 0, len(rows)*l)
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}
