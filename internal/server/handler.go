package server

import (
	"github.com/embedsrv/embedsrv/internal/sentence"
	"github.com/embedsrv/embedsrv/pkg/embedsrv"
)

// normalize is pinned false: the embeddings handler never L2-normalizes
// its output.
const normalize = false

// embeddingsHandler adapts a SentenceTransformer to infer.Handler,
// giving each loaded model exactly the request/response shape its
// dedicated executor goroutine processes.
type embeddingsHandler struct {
	transformer *sentence.SentenceTransformer
}

func (h *embeddingsHandler) Handle(req embedsrv.EmbeddingsRequest) (embedsrv.EmbeddingsResponse, error) {
	sentences := req.Input.Strings()

	embeddings, usage, err := h.transformer.EncodeBatchWithUsage(sentences, normalize)
	if err != nil {
		return embedsrv.EmbeddingsResponse{}, err
	}

	return embedsrv.FromEmbeddings(embeddings, usage, req.Model), nil
}
