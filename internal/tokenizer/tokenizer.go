// Package tokenizer wraps github.com/daulet/tokenizers with the
// batch-padding behavior a SentenceTransformer needs: pad every
// sequence in a batch out to the longest sequence in that same batch
// (BatchLongest), never to a fixed maximum.
package tokenizer

import (
	"github.com/daulet/tokenizers"

	"github.com/embedsrv/embedsrv/internal/util"
)

// Tokenizer is thread-confined: exactly one lives per
// SentenceTransformer, owned by that transformer's executor thread.
type Tokenizer struct {
	inner     *tokenizers.Tokenizer
	padID     int64
	maxLength int
}

// FromBytes loads a tokenizer.json already resolved on disk and
// records padTokenID as the id it will use for BatchLongest padding.
func FromBytes(tokenizerJSON []byte, padTokenID int, maxLength int) (*Tokenizer, error) {
	inner, err := tokenizers.FromBytes(tokenizerJSON)
	if err != nil {
		return nil, util.WrapError(util.KindModelLoad, err, "failed to load tokenizer")
	}
	return &Tokenizer{inner: inner, padID: int64(padTokenID), maxLength: maxLength}, nil
}

// Close releases the tokenizer's native resources.
func (t *Tokenizer) Close() error {
	return t.inner.Close()
}

// PadTokenID is the id substituted into padding positions.
func (t *Tokenizer) PadTokenID() int64 { return t.padID }

// EncodeBatch tokenizes every sentence with special tokens added, then
// pads each row to the batch's own longest sequence (BatchLongest),
// never to a fixed maximum, and never shorter than any row needs.
func (t *Tokenizer) EncodeBatch(sentences []string) (tokenIDs [][]int64, err error) {
	rows := make([][]int64, len(sentences))
	maxLen := 0

	for i, sentence := range sentences {
		encoding := t.inner.EncodeWithOptions(sentence, true)

		ids := make([]int64, len(encoding.IDs))
		for j, id := range encoding.IDs {
			ids[j] = int64(id)
		}
		if t.maxLength > 0 && len(ids) > t.maxLength {
			ids = ids[:t.maxLength]
		}

		rows[i] = ids
		if len(ids) > maxLen {
			maxLen = len(ids)
		}
	}

	for i, row := range rows {
		if len(row) == maxLen {
			continue
		}
		padded := make([]int64, maxLen)
		copy(padded, row)
		for j := len(row); j < maxLen; j++ {
			padded[j] = t.padID
		}
		rows[i] = padded
	}

	return rows, nil
}
