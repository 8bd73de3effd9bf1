// Package server wires the resolver, config parser, embedder, and
// sentence transformer packages into the HTTP surface: one dedicated
// executor per loaded model, routed by the gin engine defined in
// routes.go.
package server

import (
	"os"
	"strings"

	"github.com/embedsrv/embedsrv/internal/embedder"
	"github.com/embedsrv/embedsrv/internal/modelconfig"
	"github.com/embedsrv/embedsrv/internal/modelrepo"
	"github.com/embedsrv/embedsrv/internal/sentence"
	"github.com/embedsrv/embedsrv/internal/tokenizer"
	"github.com/embedsrv/embedsrv/internal/util"
)

const defaultMaxLength = 512

// loadSentenceTransformer runs the resolver -> parser -> loader chain
// for one repository string and returns a ready-to-serve
// SentenceTransformer along with the name it should be served under.
func loadSentenceTransformer(repoString, cacheDir string) (name string, st *sentence.SentenceTransformer, err error) {
	ref, err := modelrepo.ParseRepoRef(repoString)
	if err != nil {
		return "", nil, err
	}

	name, _, _ = strings.Cut(repoString, ":")
	if name == "" {
		name = ref.RepoID
	}

	localDir := ""
	if info, statErr := os.Stat(ref.RepoID); statErr == nil && info.IsDir() {
		localDir = ref.RepoID
	}

	files, err := modelrepo.Resolve(ref, localDir, cacheDir)
	if err != nil {
		return "", nil, err
	}

	configBytes, err := os.ReadFile(files.ConfigPath)
	if err != nil {
		return "", nil, util.WrapError(util.KindModelLoad, err, "failed to read config.json")
	}
	tokenizerBytes, err := os.ReadFile(files.TokenizerPath)
	if err != nil {
		return "", nil, util.WrapError(util.KindModelLoad, err, "failed to read tokenizer.json")
	}
	var poolingBytes []byte
	if files.PoolingConfigPath != "" {
		poolingBytes, err = os.ReadFile(files.PoolingConfigPath)
		if err != nil {
			return "", nil, util.WrapError(util.KindModelLoad, err, "failed to read pooling config")
		}
	}

	cfg, err := modelconfig.ParseConfig(configBytes, tokenizerBytes, nil, poolingBytes)
	if err != nil {
		return "", nil, err
	}

	tok, err := tokenizer.FromBytes(tokenizerBytes, cfg.Base.PadTokenID, defaultMaxLength)
	if err != nil {
		return "", nil, err
	}

	model, err := embedder.Load(files.ModelWeightsPath, cfg.Architecture, cfg.Base.HiddenSize)
	if err != nil {
		return "", nil, err
	}

	st, err = sentence.Build(sentence.Config{
		Model:     model,
		Tokenizer: tok,
		ModelType: cfg.ModelType,
	})
	if err != nil {
		return "", nil, err
	}

	return name, st, nil
}
