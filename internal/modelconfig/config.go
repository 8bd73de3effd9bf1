// Package modelconfig parses a model's config.json into a tagged
// architecture variant and resolves its pooling strategy, following
// the precedence rules of ConfigParser: explicit argument, then a
// pooling config file, then failure.
package modelconfig

import (
	"encoding/json"
	"strings"

	"github.com/embedsrv/embedsrv/internal/util"
)

// Architecture identifies which of the supported model families a
// config.json describes.
type Architecture int

const (
	ArchBert Architecture = iota
	ArchJinaBert
	ArchDistilBert
)

// PoolingStrategy selects how token embeddings are reduced to a
// single sentence vector.
type PoolingStrategy int

const (
	PoolingCls PoolingStrategy = iota
	PoolingMean
	PoolingSplade
)

// ModelKind distinguishes a classifier head from an embedding model,
// and for the latter carries the resolved pooling strategy.
type ModelKind int

const (
	KindClassifier ModelKind = iota
	KindEmbedding
)

// ModelType is the resolved tag produced by step 3 of the parsing
// algorithm: either Classifier, or Embedding with a pooling strategy.
type ModelType struct {
	Kind    ModelKind
	Pooling PoolingStrategy // meaningful only when Kind == KindEmbedding
}

// BaseModelConfig holds the fields common to every config.json,
// independent of architecture.
type BaseModelConfig struct {
	Architectures         []string          `json:"architectures"`
	ModelType             string            `json:"model_type"`
	HiddenSize            int               `json:"hidden_size"`
	MaxPositionEmbeddings int               `json:"max_position_embeddings"`
	PadTokenID            int               `json:"pad_token_id"`
	ID2Label              map[string]string `json:"id2label,omitempty"`
	Label2ID              map[string]int    `json:"label2id,omitempty"`
}

// PoolingConfig mirrors a 1_Pooling/config.json file.
type PoolingConfig struct {
	WordEmbeddingDimension int  `json:"word_embedding_dimension"`
	PoolingModeCLSToken    bool `json:"pooling_mode_cls_token"`
	PoolingModeMeanTokens  bool `json:"pooling_mode_mean_tokens"`
	PoolingModeMaxTokens   bool `json:"pooling_mode_max_tokens"`
	PoolingModeMeanSqrtLen bool `json:"pooling_mode_mean_sqrt_len_tokens"`
	IncludePrompt          bool `json:"include_prompt"`
}

// SentenceTransformerConfig is the output of ParseConfig: the base
// fields, the resolved architecture and model type, and the raw
// tokenizer.json bytes for the tokenizer package to consume.
type SentenceTransformerConfig struct {
	Base            BaseModelConfig
	Architecture    Architecture
	ModelType       ModelType
	TokenizerConfig json.RawMessage
}

// jinaBertProbe is present in every published jina-embeddings-v2
// config.json and absent from standard BERT configs: the concrete
// structural signal used to distinguish Bert from JinaBert, since the
// two configs are otherwise near-identical.
type jinaBertProbe struct {
	FeedForwardType string `json:"feed_forward_type"`
}

// ParseConfig implements the ConfigParser algorithm: parse base
// fields, discriminate the architecture variant, then resolve the
// pooling strategy per the explicit-argument > pooling-file >
// error precedence.
func ParseConfig(configBytes, tokenizerBytes []byte, explicitPooling *PoolingStrategy, poolingConfigBytes []byte) (*SentenceTransformerConfig, error) {
	var base BaseModelConfig
	if err := json.Unmarshal(configBytes, &base); err != nil {
		return nil, util.WrapError(util.KindModelLoad, err, "failed to parse config.json")
	}

	if len(base.Architectures) != 1 {
		return nil, util.NewError(util.KindModelLoad,
			"config.json must declare exactly one architecture")
	}

	arch, err := discriminateArchitecture(base, configBytes)
	if err != nil {
		return nil, err
	}

	modelType, err := resolveModelType(base, explicitPooling, poolingConfigBytes)
	if err != nil {
		return nil, err
	}

	return &SentenceTransformerConfig{
		Base:            base,
		Architecture:    arch,
		ModelType:       modelType,
		TokenizerConfig: json.RawMessage(tokenizerBytes),
	}, nil
}

func discriminateArchitecture(base BaseModelConfig, configBytes []byte) (Architecture, error) {
	switch base.ModelType {
	case "distilbert":
		return ArchDistilBert, nil
	case "bert":
		var probe jinaBertProbe
		_ = json.Unmarshal(configBytes, &probe) // best-effort; absence just means Bert
		if probe.FeedForwardType != "" {
			return ArchJinaBert, nil
		}
		return ArchBert, nil
	default:
		return 0, util.NewError(util.KindModelLoad,
			"unsupported architecture variant: "+base.ModelType)
	}
}

func hasArchitectureSuffix(architectures []string, suffix string) bool {
	for _, a := range architectures {
		if strings.HasSuffix(a, suffix) {
			return true
		}
	}
	return false
}

func resolveModelType(base BaseModelConfig, explicitPooling *PoolingStrategy, poolingConfigBytes []byte) (ModelType, error) {
	if explicitPooling != nil && *explicitPooling == PoolingSplade {
		if hasArchitectureSuffix(base.Architectures, "MaskedLM") {
			return ModelType{Kind: KindEmbedding, Pooling: PoolingSplade}, nil
		}
		return ModelType{}, util.NewError(util.KindModelLoad,
			"Splade pooling is not supported: model is not a *ForMaskedLM model")
	}

	if hasArchitectureSuffix(base.Architectures, "Classification") {
		if explicitPooling != nil {
			util.Logger.Warn("--pooling arg is set but model is a classifier. Ignoring --pooling arg.")
		}
		return ModelType{Kind: KindClassifier}, nil
	}

	if explicitPooling != nil {
		return ModelType{Kind: KindEmbedding, Pooling: *explicitPooling}, nil
	}

	if len(poolingConfigBytes) > 0 {
		var pc PoolingConfig
		if err := json.Unmarshal(poolingConfigBytes, &pc); err != nil {
			return ModelType{}, util.WrapError(util.KindModelLoad, err, "failed to parse pooling config")
		}
		switch {
		case pc.PoolingModeCLSToken:
			return ModelType{Kind: KindEmbedding, Pooling: PoolingCls}, nil
		case pc.PoolingModeMeanTokens:
			return ModelType{Kind: KindEmbedding, Pooling: PoolingMean}, nil
		default:
			return ModelType{}, util.NewError(util.KindModelLoad, "pooling config is not supported")
		}
	}

	return ModelType{}, util.NewError(util.KindModelLoad,
		"No pooling configuration provided or found in model repository")
}
