package server

import (
	"time"

	"github.com/embedsrv/embedsrv/internal/infer"
	"github.com/embedsrv/embedsrv/internal/util"
	"github.com/embedsrv/embedsrv/pkg/embedsrv"
)

type embeddingsClient = infer.Client[embedsrv.EmbeddingsRequest, embedsrv.EmbeddingsResponse]
type embeddingsExecutor = infer.DedicatedExecutor[embedsrv.EmbeddingsRequest, embedsrv.EmbeddingsResponse]

// modelEntry pairs a model's dispatch client with its executor handle
// and the timestamp it was loaded, used to synthesize ModelCard.Created.
type modelEntry struct {
	client   *embeddingsClient
	executor *embeddingsExecutor
	loadedAt time.Time
}

// ModelMap is immutable after construction: model name -> loaded entry.
type ModelMap map[string]modelEntry

// State is the server's shared, read-only handle onto every loaded
// model. It is safe to share across every HTTP request goroutine.
type State struct {
	models ModelMap
}

// NewState resolves, loads, and spawns an executor for every repository
// string in repoStrings. A completely empty list is a fatal startup
// error; any individual repository that fails resolution, parsing, or
// loading is skipped with a warning rather than aborting startup, so
// one bad --model-repo entry doesn't take the whole server down.
func NewState(repoStrings []string, cacheDir string) (*State, error) {
	if len(repoStrings) == 0 {
		return nil, util.NewError(util.KindInvalidInput, "no models provided")
	}

	models := make(ModelMap)
	for _, repoString := range repoStrings {
		name, transformer, err := loadSentenceTransformer(repoString, cacheDir)
		if err != nil {
			util.Logger.Warn("skipping model repository that failed to load",
				"repo", repoString, "error", err)
			continue
		}

		handler := &embeddingsHandler{transformer: transformer}
		executor := infer.Spawn[embedsrv.EmbeddingsRequest, embedsrv.EmbeddingsResponse](name, handler)
		client := executor.NewClient()

		// Last write wins: a repeated derived name overwrites the
		// earlier entry, including stopping its executor so the
		// superseded worker goroutine doesn't linger.
		if existing, ok := models[name]; ok {
			existing.executor.Stop()
		}
		models[name] = modelEntry{client: client, executor: executor, loadedAt: time.Now()}
	}

	if len(models) == 0 {
		return nil, util.NewError(util.KindModelLoad, "no model repository could be loaded")
	}

	return &State{models: models}, nil
}

// Lookup returns the client for a served model name, or false if no
// model is served under that name.
func (s *State) Lookup(name string) (*embeddingsClient, bool) {
	entry, ok := s.models[name]
	return entry.client, ok
}

// ModelCard builds the catalog entry for one served model, or false if
// no model is served under that name.
func (s *State) ModelCard(name string) (embedsrv.ModelCard, bool) {
	entry, ok := s.models[name]
	if !ok {
		return embedsrv.ModelCard{}, false
	}
	return embedsrv.ModelCard{
		ID:      name,
		Object:  "model",
		Created: entry.loadedAt.Unix(),
		OwnedBy: "hf_hub",
	}, true
}

// ModelCards enumerates every served model as a ModelCard.
func (s *State) ModelCards() []embedsrv.ModelCard {
	cards := make([]embedsrv.ModelCard, 0, len(s.models))
	for name := range s.models {
		card, _ := s.ModelCard(name)
		cards = append(cards, card)
	}
	return cards
}

// Shutdown stops every model's executor. Executor goroutines are not
// joined: they drain whatever was already enqueued and exit on their
// own once Stop closes their command queue.
func (s *State) Shutdown() {
	for _, entry := range s.models {
		entry.executor.Stop()
	}
}
