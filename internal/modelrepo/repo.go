// Package modelrepo resolves a repository reference, either a local
// directory or a repo_id[:revision] string naming a snapshot on a
// model hub, to the concrete files a SentenceTransformer needs to
// load: a config, a tokenizer, model weights, and an optional pooling
// configuration.
package modelrepo

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/embedsrv/embedsrv/internal/util"
)

const (
	safetensorsFile = "model.safetensors"
	pthFile         = "pytorch_model.bin"
	configFile      = "config.json"
	tokenizerFile   = "tokenizer.json"
	poolingConfig   = "1_Pooling/config.json"

	defaultRevision = "main"
	illegalRunes    = `\<>|?*`
)

// WeightsFormat identifies which weight file a repository resolved to.
type WeightsFormat int

const (
	WeightsSafetensors WeightsFormat = iota
	WeightsPth
)

// RepoRef names a model snapshot: repo_id[:revision]. Parsed once at
// startup, immutable thereafter.
type RepoRef struct {
	RepoID   string
	Revision string
}

// ParseRepoRef splits "repo_id[:revision]" into a RepoRef, defaulting
// Revision to "main" and rejecting characters that can't survive a
// filesystem path or URL segment.
func ParseRepoRef(s string) (RepoRef, error) {
	if s == "" {
		return RepoRef{}, util.NewError(util.KindInvalidInput, "repository string must not be empty")
	}
	if strings.ContainsAny(s, illegalRunes) {
		return RepoRef{}, util.NewError(util.KindInvalidInput,
			fmt.Sprintf("repository string %q contains illegal characters", s))
	}

	repoID, revision, found := strings.Cut(s, ":")
	if !found || revision == "" {
		revision = defaultRevision
	}
	if repoID == "" {
		return RepoRef{}, util.NewError(util.KindInvalidInput,
			fmt.Sprintf("repository string %q has an empty repo id", s))
	}

	return RepoRef{RepoID: repoID, Revision: revision}, nil
}

// ModelRepoFiles are the on-disk paths a SentenceTransformer loads
// from. All paths exist when this value is returned to the caller.
type ModelRepoFiles struct {
	ConfigPath        string
	TokenizerPath     string
	ModelWeightsPath  string
	WeightsFormat     WeightsFormat
	PoolingConfigPath string // empty if absent
}

// Resolve locates the four files for ref, either in localDir (when
// non-empty, meaning the caller already named a directory on disk) or
// by downloading them into cacheDir under the hub's resolve URL shape.
func Resolve(ref RepoRef, localDir, cacheDir string) (*ModelRepoFiles, error) {
	if localDir != "" {
		return resolveFolder(localDir)
	}
	return resolveRemote(ref, cacheDir)
}

func resolveFolder(dir string) (*ModelRepoFiles, error) {
	files := &ModelRepoFiles{
		ConfigPath:    filepath.Join(dir, configFile),
		TokenizerPath: filepath.Join(dir, tokenizerFile),
	}

	if !exists(files.ConfigPath) || !exists(files.TokenizerPath) {
		return nil, util.NewError(util.KindModelLoad, "Repository misses configuration files")
	}

	safetensorsPath := filepath.Join(dir, safetensorsFile)
	pthPath := filepath.Join(dir, pthFile)
	switch {
	case exists(safetensorsPath):
		files.ModelWeightsPath = safetensorsPath
		files.WeightsFormat = WeightsSafetensors
	case exists(pthPath):
		files.ModelWeightsPath = pthPath
		files.WeightsFormat = WeightsPth
	default:
		return nil, util.NewError(util.KindModelLoad, "Repository doesn't contain model weights")
	}

	poolingPath := filepath.Join(dir, poolingConfig)
	if exists(poolingPath) {
		files.PoolingConfigPath = poolingPath
	} else {
		util.Logger.Info("No pooling configuration found. Using default or given strategy.")
	}

	return files, nil
}

func resolveRemote(ref RepoRef, cacheDir string) (*ModelRepoFiles, error) {
	dir := filepath.Join(cacheDir, strings.ReplaceAll(ref.RepoID, "/", "_")+"@"+ref.Revision)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, util.WrapError(util.KindTransport, err, "failed to create model cache directory")
	}

	baseURL := fmt.Sprintf("https://huggingface.co/%s/resolve/%s", ref.RepoID, ref.Revision)

	files := &ModelRepoFiles{
		ConfigPath:    filepath.Join(dir, configFile),
		TokenizerPath: filepath.Join(dir, tokenizerFile),
	}
	if err := fetchIfMissing(baseURL, configFile, files.ConfigPath); err != nil {
		return nil, util.NewError(util.KindModelLoad, "Repository misses configuration files")
	}
	if err := fetchIfMissing(baseURL, tokenizerFile, files.TokenizerPath); err != nil {
		return nil, util.NewError(util.KindModelLoad, "Repository misses configuration files")
	}

	safetensorsPath := filepath.Join(dir, safetensorsFile)
	if err := fetchIfMissing(baseURL, safetensorsFile, safetensorsPath); err == nil {
		files.ModelWeightsPath = safetensorsPath
		files.WeightsFormat = WeightsSafetensors
	} else {
		pthPath := filepath.Join(dir, pthFile)
		if err := fetchIfMissing(baseURL, pthFile, pthPath); err == nil {
			files.ModelWeightsPath = pthPath
			files.WeightsFormat = WeightsPth
		} else {
			return nil, util.NewError(util.KindModelLoad, "Repository doesn't contain model weights")
		}
	}

	poolingPath := filepath.Join(dir, "1_Pooling", "config.json")
	if err := fetchIfMissing(baseURL, poolingConfig, poolingPath); err == nil {
		files.PoolingConfigPath = poolingPath
	} else {
		util.Logger.Info("No pooling configuration found. Using default or given strategy.")
	}

	return files, nil
}

func fetchIfMissing(baseURL, remoteName, localPath string) error {
	if exists(localPath) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return downloadFile(baseURL+"/"+remoteName, localPath)
}

func downloadFile(url, localPath string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: status %d", url, resp.StatusCode)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, resp.Body)
	return err
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
