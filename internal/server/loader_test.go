package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestLoadSentenceTransformer_RevisionSuffixResolvesLocalDir guards
// against passing the wrong substring to ParseRepoRef: a "dir:rev"
// repository string must resolve dir (not rev) as the local directory,
// or it fails by treating the directory path as a remote repo id
// instead of reporting the expected "missing weights" error.
func TestLoadSentenceTransformer_RevisionSuffixResolvesLocalDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write config.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write tokenizer.json: %v", err)
	}

	_, _, err := loadSentenceTransformer(dir+":main", t.TempDir())
	if err == nil {
		t.Fatal("expected an error: the directory has no weights file")
	}
	if !strings.Contains(err.Error(), "model weights") {
		t.Fatalf("expected a missing-weights error (proving %q was resolved as the local dir), got: %v", dir, err)
	}
}
