package embedder

import (
	"testing"

	"github.com/embedsrv/embedsrv/internal/modelconfig"
)

// TestLoad_UnsupportedArchitecture exercises the one codepath in this
// package that doesn't require a real ONNX Runtime session: Load's
// architecture switch rejects anything it doesn't recognize before it
// ever touches the filesystem or the native library.
func TestLoad_UnsupportedArchitecture(t *testing.T) {
	_, err := Load("/nonexistent/model.onnx", modelconfig.Architecture(99), 384)
	if err == nil {
		t.Fatal("expected an error for an unsupported architecture")
	}
}

func TestFlatten(t *testing.T) {
	rows := [][]int64{{1, 2, 3}, {4, 5, 6}}
	got := flatten(rows)
	want := []int64{1, 2, 3, 4, 5, 6}
	if len(got) != len(want) {
		t.Fatalf("flatten length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("flatten[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestFlatten_Empty(t *testing.T) {
	if got := flatten(nil); got != nil {
		t.Errorf("flatten(nil) = %v, want nil", got)
	}
}
