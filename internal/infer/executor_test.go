package infer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestClient_SendAndAwait_Success(t *testing.T) {
	handler := FuncHandler[int, int](func(in int) (int, error) { return in * 2, nil })
	exec := Spawn[int, int]("test", handler)
	defer exec.Stop()

	client := exec.NewClient()
	got, err := client.SendAndAwait(context.Background(), 21)
	if err != nil {
		t.Fatalf("SendAndAwait: %v", err)
	}
	if got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

func TestClient_SendAndAwait_HandlerError(t *testing.T) {
	handler := FuncHandler[int, int](func(in int) (int, error) { return 0, errors.New("boom") })
	exec := Spawn[int, int]("test", handler)
	defer exec.Stop()

	client := exec.NewClient()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.SendAndAwait(ctx, 1)
	if err == nil {
		t.Fatal("expected a transport error for a handler error (dropped reply)")
	}
}

func TestExecutor_ProcessesFIFO(t *testing.T) {
	var mu sync.Mutex
	var order []int

	handler := FuncHandler[int, int](func(in int) (int, error) {
		mu.Lock()
		order = append(order, in)
		mu.Unlock()
		return in, nil
	})
	exec := Spawn[int, int]("test", handler)
	defer exec.Stop()

	client := exec.NewClient()

	const n = 50
	replies := make([]<-chan int, n)
	for i := 0; i < n; i++ {
		r, err := client.Send(i)
		if err != nil {
			t.Fatalf("Send(%d): %v", i, err)
		}
		replies[i] = r
	}
	for i := 0; i < n; i++ {
		select {
		case v := <-replies[i]:
			if v != i {
				t.Errorf("reply %d: got %d", i, v)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for reply %d", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("FIFO order violated: order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestExecutor_PanicPoisonsWorkerButSurvivesProcess(t *testing.T) {
	handler := FuncHandler[int, int](func(in int) (int, error) {
		if in == 1 {
			panic("deliberate handler panic")
		}
		return in, nil
	})
	exec := Spawn[int, int]("test", handler)
	defer exec.Stop()

	client := exec.NewClient()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := client.SendAndAwait(ctx, 1); err == nil {
		t.Fatal("expected the panicking request to never receive a reply")
	}

	// The worker is poisoned: a second request never gets processed either.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel2()
	if _, err := client.SendAndAwait(ctx2, 2); err == nil {
		t.Fatal("expected subsequent requests on a poisoned worker to also time out")
	}
}

func TestExecutor_StopIsIdempotent(t *testing.T) {
	handler := FuncHandler[int, int](func(in int) (int, error) { return in, nil })
	exec := Spawn[int, int]("test", handler)

	exec.Stop()
	exec.Stop() // must not panic

	if err := exec.Wait(); err != nil {
		t.Errorf("expected nil error from clean shutdown, got %v", err)
	}
}

func TestClient_SendAfterStopFails(t *testing.T) {
	handler := FuncHandler[int, int](func(in int) (int, error) { return in, nil })
	exec := Spawn[int, int]("test", handler)
	exec.Stop()
	_ = exec.Wait()

	client := exec.NewClient()
	if _, err := client.Send(1); err == nil {
		t.Fatal("expected Send on a stopped executor's queue to fail")
	}
}
