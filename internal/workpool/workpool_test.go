package workpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestRunEachCoversEveryIndexExactlyOnce(t *testing.T) {
	const n = 1000
	var hits [n]int32
	err := RunEach(context.Background(), n, 7, func(_ context.Context, i int) error {
		atomic.AddInt32(&hits[i], 1)
		return nil
	})
	if err != nil {
		t.Fatalf("RunEach returned error: %v", err)
	}
	for i, h := range hits {
		if h != 1 {
			t.Fatalf("index %d visited %d times, want 1", i, h)
		}
	}
}

func TestRunChunksRespectWidth(t *testing.T) {
	const n = 100
	const width = 10
	var chunks int32
	err := Run(context.Background(), n, width, func(_ context.Context, lo, hi int) error {
		if hi-lo > width {
			t.Errorf("chunk [%d,%d) exceeds width %d", lo, hi, width)
		}
		atomic.AddInt32(&chunks, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if chunks != n/width {
		t.Errorf("chunks = %d, want %d", chunks, n/width)
	}
}

func TestRunPropagatesFirstError(t *testing.T) {
	wantErr := errors.New("boom")
	err := RunEach(context.Background(), 50, 5, func(_ context.Context, i int) error {
		if i == 20 {
			return wantErr
		}
		return nil
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("Run error = %v, want %v", err, wantErr)
	}
}

func TestRunZeroElementsIsNoop(t *testing.T) {
	called := false
	err := RunEach(context.Background(), 0, 10, func(_ context.Context, i int) error {
		called = true
		return nil
	})
	if err != nil {
		t.Errorf("RunEach(n=0) returned error: %v", err)
	}
	if called {
		t.Errorf("RunEach(n=0) invoked fn")
	}
}

func TestRunDefaultsWidthWhenNonPositive(t *testing.T) {
	err := Run(context.Background(), 10, 0, func(_ context.Context, lo, hi int) error {
		if hi-lo != 10 {
			t.Errorf("chunk [%d,%d) unexpected for width<=0 default", lo, hi)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}
