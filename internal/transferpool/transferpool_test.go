package transferpool

import (
	"context"
	"testing"
	"time"
)

func TestUnlimitedPoolNeverBlocks(t *testing.T) {
	p := New(0)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := p.Acquire(ctx); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
}

func TestBoundedPoolBlocksUntilRelease(t *testing.T) {
	p := New(1)
	ctx := context.Background()

	if err := p.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx2, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := p.Acquire(ctx2); err == nil {
		t.Fatal("expected second Acquire to block and time out")
	}

	p.Release()

	ctx3, cancel3 := context.WithTimeout(ctx, time.Second)
	defer cancel3()
	if err := p.Acquire(ctx3); err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
}
