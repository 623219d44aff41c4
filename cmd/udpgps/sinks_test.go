package main

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSinksFlushBeforeClose(t *testing.T) {
	var mu sync.Mutex
	var order []string
	add := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	sk := newSinks(context.Background())
	sk.onClose(func() { add("close pool") })
	sk.run(func(ctx context.Context) {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		add("final flush")
	})
	sk.onClose(func() { add("drain broker") })
	sk.shutdown()

	want := []string{"final flush", "drain broker", "close pool"}
	if len(order) != len(want) {
		t.Fatalf("order %q", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order %q want %q", order, want)
			break
		}
	}
}

func TestSinksStopWithoutParentCancel(t *testing.T) {
	sk := newSinks(context.Background())
	stopped := make(chan struct{})
	sk.run(func(ctx context.Context) {
		<-ctx.Done()
		close(stopped)
	})
	sk.shutdown()
	select {
	case <-stopped:
	default:
		t.Error("sink still running after shutdown")
	}
}
