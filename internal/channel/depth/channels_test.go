package depth

import (
	"context"
	"testing"
	"time"

	"deltaflow/models"
)

func TestSendDropsWhenFull(t *testing.T) {
	ch := NewChannels(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if !ch.Send(ctx, models.DepthUpdate{Symbol: "BTC"}) {
			t.Fatalf("send %d should succeed", i)
		}
	}
	if ch.Send(ctx, models.DepthUpdate{Symbol: "BTC"}) {
		t.Fatal("send into full buffer must not block or succeed")
	}

	stats := ch.GetStats()
	if stats.Sent != 2 || stats.Dropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSendCancelledContext(t *testing.T) {
	ch := NewChannels(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ch.Send(ctx, models.DepthUpdate{}) {
		t.Fatal("send must fail after context cancellation")
	}
}

func TestDispatchPreservesOrder(t *testing.T) {
	ch := NewChannels(8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sent := []models.DepthUpdate{
		{Symbol: "BTC", BestBidPrice: 1},
		{Symbol: "ETH", BestBidPrice: 2},
		{Symbol: "SOL", BestBidPrice: 3},
	}
	for _, u := range sent {
		if !ch.Send(ctx, u) {
			t.Fatalf("send failed for %s", u.Symbol)
		}
	}

	got := make(chan models.DepthUpdate, len(sent))
	go ch.Dispatch(ctx, func(u models.DepthUpdate) { got <- u })

	for i, want := range sent {
		select {
		case u := <-got:
			if u != want {
				t.Fatalf("update %d out of order: got %+v want %+v", i, u, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for update %d", i)
		}
	}
}

func TestDispatchReturnsOnClose(t *testing.T) {
	ch := NewChannels(1)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		ch.Dispatch(ctx, func(models.DepthUpdate) {})
		close(done)
	}()

	ch.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch did not return after channel close")
	}
}
