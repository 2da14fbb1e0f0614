package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"deltaflow/config"
	depth "deltaflow/internal/channel/depth"
	"deltaflow/models"

	"github.com/gorilla/websocket"
)

func minimalConfig(wsURL string, reconnectDelayMs int) *config.Config {
	return &config.Config{
		Channels: config.ChannelsConfig{UpdateBuffer: 16},
		Stream: config.StreamConfig{
			URL:              wsURL,
			Symbols:          []string{"BTC"},
			ReconnectDelayMs: reconnectDelayMs,
		},
	}
}

func wsBase(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
}

func TestStreamURL(t *testing.T) {
	cfg := minimalConfig("wss://fstream.binance.com/stream", 1000)
	r := Binance_FBT_NewReader(cfg, depth.NewChannels(1), []string{"BTC", "ETH"}, func(models.DepthUpdate) {})
	want := "wss://fstream.binance.com/stream?streams=btcusdt@bookTicker/ethusdt@bookTicker"
	if got := r.streamURL(r.symbols); got != want {
		t.Fatalf("stream url mismatch:\n got %s\nwant %s", got, want)
	}
}

func TestProcessMessageDecodesFrame(t *testing.T) {
	cfg := minimalConfig("ws://example.com/stream", 1000)
	ch := depth.NewChannels(1)
	r := Binance_FBT_NewReader(cfg, ch, []string{"BTC"}, func(models.DepthUpdate) {})
	r.ctx = context.Background()

	frame := `{"data":{"s":"BTCUSDT","b":"50000.1","B":"0.5","a":"50001.2","A":"0.3"}}`
	if !r.processMessage([]byte(frame)) {
		t.Fatal("expected frame to produce an update")
	}

	select {
	case upd := <-ch.Updates:
		want := models.DepthUpdate{
			Symbol:       "BTC",
			BestBidPrice: 50000.1,
			BestBidQty:   0.5,
			BestAskPrice: 50001.2,
			BestAskQty:   0.3,
		}
		if upd != want {
			t.Fatalf("update mismatch: got %+v want %+v", upd, want)
		}
	default:
		t.Fatal("no update enqueued")
	}
}

func TestProcessMessageMalformedFrame(t *testing.T) {
	cfg := minimalConfig("ws://example.com/stream", 1000)
	ch := depth.NewChannels(1)
	r := Binance_FBT_NewReader(cfg, ch, []string{"BTC"}, func(models.DepthUpdate) {})
	r.ctx = context.Background()

	if r.processMessage([]byte("{not json")) {
		t.Fatal("malformed frame must not produce an update")
	}
	if r.processMessage([]byte(`{"stream":"btcusdt@bookTicker"}`)) {
		t.Fatal("frame without data payload must not produce an update")
	}
	if len(ch.Updates) != 0 {
		t.Fatalf("expected empty channel, got %d updates", len(ch.Updates))
	}
}

func TestProcessMessageNumericParseDefaultsToZero(t *testing.T) {
	cfg := minimalConfig("ws://example.com/stream", 1000)
	ch := depth.NewChannels(1)
	r := Binance_FBT_NewReader(cfg, ch, []string{"BTC"}, func(models.DepthUpdate) {})
	r.ctx = context.Background()

	frame := `{"data":{"s":"BTCUSDT","b":"NaNtext","B":"0.5","a":"50001.2","A":"0.3"}}`
	if !r.processMessage([]byte(frame)) {
		t.Fatal("expected frame to produce an update")
	}

	upd := <-ch.Updates
	if upd.BestBidPrice != 0 {
		t.Fatalf("expected unparseable bid price to default to 0, got %v", upd.BestBidPrice)
	}
	if upd.BestBidQty != 0.5 || upd.BestAskPrice != 50001.2 {
		t.Fatalf("other fields must survive: %+v", upd)
	}
}

// bookTickerServer accepts websocket connections, sends one frame per
// connection and then drops it, recording the start time of every connection.
func bookTickerServer(t *testing.T, frame string, holdOpen bool) (*httptest.Server, func() []time.Time) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	var starts []time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		starts = append(starts, time.Now())
		mu.Unlock()

		conn.WriteMessage(websocket.TextMessage, []byte(frame))
		if holdOpen {
			// Keep the connection alive until the client goes away.
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
		conn.Close()
	}))

	return srv, func() []time.Time {
		mu.Lock()
		defer mu.Unlock()
		out := make([]time.Time, len(starts))
		copy(out, starts)
		return out
	}
}

func TestReaderReconnectsAfterReadError(t *testing.T) {
	frame := `{"data":{"s":"BTCUSDT","b":"1.5","B":"2","a":"1.6","A":"3"}}`
	srv, connStarts := bookTickerServer(t, frame, false)
	defer srv.Close()

	delay := 50 * time.Millisecond
	cfg := minimalConfig(wsBase(srv), 50)
	ch := depth.NewChannels(16)

	updates := make(chan models.DepthUpdate, 1024)
	r := Binance_FBT_NewReader(cfg, ch, []string{"BTC"}, func(u models.DepthUpdate) { updates <- u })

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Binance_FBT_Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Binance_FBT_Start(ctx); err == nil {
		t.Fatal("second start must fail while running")
	}

	// Two delivered updates prove the stream resumed after the first
	// connection was dropped.
	for i := 0; i < 2; i++ {
		select {
		case <-updates:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for update %d", i+1)
		}
	}

	starts := connStarts()
	if len(starts) < 2 {
		t.Fatalf("expected at least 2 connections, got %d", len(starts))
	}
	if gap := starts[1].Sub(starts[0]); gap < delay {
		t.Fatalf("reconnect happened before backoff elapsed: %v < %v", gap, delay)
	}

	cancel()
	r.Binance_FBT_Stop()
}

func TestReaderReachesStreamingState(t *testing.T) {
	frame := `{"data":{"s":"ETHUSDT","b":"1","B":"1","a":"1","A":"1"}}`
	srv, _ := bookTickerServer(t, frame, true)
	defer srv.Close()

	cfg := minimalConfig(wsBase(srv), 50)
	ch := depth.NewChannels(16)
	r := Binance_FBT_NewReader(cfg, ch, []string{"ETH"}, func(models.DepthUpdate) {})

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Binance_FBT_Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for r.State() != Streaming {
		if time.Now().After(deadline) {
			t.Fatalf("reader never reached streaming state, state=%s", r.State())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	r.Binance_FBT_Stop()
	if r.State() == Streaming {
		t.Fatalf("reader still streaming after stop")
	}
}

func TestReaderIgnoresBinaryFrames(t *testing.T) {
	textFrame := `{"data":{"s":"BTCUSDT","b":"2.5","B":"1","a":"2.6","A":"1"}}`
	binFrame := `{"data":{"s":"BTCUSDT","b":"9.9","B":"9","a":"9.9","A":"9"}}`

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.BinaryMessage, []byte(binFrame))
		conn.WriteMessage(websocket.TextMessage, []byte(textFrame))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := minimalConfig(wsBase(srv), 50)
	ch := depth.NewChannels(16)
	updates := make(chan models.DepthUpdate, 16)
	r := Binance_FBT_NewReader(cfg, ch, []string{"BTC"}, func(u models.DepthUpdate) { updates <- u })

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Binance_FBT_Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// The binary frame arrives first; only the text frame may be decoded.
	select {
	case upd := <-updates:
		if upd.BestBidPrice != 2.5 {
			t.Fatalf("binary frame reached the decoder: %+v", upd)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for update")
	}

	cancel()
	r.Binance_FBT_Stop()
}

func TestStartWithNoSymbolsCanBeRetried(t *testing.T) {
	cfg := minimalConfig("ws://127.0.0.1:1/stream", 20)
	ch := depth.NewChannels(1)
	r := Binance_FBT_NewReader(cfg, ch, nil, func(models.DepthUpdate) {})

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Binance_FBT_Start(ctx); err == nil {
		t.Fatal("start with no symbols must fail")
	}

	// A failed start must not leave the reader marked running.
	r.symbols = []string{"BTC"}
	if err := r.Binance_FBT_Start(ctx); err != nil {
		t.Fatalf("start after fixing symbols: %v", err)
	}

	cancel()
	r.Binance_FBT_Stop()
}

func TestReaderRetriesConnectFailure(t *testing.T) {
	// A server that rejects every upgrade: the reader must keep retrying
	// without giving up or reaching the streaming state.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := minimalConfig(wsBase(srv), 20)
	ch := depth.NewChannels(1)
	r := Binance_FBT_NewReader(cfg, ch, []string{"BTC"}, func(models.DepthUpdate) {})

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Binance_FBT_Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if state := r.State(); state == Streaming {
		t.Fatalf("reader must not reach streaming against refusing server")
	}

	cancel()
	r.Binance_FBT_Stop()
}
