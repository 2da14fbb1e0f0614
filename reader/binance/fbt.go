package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	appconfig "deltaflow/config"
	depth "deltaflow/internal/channel/depth"
	"deltaflow/logger"
	"deltaflow/models"

	futures "github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	streamSuffix = "usdt@bookTicker"
	quoteSuffix  = "USDT"
)

// ConnectionState tracks the listener's websocket lifecycle. Transitions are
// driven only by connection outcomes.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Streaming
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	default:
		return "disconnected"
	}
}

// Binance_FBT_Reader subscribes to the Binance futures combined bookTicker
// stream and forwards normalized best bid/ask updates to a consumer callback.
// The websocket is supervised: any dial or read failure is retried forever
// with a fixed delay, so the feed self-heals without operator intervention.
type Binance_FBT_Reader struct {
	config   *appconfig.Config
	channels *depth.Channels
	callback func(models.DepthUpdate)
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	state    atomic.Int32
	log      *logger.Log
	symbols  []string
}

// Binance_FBT_NewReader creates a bookTicker reader. The callback is invoked
// from a dedicated dispatch goroutine, never from the read loop, so a slow
// consumer cannot stall network reads.
func Binance_FBT_NewReader(cfg *appconfig.Config, ch *depth.Channels, symbols []string, callback func(models.DepthUpdate)) *Binance_FBT_Reader {
	return &Binance_FBT_Reader{
		config:   cfg,
		channels: ch,
		callback: callback,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
		symbols:  symbols,
	}
}

// Binance_FBT_Start launches the supervised stream and dispatch goroutines
// and returns immediately. The loop runs until the context is cancelled.
func (r *Binance_FBT_Reader) Binance_FBT_Start(ctx context.Context) error {
	if len(r.symbols) == 0 {
		return fmt.Errorf("no symbols to subscribe")
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("Binance_FBT_Reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("binance_fbt_reader").WithFields(logger.Fields{"operation": "Binance_FBT_Start"})

	if r.config.Stream.ValidateSymbols {
		r.symbols = r.validateSymbols(r.symbols)
	}

	wsURL := r.streamURL(r.symbols)
	log.WithFields(logger.Fields{"symbols": r.symbols, "url": wsURL}).Info("starting binance bookTicker reader")

	r.wg.Add(2)
	go r.dispatch()
	go r.stream(wsURL)

	log.Info("binance bookTicker reader started successfully")
	return nil
}

// Binance_FBT_Stop waits for the stream and dispatch goroutines to finish.
// Cancel the context passed to Binance_FBT_Start first.
func (r *Binance_FBT_Reader) Binance_FBT_Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("binance_fbt_reader").Info("stopping binance bookTicker reader")
	r.wg.Wait()
	r.log.WithComponent("binance_fbt_reader").Info("binance bookTicker reader stopped")
}

// State reports the current connection state.
func (r *Binance_FBT_Reader) State() ConnectionState {
	return ConnectionState(r.state.Load())
}

func (r *Binance_FBT_Reader) setState(s ConnectionState) {
	r.state.Store(int32(s))
}

// streamURL joins one combined-stream name per symbol, lower-cased with the
// bookTicker suffix.
func (r *Binance_FBT_Reader) streamURL(symbols []string) string {
	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		streams = append(streams, strings.ToLower(sym)+streamSuffix)
	}
	return r.config.Stream.URL + "?streams=" + strings.Join(streams, "/")
}

// stream owns the websocket lifecycle: dial, read until failure, back off a
// fixed delay, redial. It never returns until the context is cancelled.
func (r *Binance_FBT_Reader) stream(wsURL string) {
	defer r.wg.Done()
	log := r.log.WithComponent("binance_fbt_reader").WithFields(logger.Fields{"worker": "fbt_stream"})

	delay := time.Duration(r.config.Stream.ReconnectDelayMs) * time.Millisecond

	for {
		if r.ctx.Err() != nil {
			r.setState(Disconnected)
			return
		}

		r.setState(Connecting)
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(r.ctx, wsURL, nil)
		if err == nil {
			connID := uuid.NewString()
			connLog := log.WithFields(logger.Fields{"conn_id": connID})
			r.setState(Streaming)
			connLog.Info("connected to binance bookTicker stream")

			// Unblock the read loop when the context is cancelled.
			done := make(chan struct{})
			go func() {
				select {
				case <-r.ctx.Done():
					conn.Close()
				case <-done:
				}
			}()

			for {
				msgType, msg, err := conn.ReadMessage()
				if err != nil {
					close(done)
					conn.Close()
					r.setState(Disconnected)
					if r.ctx.Err() == nil {
						connLog.WithError(err).Warn("websocket read error, reconnecting")
					}
					break
				}
				// bookTicker frames are always text; anything else is noise.
				if msgType != websocket.TextMessage {
					continue
				}
				r.processMessage(msg)
			}
		} else {
			r.setState(Disconnected)
			log.WithError(err).Warn("failed to connect websocket, retrying")
		}

		logger.IncrementRetryCount()
		select {
		case <-time.After(delay):
		case <-r.ctx.Done():
			return
		}
	}
}

// dispatch invokes the consumer callback for each queued update, preserving
// wire order.
func (r *Binance_FBT_Reader) dispatch() {
	defer r.wg.Done()
	r.channels.Dispatch(r.ctx, r.callback)
}

// processMessage decodes one frame. A frame that fails to decode, or carries
// no data payload, is skipped without touching the connection. It returns
// true when an update was produced.
func (r *Binance_FBT_Reader) processMessage(msg []byte) bool {
	var evt models.BinanceBookTickerMsg
	if err := json.Unmarshal(msg, &evt); err != nil {
		r.log.WithComponent("binance_fbt_reader").WithError(err).Debug("failed to decode frame")
		return false
	}
	if evt.Data == nil {
		return false
	}

	data := evt.Data
	upd := models.DepthUpdate{
		Symbol:       strings.TrimSuffix(data.Symbol, quoteSuffix),
		BestBidPrice: r.parseField(data.Symbol, "bid_price", data.BidPrice),
		BestBidQty:   r.parseField(data.Symbol, "bid_qty", data.BidQty),
		BestAskPrice: r.parseField(data.Symbol, "ask_price", data.AskPrice),
		BestAskQty:   r.parseField(data.Symbol, "ask_qty", data.AskQty),
	}

	if r.channels.Send(r.ctx, upd) {
		logger.IncrementStreamRead(len(msg))
	} else if r.ctx.Err() != nil {
		return false
	} else {
		r.log.WithComponent("binance_fbt_reader").Warn("update channel full, dropping update")
	}
	return true
}

// parseField parses one decimal-string field. A field that fails to parse is
// delivered as zero so a single bad field does not discard the whole update;
// downstream consumers are expected to sanity-check values before acting.
func (r *Binance_FBT_Reader) parseField(symbol, name, value string) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		logger.IncrementParseDefault()
		r.log.WithComponent("binance_fbt_reader").WithFields(logger.Fields{
			"symbol": symbol,
			"field":  name,
			"value":  value,
		}).Warn("failed to parse numeric field, defaulting to 0")
		return 0
	}
	return f
}

// validateSymbols filters the subscription list against the futures exchange
// info. On any lookup failure the symbols are used as given.
func (r *Binance_FBT_Reader) validateSymbols(symbols []string) []string {
	log := r.log.WithComponent("binance_fbt_reader")

	client := futures.NewClient("", "")
	info, err := client.NewExchangeInfoService().Do(r.ctx)
	if err != nil {
		log.WithError(err).Warn("failed to fetch exchange info")
		return symbols
	}

	valid := make(map[string]struct{}, len(info.Symbols))
	for _, s := range info.Symbols {
		valid[s.Symbol] = struct{}{}
	}

	var filtered []string
	for _, s := range symbols {
		if _, ok := valid[strings.ToUpper(s)+quoteSuffix]; ok {
			filtered = append(filtered, s)
		} else {
			log.WithFields(logger.Fields{"symbol": s}).Warn("unknown instrument, skipping")
		}
	}
	if len(filtered) == 0 {
		log.Warn("no symbols survived validation, using configured list")
		return symbols
	}
	return filtered
}
