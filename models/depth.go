package models

// DepthUpdate is the normalized best bid/ask update delivered to the
// consumer callback. The symbol has its quote currency suffix stripped
// so downstream strategies key on the base asset only.
type DepthUpdate struct {
	Symbol       string  `json:"symbol"`
	BestBidPrice float64 `json:"best_bid_price"`
	BestBidQty   float64 `json:"best_bid_qty"`
	BestAskPrice float64 `json:"best_ask_price"`
	BestAskQty   float64 `json:"best_ask_qty"`
}

// BinanceBookTickerMsg represents a combined-stream frame from the Binance
// futures websocket. Frames without a data payload (subscription acks,
// stream control messages) carry a nil Data.
type BinanceBookTickerMsg struct {
	Stream string                 `json:"stream"`
	Data   *BinanceBookTickerData `json:"data"`
}

// BinanceBookTickerData is the bookTicker payload. All numeric fields are
// transmitted as decimal strings.
type BinanceBookTickerData struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}
