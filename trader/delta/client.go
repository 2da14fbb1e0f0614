package delta

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"deltaflow/logger"
)

const (
	// DefaultBaseURL is the production Delta Exchange REST endpoint.
	DefaultBaseURL = "https://api.india.delta.exchange"

	pathPlaceOrder    = "/v2/orders"
	pathWalletBalance = "/v2/wallet/balances"
	pathPositions     = "/v2/positions/margined"

	defaultTimeout        = 2500 * time.Millisecond
	defaultConnectTimeout = 2500 * time.Millisecond
	defaultMaxIdlePerHost = 10
	defaultUserAgent      = "Mozilla/5.0 (compatible; DeltaBot/Native)"
)

// Delta_REST_Client issues signed REST requests to Delta Exchange. Every
// request carries an HMAC-SHA256 signature over the canonical string
// method+timestamp+path+query+body, keyed by the raw API secret. Calls are
// independent and safe for concurrent use; the only shared state is the
// pooled transport.
type Delta_REST_Client struct {
	apiKey    string
	apiSecret []byte
	baseURL   string
	client    *http.Client
	log       *logger.Log
}

// Delta_REST_NewClient creates a signed REST client. An empty baseURL selects
// DefaultBaseURL. The transport keeps idle connections open indefinitely,
// disables Nagle's algorithm and fails fast: connect and overall request
// timeouts are both bounded at 2.5 seconds.
func Delta_REST_NewClient(apiKey, apiSecret, baseURL string) (*Delta_REST_Client, error) {
	log := logger.GetLogger()

	if apiSecret == "" {
		return nil, ErrInvalidCredential
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	dialer := &net.Dialer{Timeout: defaultConnectTimeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
		// Only the idle pool is bounded; active connections may exceed it
		// so concurrent calls never queue against the request deadline.
		MaxIdleConns:        defaultMaxIdlePerHost,
		MaxIdleConnsPerHost: defaultMaxIdlePerHost,
		// Zero keeps idle connections open for the life of the process.
		IdleConnTimeout: 0,
	}

	client := &Delta_REST_Client{
		apiKey:    apiKey,
		apiSecret: []byte(apiSecret),
		baseURL:   baseURL,
		client:    &http.Client{Transport: transport, Timeout: defaultTimeout},
		log:       log,
	}

	log.WithComponent("delta_rest").WithFields(logger.Fields{
		"base_url":          baseURL,
		"timeout":           defaultTimeout,
		"max_idle_per_host": defaultMaxIdlePerHost,
	}).Info("delta rest client initialized")

	return client, nil
}

// sign computes the lowercase hex HMAC-SHA256 over the canonical string
// method+timestamp+path+query+body. The concatenation order is fixed by the
// venue; reordering produces a signature the venue rejects.
func (c *Delta_REST_Client) sign(method, path, query, body, timestamp string) string {
	mac := hmac.New(sha256.New, c.apiSecret)
	mac.Write([]byte(method))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(path))
	mac.Write([]byte(query))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

// Delta_REST_PlaceOrder serializes the payload, signs it and POSTs it to
// /v2/orders. The venue's JSON response is returned verbatim, including
// venue-side error responses.
func (c *Delta_REST_Client) Delta_REST_PlaceOrder(ctx context.Context, payload any) (any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("delta place_order: marshal payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, pathPlaceOrder, body, "place_order")
}

// Delta_REST_GetWalletBalance fetches /v2/wallet/balances.
func (c *Delta_REST_Client) Delta_REST_GetWalletBalance(ctx context.Context) (any, error) {
	return c.do(ctx, http.MethodGet, pathWalletBalance, nil, "get_wallet_balance")
}

// Delta_REST_GetPositions fetches /v2/positions/margined.
func (c *Delta_REST_Client) Delta_REST_GetPositions(ctx context.Context) (any, error) {
	return c.do(ctx, http.MethodGet, pathPositions, nil, "get_positions")
}

// do issues one signed request. The timestamp is taken immediately before
// sending; the venue rejects signatures outside its clock skew tolerance.
func (c *Delta_REST_Client) do(ctx context.Context, method, path string, body []byte, op string) (any, error) {
	log := c.log.WithComponent("delta_rest").WithFields(logger.Fields{"operation": op})

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := c.sign(method, path, "", string(body), timestamp)

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("timestamp", timestamp)
	req.Header.Set("signature", signature)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		log.WithError(err).Warn("request failed")
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	logger.LogPerformanceEntry(log, "delta_rest", "api_request", time.Since(start), logger.Fields{
		"path":   path,
		"status": resp.StatusCode,
	})

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).Warn("failed to read response body")
		return nil, &NetworkError{Op: op, Err: err}
	}
	logger.IncrementRestCall(len(respBody))

	var decoded any
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		log.WithError(err).Warn("response is not valid JSON")
		return nil, &DecodeError{Op: op, Err: err}
	}
	return decoded, nil
}
