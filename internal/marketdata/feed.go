package marketdata

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/PawanKGupta/modular-trade-agent-sub006/internal/infra"
)

// Feed is a websocket market-data worker. It keeps the latest price and
// indicator per symbol in memory and reconnects with exponential backoff
// on any read failure. Implements Provider.
type Feed struct {
	url     string
	symbols []string

	cache *Static

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ReadTimeout  time.Duration
	PingInterval time.Duration
}

// tickMessage is one feed update.
type tickMessage struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	Indicator string `json:"indicator"`
}

// NewFeed creates a feed worker for the given endpoint and symbols.
func NewFeed(url string, symbols []string) *Feed {
	return &Feed{
		url:          url,
		symbols:      symbols,
		cache:        NewStatic(),
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

func (f *Feed) LastPrice(symbol string) (decimal.Decimal, error) {
	return f.cache.LastPrice(symbol)
}

func (f *Feed) TargetIndicator(symbol string) (decimal.Decimal, error) {
	return f.cache.TargetIndicator(symbol)
}

// Start launches the connection loop.
func (f *Feed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.runLoop(ctx)
}

// Stop terminates the worker.
func (f *Feed) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.close()
	f.wg.Wait()
}

func (f *Feed) runLoop(ctx context.Context) {
	defer f.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := f.connect(ctx); err != nil {
			slog.Warn("feed connection failed", "url", f.url, "err", err, "retry", retry)
			delay := infra.CalculateBackoff(retry)
			retry++

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retry = 0
		f.process(ctx)
	}
}

func (f *Feed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	// Subscribe to the configured symbols.
	sub := map[string]any{"op": "subscribe", "symbols": f.symbols}
	payload, err := json.Marshal(sub)
	if err != nil {
		f.close()
		return err
	}
	if err := f.write(websocket.TextMessage, payload); err != nil {
		f.close()
		return err
	}

	if f.PingInterval > 0 {
		go f.pingLoop(ctx)
	}

	slog.Info("feed connected", "url", f.url, "symbols", len(f.symbols))
	return nil
}

func (f *Feed) process(ctx context.Context) {
	for {
		f.mu.RLock()
		c := f.conn
		f.mu.RUnlock()
		if c == nil {
			return
		}

		c.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			slog.Warn("feed read error", "err", err)
			f.close()
			return
		}

		f.handleMessage(msg)
	}
}

// handleMessage parses one tick and updates the cache. Malformed ticks are
// logged and dropped; one bad message must not kill the connection.
func (f *Feed) handleMessage(msg []byte) {
	var tick tickMessage
	if err := json.Unmarshal(msg, &tick); err != nil {
		slog.Warn("feed: malformed message", "err", err)
		return
	}
	if tick.Symbol == "" {
		return
	}

	if tick.Price != "" {
		price, err := decimal.NewFromString(tick.Price)
		if err != nil {
			slog.Warn("feed: bad price", "symbol", tick.Symbol, "raw", tick.Price)
		} else {
			f.cache.SetPrice(tick.Symbol, price)
		}
	}
	if tick.Indicator != "" {
		ind, err := decimal.NewFromString(tick.Indicator)
		if err != nil {
			slog.Warn("feed: bad indicator", "symbol", tick.Symbol, "raw", tick.Indicator)
		} else {
			f.cache.SetIndicator(tick.Symbol, ind)
		}
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(f.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.RLock()
			c := f.conn
			f.mu.RUnlock()
			if c == nil {
				return
			}
			if err := f.write(websocket.PingMessage, nil); err != nil {
				slog.Warn("feed ping error", "err", err)
				f.close()
				return
			}
		}
	}
}

func (f *Feed) write(msgType int, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.RLock()
	c := f.conn
	f.mu.RUnlock()
	if c == nil {
		return websocket.ErrCloseSent
	}
	return c.WriteMessage(msgType, data)
}

func (f *Feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}
