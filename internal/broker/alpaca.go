package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"tickbot/internal/md"
)

type Options struct {
	APIKey    string
	APISecret string
	BaseURL   string
	// DataURL overrides the market data endpoint.
	DataURL string
	// RequestsPerMinute bounds all calls made through the client.
	RequestsPerMinute int
	StepCacheSize     int
	// DefaultStep is the quantity increment of fractionable assets.
	DefaultStep  float64
	MaxRetries   uint64
	RetryInitial time.Duration
	RetryMax     time.Duration
	// QuoteWorkers bounds concurrent quote requests in Latest.
	QuoteWorkers int
}

func (o *Options) defaults() {
	if o.RequestsPerMinute <= 0 {
		o.RequestsPerMinute = 600
	}
	if o.StepCacheSize <= 0 {
		o.StepCacheSize = 256
	}
	if o.DefaultStep <= 0 {
		o.DefaultStep = 0.000001
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 5
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = time.Second
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 30 * time.Second
	}
	if o.QuoteWorkers <= 0 {
		o.QuoteWorkers = 8
	}
}

// Client is the alpaca gateway. It also serves live prices as the mid of
// the latest crypto quote.
type Client struct {
	trading *alpaca.Client
	data    *marketdata.Client
	limiter *rate.Limiter
	steps   *lru.Cache[string, float64]
	opts    Options
}

func New(opts Options) (*Client, error) {
	opts.defaults()
	steps, err := lru.New[string, float64](opts.StepCacheSize)
	if err != nil {
		return nil, fmt.Errorf("step cache: %w", err)
	}
	burst := max(opts.RequestsPerMinute/60, 1)
	return &Client{
		trading: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.BaseURL,
		}),
		data: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    opts.APIKey,
			APISecret: opts.APISecret,
			BaseURL:   opts.DataURL,
		}),
		limiter: rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60), burst),
		steps:   steps,
		opts:    opts,
	}, nil
}

// call runs fn under the rate limiter, retrying transient failures with
// capped exponential backoff.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryInitial
	b.MaxInterval = c.opts.RetryMax
	b.MaxElapsedTime = 0

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		log.Warn().Str("op", op).Int("attempt", attempt).Err(err).Msg("transient exchange error")
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, c.opts.MaxRetries), ctx))
	if err != nil && isTransient(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset")
}

// StepSize returns the quantity increment for symbol, memoised per symbol.
func (c *Client) StepSize(ctx context.Context, symbol string) (float64, error) {
	if step, ok := c.steps.Get(symbol); ok {
		return step, nil
	}
	var asset *alpaca.Asset
	err := c.call(ctx, "get asset", func() error {
		var err error
		asset, err = c.trading.GetAsset(symbol)
		return err
	})
	if err != nil {
		log.Error().Str("symbol", symbol).Err(err).Msg("fetch asset failed")
		return 0, err
	}
	if !asset.Tradable {
		return 0, fmt.Errorf("asset %s is not tradable", symbol)
	}
	step := 1.0
	if asset.Fractionable {
		step = c.opts.DefaultStep
	}
	c.steps.Add(symbol, step)
	log.Debug().Str("symbol", symbol).Float64("step", step).Msg("step size cached")
	return step, nil
}

func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderRef, error) {
	qty := decimal.NewFromFloat(req.Qty)
	orderReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   alpaca.IOC,
		ClientOrderID: req.ClientOrderID,
	}
	if req.LimitPrice != nil {
		limitPrice := decimal.NewFromFloat(*req.LimitPrice)
		orderReq.LimitPrice = &limitPrice
	}

	var order *alpaca.Order
	err := c.call(ctx, "place order", func() error {
		var err error
		order, err = c.trading.PlaceOrder(orderReq)
		return err
	})
	if err != nil {
		log.Error().Str("side", string(req.Side)).Str("symbol", req.Symbol).Float64("qty", req.Qty).Err(err).Msg("place order failed")
		return OrderRef{}, err
	}

	log.Info().Str("order_id", order.ID).Str("side", string(req.Side)).Str("symbol", req.Symbol).Float64("qty", req.Qty).Str("status", string(order.Status)).Msg("place order success")
	return OrderRef{
		ID:            order.ID,
		ClientOrderID: order.ClientOrderID,
		Status:        string(order.Status),
	}, nil
}

func (c *Client) PollOrder(ctx context.Context, orderID string) (OrderStatus, error) {
	var order *alpaca.Order
	err := c.call(ctx, "get order", func() error {
		var err error
		order, err = c.trading.GetOrder(orderID)
		return err
	})
	if err != nil {
		return "", err
	}
	return orderStatus(string(order.Status)), nil
}

func orderStatus(status string) OrderStatus {
	switch status {
	case "filled":
		return OrderFilled
	case "canceled", "expired", "rejected", "done_for_day", "stopped", "suspended":
		return OrderExpired
	default:
		return OrderPending
	}
}

func (c *Client) quote(ctx context.Context, symbol string) (*marketdata.CryptoQuote, error) {
	var quote *marketdata.CryptoQuote
	err := c.call(ctx, "latest quote", func() error {
		var err error
		quote, err = c.data.GetLatestCryptoQuote(symbol, marketdata.GetLatestCryptoQuoteRequest{})
		return err
	})
	if err != nil {
		return nil, err
	}
	if quote == nil || quote.BidPrice <= 0 || quote.AskPrice <= 0 {
		return nil, fmt.Errorf("empty book for %s", symbol)
	}
	return quote, nil
}

func (c *Client) TopOfBook(ctx context.Context, symbol string) (float64, float64, error) {
	quote, err := c.quote(ctx, symbol)
	if err != nil {
		return 0, 0, err
	}
	return quote.BidPrice, quote.AskPrice, nil
}

// Latest fetches the mid price of every symbol concurrently. Symbols whose
// quote cannot be fetched are left out of the result for this cycle.
func (c *Client) Latest(ctx context.Context, symbols []string) (map[string]md.Tick, error) {
	var mu sync.Mutex
	ticks := make(map[string]md.Tick, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.QuoteWorkers)
	for _, symbol := range symbols {
		g.Go(func() error {
			quote, err := c.quote(gctx, symbol)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn().Str("symbol", symbol).Err(err).Msg("quote skipped")
				return nil
			}
			mu.Lock()
			ticks[symbol] = md.Tick{
				Symbol: symbol,
				Time:   quote.Timestamp.UTC(),
				Price:  (quote.BidPrice + quote.AskPrice) / 2,
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ticks, nil
}

var timeFrames = map[md.Resolution]marketdata.TimeFrame{
	md.Minutes: marketdata.OneMin,
	md.Hours:   marketdata.OneHour,
	md.Days:    marketdata.OneDay,
}

// Candles fetches bars of one resolution in [start, end).
func (c *Client) Candles(ctx context.Context, symbol string, res md.Resolution, start, end time.Time) ([]md.Candle, error) {
	tf, ok := timeFrames[res]
	if !ok {
		return nil, fmt.Errorf("no bars at resolution %s", res)
	}
	var bars []marketdata.CryptoBar
	err := c.call(ctx, "crypto bars", func() error {
		var err error
		bars, err = c.data.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
			TimeFrame: tf,
			Start:     start,
			End:       end,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	candles := make([]md.Candle, 0, len(bars))
	for _, bar := range bars {
		candles = append(candles, md.Candle{
			Time:  bar.Timestamp.UTC(),
			Open:  bar.Open,
			High:  bar.High,
			Low:   bar.Low,
			Close: bar.Close,
		})
	}
	return candles, nil
}
