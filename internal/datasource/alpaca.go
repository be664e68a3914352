package datasource

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"tradesim/internal/market"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

// AlpacaConfig holds the market data credentials.
type AlpacaConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string
	Feed      string
}

// Alpaca fetches US equity bars from the Alpaca market data API.
type Alpaca struct {
	client *marketdata.Client
	feed   string
}

func NewAlpaca(cfg AlpacaConfig) *Alpaca {
	opts := marketdata.ClientOpts{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	}
	if cfg.BaseURL != "" {
		opts.BaseURL = cfg.BaseURL
	}
	feed := strings.ToLower(strings.TrimSpace(cfg.Feed))
	if feed == "" {
		feed = "sip"
	}
	return &Alpaca{client: marketdata.NewClient(opts), feed: feed}
}

func (a *Alpaca) Name() string { return "alpaca" }

func (a *Alpaca) Fetch(ctx context.Context, req Request) ([]market.Bar, error) {
	if err := requireSymbol(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf, err := alpacaTimeFrame(req.Interval)
	if err != nil {
		return nil, err
	}
	bars, err := a.client.GetBars(strings.ToUpper(req.Symbol), marketdata.GetBarsRequest{
		TimeFrame: tf,
		Start:     req.Start,
		End:       req.End,
		Feed:      marketdata.Feed(a.feed),
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars: %w", err)
	}
	out := make([]market.Bar, 0, len(bars))
	for _, ab := range bars {
		out = append(out, market.Bar{
			Time:   ab.Timestamp.UTC(),
			Open:   ab.Open,
			High:   ab.High,
			Low:    ab.Low,
			Close:  ab.Close,
			Volume: float64(ab.Volume),
		})
	}
	return out, nil
}

func alpacaTimeFrame(iv market.Interval) (marketdata.TimeFrame, error) {
	key := iv.Key
	if len(key) < 2 {
		return marketdata.TimeFrame{}, fmt.Errorf("alpaca %q: %w", key, ErrUnsupported)
	}
	n, err := strconv.Atoi(key[:len(key)-1])
	if err != nil || n <= 0 {
		return marketdata.TimeFrame{}, fmt.Errorf("alpaca %q: %w", key, ErrUnsupported)
	}
	switch key[len(key)-1] {
	case 'm':
		return marketdata.NewTimeFrame(n, marketdata.Min), nil
	case 'h':
		return marketdata.NewTimeFrame(n, marketdata.Hour), nil
	case 'd':
		return marketdata.NewTimeFrame(n, marketdata.Day), nil
	case 'w':
		return marketdata.NewTimeFrame(n, marketdata.Week), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("alpaca %q: %w", key, ErrUnsupported)
}
