package datasource

import (
	"context"
	"net/http"
	"strings"
	"time"

	"tradesim/internal/market"

	"github.com/adshao/go-binance/v2/futures"
)

const binanceMaxLimit = 1500

// Binance 基于 go-binance SDK 拉取 USDT 合约 K 线。
type Binance struct {
	client *futures.Client
}

func NewBinance(baseURL string, timeout time.Duration) *Binance {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(baseURL); base != "" {
		client.BaseURL = base
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &Binance{client: client}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) MaxLimit() int { return binanceMaxLimit }

func (b *Binance) Fetch(ctx context.Context, req Request) ([]market.Bar, error) {
	if err := requireSymbol(req); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 || limit > binanceMaxLimit {
		limit = 1000
	}
	symbol := binanceSymbol(req.Symbol)
	svc := b.client.NewKlinesService().Symbol(symbol).Interval(req.Interval.Key).Limit(limit)
	if !req.Start.IsZero() {
		svc = svc.StartTime(req.Start.UnixMilli())
	}
	if !req.End.IsZero() {
		svc = svc.EndTime(req.End.UnixMilli())
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]market.Bar, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		// 未收盘的 K 线不参与回测
		if time.UnixMilli(kl.CloseTime).After(now) {
			continue
		}
		out = append(out, market.Bar{
			Time:   time.UnixMilli(kl.OpenTime).UTC(),
			Open:   parseFloat(kl.Open),
			High:   parseFloat(kl.High),
			Low:    parseFloat(kl.Low),
			Close:  parseFloat(kl.Close),
			Volume: parseFloat(kl.Volume),
		})
	}
	return out, nil
}

// binanceSymbol 把 "btc/usdt"、"BTC/USDT:USDT" 之类的写法统一为 BTCUSDT。
func binanceSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	return strings.ReplaceAll(s, "/", "")
}
