package datasource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradesim/internal/market"

	"github.com/tidwall/gjson"
)

// yahooIntervals Yahoo chart API 支持的周期映射。
var yahooIntervals = map[string]string{
	"1m":  "1m",
	"5m":  "5m",
	"15m": "15m",
	"30m": "30m",
	"1h":  "60m",
	"1d":  "1d",
	"1w":  "1wk",
}

// Yahoo 通过 chart API 获取股票日线/分钟线。
type Yahoo struct {
	baseURL string
	client  *http.Client
}

func NewYahoo(baseURL string, timeout time.Duration) *Yahoo {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = "https://query1.finance.yahoo.com"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Yahoo{baseURL: base, client: &http.Client{Timeout: timeout}}
}

func (y *Yahoo) Name() string { return "yahoo" }

func (y *Yahoo) Fetch(ctx context.Context, req Request) ([]market.Bar, error) {
	if err := requireSymbol(req); err != nil {
		return nil, err
	}
	iv, ok := yahooIntervals[req.Interval.Key]
	if !ok {
		return nil, fmt.Errorf("yahoo %q: %w", req.Interval.Key, ErrUnsupported)
	}
	end := req.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(req.Start.Unix(), 10))
	// period2 为开区间，补一个周期保证包含 End 当根。
	q.Set("period2", strconv.FormatInt(end.Add(req.Interval.Duration).Unix(), 10))
	q.Set("interval", iv)
	q.Set("events", "history")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(strings.ToUpper(req.Symbol)), q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", "Mozilla/5.0 tradesim")
	resp, err := y.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("yahoo status=%d: invalid json", resp.StatusCode)
	}
	doc := gjson.ParseBytes(body)
	if desc := doc.Get("chart.error.description"); desc.Exists() && desc.String() != "" {
		return nil, fmt.Errorf("yahoo status=%d: %s", resp.StatusCode, desc.String())
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo status=%d", resp.StatusCode)
	}
	return parseYahooChart(doc, req.Start, req.End), nil
}

// parseYahooChart 解析 chart.result[0]，跳过含 null 的行（停牌/未收盘）。
func parseYahooChart(doc gjson.Result, start, end time.Time) []market.Bar {
	res := doc.Get("chart.result.0")
	stamps := res.Get("timestamp").Array()
	quote := res.Get("indicators.quote.0")
	opens := quote.Get("open").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	closes := quote.Get("close").Array()
	vols := quote.Get("volume").Array()

	out := make([]market.Bar, 0, len(stamps))
	for i, ts := range stamps {
		if i >= len(opens) || i >= len(highs) || i >= len(lows) || i >= len(closes) {
			break
		}
		if opens[i].Type == gjson.Null || closes[i].Type == gjson.Null ||
			highs[i].Type == gjson.Null || lows[i].Type == gjson.Null {
			continue
		}
		var vol float64
		if i < len(vols) {
			vol = vols[i].Float()
		}
		out = append(out, market.Bar{
			Time:   time.Unix(ts.Int(), 0).UTC(),
			Open:   opens[i].Float(),
			High:   highs[i].Float(),
			Low:    lows[i].Float(),
			Close:  closes[i].Float(),
			Volume: vol,
		})
	}
	return within(out, start, end)
}
