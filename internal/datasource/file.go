package datasource

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tradesim/internal/market"

	"github.com/parquet-go/parquet-go"
)

// BarRecord 是 parquet 文件中的单行 K 线。
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// ParquetFile 从单个 parquet 文件读取 K 线，Symbol 为空的行视为匹配任意 symbol。
type ParquetFile struct {
	Path string
}

func (p ParquetFile) Name() string { return "parquet" }

func (p ParquetFile) Fetch(ctx context.Context, req Request) ([]market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[BarRecord](p.Path)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", p.Path, err)
	}
	out := make([]market.Bar, 0, len(rows))
	for _, r := range rows {
		if r.Symbol != "" && req.Symbol != "" && !strings.EqualFold(r.Symbol, req.Symbol) {
			continue
		}
		out = append(out, market.Bar{
			Time:   time.UnixMilli(r.Timestamp).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}
	return within(out, req.Start, req.End), nil
}

// WriteParquet 导出 K 线到 parquet 文件。
func WriteParquet(path, symbol string, bars []market.Bar) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	records := make([]BarRecord, 0, len(bars))
	for _, b := range bars {
		records = append(records, BarRecord{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: b.Time.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return parquet.WriteFile(path, records)
}

var csvHeader = []string{"time", "open", "high", "low", "close", "volume"}

// CSVFile reads bars from a headed CSV file: time,open,high,low,close,volume.
// time may be RFC3339, a plain date or unix milliseconds.
type CSVFile struct {
	Path string
}

func (c CSVFile) Name() string { return "csv" }

func (c CSVFile) Fetch(ctx context.Context, req Request) ([]market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	bars, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.Path, err)
	}
	return within(bars, req.Start, req.End), nil
}

// ReadCSV parses bars in file order; columns are located by header name.
func ReadCSV(r io.Reader) ([]market.Bar, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, market.ErrEmptyFeed
		}
		return nil, err
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := cols["date"]; ok {
		if _, has := cols["time"]; !has {
			cols["time"] = cols["date"]
		}
	}
	for _, name := range csvHeader[:5] {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("csv header missing column %q", name)
		}
	}
	var out []market.Bar
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		ts, err := parseCSVTime(rec[cols["time"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bar := market.Bar{
			Time:  ts,
			Open:  parseFloat(rec[cols["open"]]),
			High:  parseFloat(rec[cols["high"]]),
			Low:   parseFloat(rec[cols["low"]]),
			Close: parseFloat(rec[cols["close"]]),
		}
		if idx, ok := cols["volume"]; ok && idx < len(rec) {
			bar.Volume = parseFloat(rec[idx])
		}
		out = append(out, bar)
	}
	return out, nil
}

func parseCSVTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", raw)
}

// WriteCSV 导出 K 线，格式与 ReadCSV 对应。
func WriteCSV(w io.Writer, bars []market.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, b := range bars {
		row := []string{
			b.Time.UTC().Format(time.RFC3339),
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
