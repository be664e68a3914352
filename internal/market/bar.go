package market

import (
	"fmt"
	"math"
	"time"
)

// Bar 单根 OHLCV K 线，生成后不可修改。
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate checks the required fields of a single bar.
func (b Bar) Validate() error {
	if b.Time.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidBar)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{{"open", b.Open}, {"high", b.High}, {"low", b.Low}, {"close", b.Close}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v <= 0 {
			return fmt.Errorf("%w: %s=%v", ErrInvalidBar, f.name, f.v)
		}
	}
	if math.IsNaN(b.Volume) || math.IsInf(b.Volume, 0) || b.Volume < 0 {
		return fmt.Errorf("%w: volume=%v", ErrInvalidBar, b.Volume)
	}
	if b.High < b.Low {
		return fmt.Errorf("%w: high %v below low %v", ErrInvalidBar, b.High, b.Low)
	}
	return nil
}

// Typical returns (high+low+close)/3.
func (b Bar) Typical() float64 {
	return (b.High + b.Low + b.Close) / 3
}

func (b Bar) String() string {
	return fmt.Sprintf("%s O=%.4f H=%.4f L=%.4f C=%.4f V=%.2f",
		b.Time.UTC().Format(time.RFC3339), b.Open, b.High, b.Low, b.Close, b.Volume)
}
