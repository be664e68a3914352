package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Report is the externally visible result of a run.
type Report struct {
	RunID    string `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Symbol   string `json:"symbol" yaml:"symbol"`
	Strategy string `json:"strategy" yaml:"strategy"`
	Bars     int    `json:"bars" yaml:"bars"`

	StartingValue         float64 `json:"starting_value" yaml:"starting_value"`
	EndingValue           float64 `json:"ending_value" yaml:"ending_value"`
	TotalTrades           int     `json:"total_trades" yaml:"total_trades"`
	Won                   int     `json:"won" yaml:"won"`
	Lost                  int     `json:"lost" yaml:"lost"`
	TotalNetProfit        float64 `json:"total_net_profit" yaml:"total_net_profit"`
	AverageProfitPerTrade float64 `json:"average_profit_per_trade" yaml:"average_profit_per_trade"`
	AverageTradeLength    float64 `json:"average_trade_length" yaml:"average_trade_length"`

	Extras Extras `json:"extras" yaml:"extras"`
}

// Extras 报告附加指标，不属于核心字段。
type Extras struct {
	TotalGrossProfit float64 `json:"total_gross_profit" yaml:"total_gross_profit"`
	Commission       float64 `json:"commission" yaml:"commission"`
	ReturnPct        float64 `json:"return_pct" yaml:"return_pct"`
	MaxDrawdownPct   float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	SharpeRatio      float64 `json:"sharpe_ratio" yaml:"sharpe_ratio"`
	WinRate          float64 `json:"win_rate" yaml:"win_rate"`
	Orders           int     `json:"orders" yaml:"orders"`
	Completed        int     `json:"completed" yaml:"completed"`
	Margin           int     `json:"margin" yaml:"margin"`
	Rejected         int     `json:"rejected" yaml:"rejected"`
	Canceled         int     `json:"canceled" yaml:"canceled"`
	IgnoredIntents   int     `json:"ignored_intents" yaml:"ignored_intents"`
}

// Build assembles a report from the trade summary and the account values.
func Build(summary Summary, startingValue, endingValue float64) Report {
	r := Report{
		StartingValue:         startingValue,
		EndingValue:           endingValue,
		TotalTrades:           summary.TotalTrades,
		Won:                   summary.Won,
		Lost:                  summary.Lost,
		TotalNetProfit:        summary.NetPnL,
		AverageProfitPerTrade: summary.AverageProfitPerTrade,
		AverageTradeLength:    summary.AverageTradeLength,
	}
	r.Extras.TotalGrossProfit = summary.GrossPnL
	r.Extras.Commission = summary.Commission
	r.Extras.WinRate = summary.WinRate
	if startingValue > 0 {
		r.Extras.ReturnPct = (endingValue - startingValue) / startingValue * 100
	}
	return r
}

// Text renders the report with every number to two decimals.
func (r Report) Text() string {
	var b strings.Builder
	if r.Symbol != "" || r.Strategy != "" {
		fmt.Fprintf(&b, "Backtest: %s / %s (%d bars)\n", r.Symbol, r.Strategy, r.Bars)
	}
	fmt.Fprintf(&b, "Starting Portfolio Value: %.2f\n", r.StartingValue)
	fmt.Fprintf(&b, "Final Portfolio Value: %.2f\n", r.EndingValue)
	fmt.Fprintf(&b, "Total Trades: %.2f\n", float64(r.TotalTrades))
	fmt.Fprintf(&b, "Profitable Trades: %.2f\n", float64(r.Won))
	fmt.Fprintf(&b, "Unprofitable Trades: %.2f\n", float64(r.Lost))
	fmt.Fprintf(&b, "Average Profit per Trade: $%.2f\n", r.AverageProfitPerTrade)
	fmt.Fprintf(&b, "Average Trade Length: %.2f periods\n", r.AverageTradeLength)
	fmt.Fprintf(&b, "Total Net Profit: $%.2f\n", r.TotalNetProfit)
	return b.String()
}

// ExtrasText renders the supplementary metrics.
func (r Report) ExtrasText() string {
	e := r.Extras
	var b strings.Builder
	fmt.Fprintf(&b, "Return: %.2f%%\n", e.ReturnPct)
	fmt.Fprintf(&b, "Max Drawdown: %.2f%%\n", e.MaxDrawdownPct)
	fmt.Fprintf(&b, "Sharpe Ratio: %.2f\n", e.SharpeRatio)
	fmt.Fprintf(&b, "Gross Profit: $%.2f, Commission: $%.2f\n", e.TotalGrossProfit, e.Commission)
	fmt.Fprintf(&b, "Orders: %d (completed %d, margin %d, rejected %d, canceled %d), ignored intents %d\n",
		e.Orders, e.Completed, e.Margin, e.Rejected, e.Canceled, e.IgnoredIntents)
	return b.String()
}

func (r Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func (r Report) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}
