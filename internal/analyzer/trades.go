// Package analyzer 汇总回测交易统计与运行报告。
package analyzer

import (
	"github.com/shopspring/decimal"

	"tradesim/internal/broker"
)

// Summary is the aggregate over closed trades.
type Summary struct {
	TotalTrades           int     `json:"total_trades" yaml:"total_trades"`
	Won                   int     `json:"won" yaml:"won"`
	Lost                  int     `json:"lost" yaml:"lost"`
	GrossPnL              float64 `json:"gross_pnl" yaml:"gross_pnl"`
	NetPnL                float64 `json:"net_pnl" yaml:"net_pnl"`
	Commission            float64 `json:"commission" yaml:"commission"`
	BarsHeld              int     `json:"bars_held" yaml:"bars_held"`
	AverageProfitPerTrade float64 `json:"average_profit_per_trade" yaml:"average_profit_per_trade"`
	AverageTradeLength    float64 `json:"average_trade_length" yaml:"average_trade_length"`
	WinRate               float64 `json:"win_rate" yaml:"win_rate"`
	BestTrade             float64 `json:"best_trade" yaml:"best_trade"`
	WorstTrade            float64 `json:"worst_trade" yaml:"worst_trade"`
	LongestWinStreak      int     `json:"longest_win_streak" yaml:"longest_win_streak"`
	LongestLoseStreak     int     `json:"longest_lose_streak" yaml:"longest_lose_streak"`
}

// TradeAnalyzer accumulates closed trades. A trade is won when its net pnl
// is strictly positive; everything else counts as lost.
type TradeAnalyzer struct {
	total, won, lost int
	gross, net, comm decimal.Decimal
	barsHeld         int
	best, worst      float64
	winRun, loseRun  int
	maxWin, maxLose  int
	trades           []broker.Trade
}

func NewTradeAnalyzer() *TradeAnalyzer {
	return &TradeAnalyzer{}
}

func (a *TradeAnalyzer) Record(t broker.Trade) {
	if a.total == 0 || t.NetPnL > a.best {
		a.best = t.NetPnL
	}
	if a.total == 0 || t.NetPnL < a.worst {
		a.worst = t.NetPnL
	}
	a.total++
	a.gross = a.gross.Add(decimal.NewFromFloat(t.GrossPnL))
	a.net = a.net.Add(decimal.NewFromFloat(t.NetPnL))
	a.comm = a.comm.Add(decimal.NewFromFloat(t.Commission))
	a.barsHeld += t.BarLen
	if t.NetPnL > 0 {
		a.won++
		a.winRun++
		a.loseRun = 0
	} else {
		a.lost++
		a.loseRun++
		a.winRun = 0
	}
	a.maxWin = max(a.maxWin, a.winRun)
	a.maxLose = max(a.maxLose, a.loseRun)
	a.trades = append(a.trades, t)
}

// Trades returns the recorded trades in close order.
func (a *TradeAnalyzer) Trades() []broker.Trade {
	return append([]broker.Trade(nil), a.trades...)
}

func (a *TradeAnalyzer) Summary() Summary {
	s := Summary{
		TotalTrades:       a.total,
		Won:               a.won,
		Lost:              a.lost,
		GrossPnL:          a.gross.InexactFloat64(),
		NetPnL:            a.net.InexactFloat64(),
		Commission:        a.comm.InexactFloat64(),
		BarsHeld:          a.barsHeld,
		BestTrade:         a.best,
		WorstTrade:        a.worst,
		LongestWinStreak:  a.maxWin,
		LongestLoseStreak: a.maxLose,
	}
	if a.total > 0 {
		n := decimal.NewFromInt(int64(a.total))
		s.AverageProfitPerTrade = a.net.Div(n).InexactFloat64()
		s.AverageTradeLength = float64(a.barsHeld) / float64(a.total)
		s.WinRate = float64(a.won) / float64(a.total)
	}
	return s
}
