// Package analytics derives summary statistics from settled trades for
// offline reports. Only trades with a reconciled entry and a booked close
// carry economics worth counting; everything else is skipped.
package analytics

import (
	"math"
	"sort"
	"time"

	"cryptoMarginBot/internal/domain"
)

// PerformanceMetrics holds the aggregated results of a set of settled trades.
type PerformanceMetrics struct {
	// Basic Metrics
	TotalTrades        int
	WinningTrades      int
	LosingTrades       int
	WinRate            float64
	TotalProfit        float64
	AverageWin         float64
	AverageLoss        float64
	ProfitFactor       float64
	Expectancy         float64
	FinalBalance       float64
	ReturnOnInvestment float64

	// Advanced Metrics
	MaxDrawdown          float64
	ProfitToMaxDrawdown  float64
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	AverageTradeDuration time.Duration
	MonthlyReturns       map[string]float64
	CloseReasons         map[domain.CloseReason]int
	Pairs                []PairSummary
	Drawdowns            []Drawdown
	EquityCurve          []EquityPoint
}

// PairSummary aggregates the settled results of one trading pair.
type PairSummary struct {
	Pair        string
	Trades      int
	Wins        int
	TotalProfit float64
	MeanRatio   float64
}

// Drawdown represents a drawdown period
type Drawdown struct {
	StartTime  time.Time
	EndTime    time.Time
	StartValue float64
	EndValue   float64
	Depth      float64
	Duration   time.Duration
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance walks the settled trades in close order and derives the
// performance metrics of the whole ledger against a starting balance.
func AnalyzePerformance(trades []*domain.Trade, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance:   initialBalance,
		MonthlyReturns: make(map[string]float64),
		CloseReasons:   make(map[domain.CloseReason]int),
		Drawdowns:      make([]Drawdown, 0),
		EquityCurve:    make([]EquityPoint, 0),
	}

	settled := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t == nil || t.IsOpen || !t.Opened() {
			continue
		}
		settled = append(settled, t)
	}
	if len(settled) == 0 {
		return metrics
	}

	sort.Slice(settled, func(i, j int) bool {
		return settled[i].CloseDate.Before(settled[j].CloseDate)
	})

	var currentBalance = initialBalance
	var peakBalance = initialBalance
	var currentDrawdown *Drawdown
	var consecutiveWins, consecutiveLosses int
	var grossWin, grossLoss float64
	var totalDuration time.Duration
	pairs := make(map[string]*PairSummary)
	ratios := make(map[string]float64)

	for _, trade := range settled {
		pnl := trade.CloseProfit
		metrics.TotalTrades++
		if pnl > 0 {
			metrics.WinningTrades++
			consecutiveWins++
			consecutiveLosses = 0
			grossWin += pnl
			metrics.AverageWin = (metrics.AverageWin*float64(metrics.WinningTrades-1) + pnl) / float64(metrics.WinningTrades)
		} else {
			metrics.LosingTrades++
			consecutiveLosses++
			consecutiveWins = 0
			grossLoss += -pnl
			metrics.AverageLoss = (metrics.AverageLoss*float64(metrics.LosingTrades-1) + pnl) / float64(metrics.LosingTrades)
		}
		if consecutiveWins > metrics.MaxConsecutiveWins {
			metrics.MaxConsecutiveWins = consecutiveWins
		}
		if consecutiveLosses > metrics.MaxConsecutiveLosses {
			metrics.MaxConsecutiveLosses = consecutiveLosses
		}

		currentBalance += pnl
		metrics.TotalProfit += pnl
		metrics.FinalBalance = currentBalance
		totalDuration += trade.CloseDate.Sub(trade.OpenDate)

		metrics.MonthlyReturns[trade.CloseDate.Format("2006-01")] += pnl
		metrics.CloseReasons[trade.CloseReason]++

		ps := pairs[trade.Pair]
		if ps == nil {
			ps = &PairSummary{Pair: trade.Pair}
			pairs[trade.Pair] = ps
		}
		ps.Trades++
		if pnl > 0 {
			ps.Wins++
		}
		ps.TotalProfit += pnl
		ratios[trade.Pair] += trade.CloseProfitRatio

		// Drawdown tracking against the running peak.
		if currentBalance > peakBalance {
			peakBalance = currentBalance
			if currentDrawdown != nil {
				currentDrawdown.EndTime = trade.CloseDate
				currentDrawdown.EndValue = currentBalance
				currentDrawdown.Duration = currentDrawdown.EndTime.Sub(currentDrawdown.StartTime)
				metrics.Drawdowns = append(metrics.Drawdowns, *currentDrawdown)
				currentDrawdown = nil
			}
		} else if peakBalance > 0 {
			drawdown := (peakBalance - currentBalance) / peakBalance
			if currentDrawdown == nil {
				currentDrawdown = &Drawdown{
					StartTime:  trade.CloseDate,
					StartValue: peakBalance,
					Depth:      drawdown,
				}
			} else {
				currentDrawdown.Depth = math.Max(currentDrawdown.Depth, drawdown)
			}
			if drawdown > metrics.MaxDrawdown {
				metrics.MaxDrawdown = drawdown
			}
		}

		point := EquityPoint{Time: trade.CloseDate, Value: currentBalance}
		if peakBalance > 0 {
			point.Drawdown = (peakBalance - currentBalance) / peakBalance
		}
		metrics.EquityCurve = append(metrics.EquityCurve, point)
	}

	// Close any drawdown still running at the end of the series.
	if currentDrawdown != nil {
		currentDrawdown.EndTime = settled[len(settled)-1].CloseDate
		currentDrawdown.EndValue = currentBalance
		currentDrawdown.Duration = currentDrawdown.EndTime.Sub(currentDrawdown.StartTime)
		metrics.Drawdowns = append(metrics.Drawdowns, *currentDrawdown)
	}

	metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.TotalTrades)
	if grossLoss > 0 {
		metrics.ProfitFactor = grossWin / grossLoss
	}
	metrics.Expectancy = (metrics.WinRate * metrics.AverageWin) + ((1 - metrics.WinRate) * metrics.AverageLoss)
	if initialBalance > 0 {
		metrics.ReturnOnInvestment = (metrics.FinalBalance - initialBalance) / initialBalance
	}
	if metrics.MaxDrawdown > 0 {
		metrics.ProfitToMaxDrawdown = metrics.TotalProfit / (initialBalance * metrics.MaxDrawdown)
	}
	metrics.AverageTradeDuration = totalDuration / time.Duration(len(settled))

	for pair, ps := range pairs {
		ps.MeanRatio = ratios[pair] / float64(ps.Trades)
		metrics.Pairs = append(metrics.Pairs, *ps)
	}
	sort.Slice(metrics.Pairs, func(i, j int) bool {
		if metrics.Pairs[i].TotalProfit != metrics.Pairs[j].TotalProfit {
			return metrics.Pairs[i].TotalProfit > metrics.Pairs[j].TotalProfit
		}
		return metrics.Pairs[i].Pair < metrics.Pairs[j].Pair
	})

	return metrics
}

// GetMonthlyReturns returns the monthly returns as a sorted slice
func (m *PerformanceMetrics) GetMonthlyReturns() []MonthlyReturn {
	returns := make([]MonthlyReturn, 0, len(m.MonthlyReturns))
	for month, profit := range m.MonthlyReturns {
		date, _ := time.Parse("2006-01", month)
		returns = append(returns, MonthlyReturn{
			Month:  date,
			Return: profit,
		})
	}
	sort.Slice(returns, func(i, j int) bool {
		return returns[i].Month.Before(returns[j].Month)
	})
	return returns
}

// MonthlyReturn represents a monthly return value
type MonthlyReturn struct {
	Month  time.Time
	Return float64
}
