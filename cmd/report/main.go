// Command report prints a performance summary of the trade ledger: realized
// totals, per-pair results, close reason counts and drawdown periods.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"text/tabwriter"

	"cryptoMarginBot/internal/adapters/logger"
	"cryptoMarginBot/internal/adapters/sqlite"
	"cryptoMarginBot/internal/analytics"
	"cryptoMarginBot/internal/domain"
	"cryptoMarginBot/internal/utils"
)

func main() {
	var (
		dbPath  = flag.String("db", "./data/margin_bot.db", "path to the trade ledger database")
		balance = flag.Float64("balance", 1000.0, "starting balance used for return and drawdown figures")
		csvPath = flag.String("csv", "", "optional path to export all trades as CSV")
	)
	flag.Parse()

	appLogger := logger.NewStdLogger(logger.LevelWarn)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: *dbPath,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to open trade ledger at %s: %v", *dbPath, err)
	}
	defer repo.Close()

	trades, err := repo.FindAll(context.Background())
	if err != nil {
		log.Fatalf("FATAL: Failed to load trades: %v", err)
	}
	if len(trades) == 0 {
		fmt.Println("No trades recorded yet.")
		return
	}

	if *csvPath != "" {
		if err := utils.WriteTradesToCSV(trades, *csvPath); err != nil {
			log.Fatalf("FATAL: Failed to export trades to %s: %v", *csvPath, err)
		}
		fmt.Printf("Exported %d trades to %s\n\n", len(trades), *csvPath)
	}

	metrics := analytics.AnalyzePerformance(trades, *balance)
	if metrics.TotalTrades == 0 {
		fmt.Printf("%d trades recorded, none settled yet.\n", len(trades))
		return
	}

	fmt.Println("## Summary")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Settled trades\t%d\n", metrics.TotalTrades)
	fmt.Fprintf(w, "Win rate\t%.1f%% (%d/%d)\n", metrics.WinRate*100, metrics.WinningTrades, metrics.TotalTrades)
	fmt.Fprintf(w, "Total profit\t%.8f\n", metrics.TotalProfit)
	fmt.Fprintf(w, "Average win\t%.8f\n", metrics.AverageWin)
	fmt.Fprintf(w, "Average loss\t%.8f\n", metrics.AverageLoss)
	fmt.Fprintf(w, "Profit factor\t%.2f\n", metrics.ProfitFactor)
	fmt.Fprintf(w, "Expectancy\t%.8f\n", metrics.Expectancy)
	fmt.Fprintf(w, "Final balance\t%.2f (%.2f%% ROI)\n", metrics.FinalBalance, metrics.ReturnOnInvestment*100)
	fmt.Fprintf(w, "Max drawdown\t%.2f%%\n", metrics.MaxDrawdown*100)
	fmt.Fprintf(w, "Max consecutive\t%d wins / %d losses\n", metrics.MaxConsecutiveWins, metrics.MaxConsecutiveLosses)
	fmt.Fprintf(w, "Avg duration\t%s\n", metrics.AverageTradeDuration)
	w.Flush()

	fmt.Println("\n## Pairs")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Pair\tTrades\tWins\tTotalProfit\tMeanRatio\t")
	for _, p := range metrics.Pairs {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.8f\t%.4f%%\t\n", p.Pair, p.Trades, p.Wins, p.TotalProfit, p.MeanRatio*100)
	}
	w.Flush()

	fmt.Println("\n## Close Reasons")
	reasons := make([]domain.CloseReason, 0, len(metrics.CloseReasons))
	for reason := range metrics.CloseReasons {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool { return string(reasons[i]) < string(reasons[j]) })
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Reason\tCount\t")
	for _, reason := range reasons {
		fmt.Fprintf(w, "%s\t%d\t\n", reason, metrics.CloseReasons[reason])
	}
	w.Flush()

	fmt.Println("\n## Monthly Returns")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Month\tReturn\t")
	for _, m := range metrics.GetMonthlyReturns() {
		fmt.Fprintf(w, "%s\t%.8f\t\n", m.Month.Format("2006-01"), m.Return)
	}
	w.Flush()

	if len(metrics.Drawdowns) > 0 {
		fmt.Println("\n## Drawdown Periods")
		w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
		fmt.Fprintln(w, "Start\tEnd\tDepth\tDuration\t")
		for _, d := range metrics.Drawdowns {
			fmt.Fprintf(w, "%s\t%s\t%.2f%%\t%s\t\n",
				d.StartTime.Format("2006-01-02"), d.EndTime.Format("2006-01-02"), d.Depth*100, d.Duration)
		}
		w.Flush()
	}
}
