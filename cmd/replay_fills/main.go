// Command replay_fills replays captured exchange order snapshots through the
// reconciliation engine and prints the resulting trade economics.
//
// Each input file holds one order payload as JSON, for example a saved
// GetOrder response. Files are applied in argument order:
//
//	replay_fills -pair ETH/BTC -stake 0.001 -rate 0.01 -leverage 3 entry.json exit.json
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"cryptoMarginBot/internal/adapters/logger"
	"cryptoMarginBot/internal/adapters/memory"
	"cryptoMarginBot/internal/adapters/rates"
	"cryptoMarginBot/internal/domain"
)

func main() {
	var (
		pair      = flag.String("pair", "", "trading pair, e.g. ETH/BTC (required)")
		exchange  = flag.String("exchange", "binance", "exchange the orders were captured from")
		stake     = flag.Float64("stake", 0, "owner stake in quote currency (required)")
		rate      = flag.Float64("rate", 0, "provisional entry price (required)")
		leverage  = flag.Float64("leverage", 1, "position leverage")
		feeOpen   = flag.Float64("fee-open", 0.001, "entry fee fraction")
		feeClose  = flag.Float64("fee-close", 0.001, "exit fee fraction")
		ratesPath = flag.String("rates", "", "optional YAML file overriding the built-in borrow rate tables")
		verbose   = flag.Bool("v", false, "log each reconciliation step")
	)
	flag.Parse()

	files := flag.Args()
	if *pair == "" || *stake <= 0 || *rate <= 0 || len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: replay_fills -pair PAIR -stake STAKE -rate RATE [flags] order.json [order.json ...]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	level := logger.LevelWarn
	if *verbose {
		level = logger.LevelDebug
	}
	appLogger := logger.NewStdLogger(level)
	ctx := context.Background()

	// 1. Borrow terms and reconciler
	rateSource, err := rates.New(rates.Config{Path: *ratesPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to load borrow rate tables: %v", err)
	}
	reconciler, err := domain.NewReconciler(rateSource, nil)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize reconciler: %v", err)
	}

	// 2. Parse all order snapshots up front so a bad file fails the run
	// before any state is built.
	orders := make([]*domain.OrderRecord, 0, len(files))
	for _, file := range files {
		payload, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("FATAL: Failed to read %s: %v", file, err)
		}
		order, err := domain.ParseOrderJSON(payload)
		if err != nil {
			log.Fatalf("FATAL: Failed to parse %s: %v", file, err)
		}
		orders = append(orders, order)
	}

	// 3. Seed the trade. The open date comes from the first snapshot so the
	// replay produces the same interest numbers on every run.
	openDate := orders[0].Timestamp
	if openDate.IsZero() {
		openDate = time.Now().UTC()
	}
	trade, err := domain.NewTrade(domain.TradeParams{
		Pair:        *pair,
		Exchange:    *exchange,
		StakeAmount: *stake,
		Amount:      *stake / *rate,
		OpenRate:    *rate,
		Leverage:    *leverage,
		FeeOpen:     *feeOpen,
		FeeClose:    *feeClose,
		OpenDate:    openDate,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to create trade: %v", err)
	}

	repo := memory.NewRepository()
	id, err := repo.Create(ctx, trade)
	if err != nil {
		log.Fatalf("FATAL: Failed to store trade: %v", err)
	}
	trade.ID = id

	// 4. Apply each snapshot in order
	for i, order := range orders {
		ev, err := trade.Update(order, reconciler)
		if err != nil {
			log.Fatalf("FATAL: Order %s (%s) was rejected: %v", order.ID, files[i], err)
		}
		fmt.Printf("%-12s %s order %s (%s)\n", ev.Kind, order.Status, order.ID, files[i])
		if msg := ev.Message(); msg != "" {
			fmt.Printf("             %s\n", msg)
		}
		if err := repo.Update(ctx, trade); err != nil {
			log.Fatalf("FATAL: Failed to persist trade after order %s: %v", order.ID, err)
		}
	}

	// 5. Report from storage, not from the working copy, so the printout
	// reflects exactly what a restart would reload.
	stored, err := repo.FindByID(ctx, id)
	if err != nil || stored == nil {
		log.Fatalf("FATAL: Failed to reload trade %d: %v", id, err)
	}
	printTrade(stored)
}

func printTrade(t *domain.Trade) {
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Pair\t%s on %s\n", t.Pair, t.Exchange)
	fmt.Fprintf(w, "State\t%s\n", t.State())
	if t.Side != domain.PositionUnknown {
		fmt.Fprintf(w, "Side\t%s x%g\n", t.Side, t.Leverage)
	}
	fmt.Fprintf(w, "Stake\t%.8f\n", t.StakeAmount)
	fmt.Fprintf(w, "Amount\t%.8f\n", t.Amount)
	if t.Borrowed > 0 {
		fmt.Fprintf(w, "Borrowed\t%.8f\n", t.Borrowed)
	}
	fmt.Fprintf(w, "Open rate\t%.8f\n", t.OpenRate)
	fmt.Fprintf(w, "Open date\t%s\n", t.OpenDate.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Orders\t%d\n", len(t.Orders))

	if t.IsOpen {
		if t.Opened() {
			fmt.Fprintf(w, "Open value\t%.8f\n", t.CalcOpenTradeValue())
		}
	} else {
		fmt.Fprintf(w, "Close rate\t%.8f\n", t.CloseRate)
		fmt.Fprintf(w, "Close date\t%s\n", t.CloseDate.UTC().Format(time.RFC3339))
		fmt.Fprintf(w, "Close reason\t%s\n", t.CloseReason)
		fmt.Fprintf(w, "Profit\t%.8f\n", t.CloseProfit)
		fmt.Fprintf(w, "Profit ratio\t%.4f%%\n", t.CloseProfitRatio*100)
	}
	w.Flush()
}
