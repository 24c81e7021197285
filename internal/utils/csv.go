package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"cryptoMarginBot/internal/domain"
)

func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{
		"id", "pair", "exchange", "side", "leverage", "stake_amount", "amount",
		"open_rate", "close_rate", "open_date", "close_date", "close_reason",
		"close_profit", "close_profit_ratio",
	})

	for _, t := range trades {
		closeRate := ""
		if t.CloseRate != 0 {
			closeRate = strconv.FormatFloat(t.CloseRate, 'f', -1, 64)
		}
		closeDate := ""
		if !t.CloseDate.IsZero() {
			closeDate = t.CloseDate.UTC().Format(time.RFC3339)
		}
		writer.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.Pair,
			t.Exchange,
			string(t.Side),
			strconv.FormatFloat(t.Leverage, 'f', -1, 64),
			strconv.FormatFloat(t.StakeAmount, 'f', -1, 64),
			strconv.FormatFloat(t.Amount, 'f', -1, 64),
			strconv.FormatFloat(t.OpenRate, 'f', -1, 64),
			closeRate,
			t.OpenDate.UTC().Format(time.RFC3339),
			closeDate,
			string(t.CloseReason),
			strconv.FormatFloat(t.CloseProfit, 'f', -1, 64),
			strconv.FormatFloat(t.CloseProfitRatio, 'f', -1, 64),
		})
	}
	return writer.Error()
}
