package runs

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/aristath/stratlab/internal/domain"
)

// ExportCSV writes the trade ledger and equity curve of a run as CSV
// files under dir/<runID>/ and returns the written paths. CSV is the
// interop format; the canonical artifact stays msgpack in the DB.
func ExportCSV(dir, runID string, report *domain.BacktestReport) ([]string, error) {
	if report == nil {
		return nil, domain.InvalidInputf("nil report")
	}

	runDir := filepath.Join(dir, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	tradesPath := filepath.Join(runDir, "trades.csv")
	if err := writeTradesCSV(tradesPath, report.Trades); err != nil {
		return nil, err
	}
	equityPath := filepath.Join(runDir, "equity.csv")
	if err := writeEquityCSV(equityPath, report.EquityCurve); err != nil {
		return nil, err
	}

	return []string{tradesPath, equityPath}, nil
}

func writeTradesCSV(path string, trades []domain.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"date", "side", "price", "shares", "gross_value", "fee", "tax", "slippage_cost"}); err != nil {
		return fmt.Errorf("failed to write trades header: %w", err)
	}
	for _, t := range trades {
		rec := []string{
			t.Date.Format(domain.DateLayout),
			string(t.Side),
			formatFloat(t.Price),
			strconv.FormatInt(t.Shares, 10),
			formatFloat(t.GrossValue),
			formatFloat(t.Fee),
			formatFloat(t.Tax),
			formatFloat(t.SlippageCost),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("failed to write trade row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func writeEquityCSV(path string, curve []domain.EquityPoint) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"date", "equity", "cash", "position_shares", "position_value", "price"}); err != nil {
		return fmt.Errorf("failed to write equity header: %w", err)
	}
	for _, p := range curve {
		rec := []string{
			p.Date.Format(domain.DateLayout),
			formatFloat(p.Equity),
			formatFloat(p.Cash),
			strconv.FormatInt(p.PositionShares, 10),
			formatFloat(p.PositionValue),
			formatFloat(p.Price),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("failed to write equity row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
