/*
main.go - Offline ledger reconciliation tool

PURPOSE:
  Resets and replays the payment history for one or more financings
  directly against the database, outside the running server. Used to
  resolve discrepancies after external payment cancellations or manual
  data fixes.

USAGE:
  reconcile -db financing.db <financing-id> [<financing-id>...]

  Exits non-zero when any rebuild is incomplete (payments skipped) so
  operators can script it.
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/terralot/financing-engine/financing"
	"github.com/terralot/financing-engine/store/sqlite"
)

type rebuildSummary struct {
	FinancingID     string   `json:"financingId"`
	Installments    int      `json:"installments"`
	Incomplete      bool     `json:"incomplete"`
	SkippedPayments []string `json:"skippedPayments,omitempty"`
	Error           string   `json:"error,omitempty"`
}

func main() {
	dbPath := flag.String("db", "financing.db", "SQLite database path")
	timeout := flag.Duration("timeout", time.Minute, "per-financing rebuild timeout")
	flag.Parse()

	ids := flag.Args()
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "usage: reconcile -db <path> <financing-id> [<financing-id>...]")
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	ledger := financing.NewLedger(store, store, logger)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	failed := false
	for _, id := range ids {
		summary := rebuild(ledger, id, *timeout)
		if summary.Error != "" || summary.Incomplete {
			failed = true
		}
		if err := enc.Encode(summary); err != nil {
			logger.Fatalf("Failed to write summary: %v", err)
		}
	}
	if failed {
		os.Exit(1)
	}
}

func rebuild(ledger *financing.Ledger, id string, timeout time.Duration) rebuildSummary {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	summary := rebuildSummary{FinancingID: id}
	result, err := ledger.RebuildLedger(ctx, id)
	if err != nil {
		summary.Error = err.Error()
		return summary
	}
	summary.Installments = len(result.Installments)
	summary.Incomplete = result.Incomplete
	summary.SkippedPayments = result.SkippedPayments
	return summary
}
