// The replay binary runs recorded signal snapshots through the current
// validator chain and reports where today's chain disagrees with what was
// recorded. It performs no live fetches and never touches a running engine.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/marketvigil/vigil/internal/replay"
	"github.com/marketvigil/vigil/internal/snapshot"
)

func main() {
	os.Exit(run())
}

func run() int {
	input := flag.String("input", "", "path to a JSONL file of recorded snapshots")
	balance := flag.Float64("balance", 10000, "account balance in USD")
	baseRisk := flag.Float64("base-risk", 2.0, "base risk percent per signal")
	budget := flag.Float64("budget", 1000, "risk budget in USD")
	asJSON := flag.Bool("json", false, "emit the report as JSON instead of text")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *input == "" {
		fmt.Fprintln(os.Stderr, "replay: -input is required")
		return 2
	}

	records, err := loadRecords(*input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		return 1
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stderr, "replay: no records in input")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := replay.NewEngine(log.Logger, replay.Config{
		BalanceUSD:        *balance,
		InitialBalanceUSD: *balance,
		BaseRiskPct:       *baseRisk,
		RiskBudgetUSD:     *budget,
	})
	report := engine.Run(ctx, records)

	if *asJSON {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "replay: %v\n", err)
			return 1
		}
		fmt.Println(string(out))
		return 0
	}
	fmt.Print(report.Render())
	return 0
}

// loadRecords reads one snapshot record per line. Blank lines are skipped;
// a malformed line is an error, not a silent drop, so a truncated export is
// caught before it skews the report.
func loadRecords(path string) ([]snapshot.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []snapshot.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec snapshot.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
