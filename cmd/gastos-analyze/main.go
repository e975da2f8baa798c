// Command gastos-analyze analyzes CEAP CSV exports and writes the result as
// JSON, without a database or server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gastos/internal/analyzer"
	"gastos/internal/cli"
	"gastos/internal/config"
	"gastos/internal/core"
	"gastos/internal/ingest"
	"gastos/internal/log"
)

var (
	output     = flag.String("o", "", "write the result to this file instead of stdout")
	pretty     = flag.Bool("pretty", true, "indent the JSON output")
	chunkSize  = flag.Int("chunk", 0, "records per analysis chunk (default ANALYSIS_CHUNK_SIZE)")
	year       = flag.Int("ano", 0, "only records of this year")
	month      = flag.Int("mes", 0, "only records of this month")
	state      = flag.String("uf", "", "only records of this state")
	party      = flag.String("partido", "", "only records of this party")
	legislator = flag.String("deputado", "", "only records of this legislator")
	alertsOnly = flag.Bool("alertas", false, "write only the alerts")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file.csv [file.csv ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cli.LoadEnvFile()
	cfg := config.Load()
	// Logs go to stderr so stdout carries only the JSON result.
	logCfg := log.DefaultConfig()
	logCfg.Level = log.ParseLevel(cfg.LogLevel)
	logCfg.Format = cfg.LogFormat
	logCfg.Output = os.Stderr
	logger := log.New(logCfg).WithComponent(log.ComponentAnalyzer)

	if err := cfg.Analyzer.Validate(); err != nil {
		logger.Error("Invalid analyzer configuration", log.FieldError, err)
		os.Exit(1)
	}
	if *chunkSize <= 0 {
		*chunkSize = cfg.AnalysisChunkSize
	}
	q := core.RecordQuery{Year: *year, Month: *month, State: *state, Party: *party, Legislator: strings.TrimSpace(*legislator)}
	if err := q.Validate(); err != nil {
		logger.Error("Invalid filter", log.FieldError, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg.Analyzer, q, flag.Args(), logger); err != nil {
		logger.Error("Analysis failed", log.FieldError, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, acfg analyzer.Config, q core.RecordQuery, paths []string, logger *log.Logger) error {
	records := make([]core.ExpenseRecord, 0)
	for _, path := range paths {
		recs, report, err := readFile(path)
		if err != nil {
			return err
		}
		logger.Info("Parsed CSV file", "file", path,
			log.FieldRecords, report.Accepted,
			"skipped", report.Skipped,
			"coerced", report.Coerced)
		for _, r := range recs {
			if q.Matches(r) {
				records = append(records, r)
			}
		}
	}

	a, err := analyzer.New(acfg)
	if err != nil {
		return err
	}
	res, err := a.AnalyzeChunked(ctx, records, *chunkSize)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	counts := res.CountBySeverity()
	logger.Info("Analysis completed",
		log.FieldRecords, len(records),
		log.FieldAlerts, len(res.Alerts),
		log.FieldHighAlerts, counts[analyzer.SeverityHigh],
		log.FieldLegislators, len(res.Legislators),
		log.FieldSuppliers, len(res.Suppliers))

	var out io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	var v any = res
	if *alertsOnly {
		v = res.Alerts
	}
	enc := json.NewEncoder(out)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func readFile(path string) ([]core.ExpenseRecord, ingest.ParseReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ingest.ParseReport{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	recs, report, err := ingest.ParseCSV(f)
	if err != nil {
		return nil, report, fmt.Errorf("parse %s: %w", path, err)
	}
	return recs, report, nil
}
