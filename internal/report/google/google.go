// Package google writes analysis reports to a Google Sheets spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"gastos/internal/analyzer"
	"gastos/internal/log"
	"gastos/internal/report"
)

var _ report.ReportWriter = (*Exporter)(nil)

type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	logger        *log.Logger
}

type Config struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
	Logger          *log.Logger
}

// New builds an exporter authenticated with service account credentials,
// taken inline or from a file.
func New(ctx context.Context, cfg Config) (*Exporter, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		credentialsJSON = []byte(cfg.CredentialsJSON)
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, cfg.SpreadsheetID, cfg.Logger), nil
}

func NewWithService(svc *gsheet.Service, spreadsheetID string, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Exporter{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		logger:        logger.WithComponent(log.ComponentReport),
	}
}

// WriteReport replaces the contents of the three report tabs, creating the
// ones that do not exist yet.
func (e *Exporter) WriteReport(ctx context.Context, name string, result *analyzer.AnalysisResult) (string, error) {
	if result == nil {
		return "", errors.New("write report: nil result")
	}
	if e.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	tables := report.Tables(name, result)
	titles := make([]string, len(tables))
	for i, t := range tables {
		titles[i] = t.Title
	}
	if err := e.ensureSheets(ctx, titles); err != nil {
		return "", err
	}

	for _, t := range tables {
		rng := quoteTitle(t.Title)
		if _, err := e.svc.Spreadsheets.Values.Clear(e.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
			Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("clear sheet %s: %w", t.Title, err)
		}
		vr := &gsheet.ValueRange{Values: t.Rows}
		if _, err := e.svc.Spreadsheets.Values.Update(e.spreadsheetID, rng+"!A1", vr).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("write sheet %s: %w", t.Title, err)
		}
	}

	ref := fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s", e.spreadsheetID)
	e.logger.InfoContext(ctx, "Report exported",
		log.FieldReportRef, ref,
		log.FieldAlerts, len(result.Alerts),
		"tabs", titles)
	return ref, nil
}

func (e *Exporter) ensureSheets(ctx context.Context, titles []string) error {
	ss, err := e.svc.Spreadsheets.Get(e.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	existing := make(map[string]bool, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			existing[s.Properties.Title] = true
		}
	}

	missing := missingSheetRequests(existing, titles)
	if len(missing) == 0 {
		return nil
	}
	if _, err := e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: missing,
	}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheets: %w", err)
	}
	return nil
}

func missingSheetRequests(existing map[string]bool, titles []string) []*gsheet.Request {
	var reqs []*gsheet.Request
	for _, t := range titles {
		if existing[t] {
			continue
		}
		reqs = append(reqs, &gsheet.Request{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: t}},
		})
	}
	return reqs
}

// quoteTitle wraps a sheet title for A1 notation.
func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
