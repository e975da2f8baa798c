// Package camara reads CEAP expenses from the Câmara dos Deputados open-data
// REST API (https://dadosabertos.camara.leg.br/api/v2).
package camara

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/sources"
)

const (
	DefaultBaseURL     = "https://dadosabertos.camara.leg.br/api/v2"
	defaultPageSize    = 100
	defaultConcurrency = 4
	maxAttempts        = 3
)

var _ sources.RecordSource = (*Client)(nil)

var ErrUnexpectedStatus = errors.New("unexpected status from camara api")

type Client struct {
	baseURL     string
	http        *http.Client
	concurrency int
	pageSize    int
	backoff     time.Duration
	logger      *log.Logger
}

type Config struct {
	BaseURL     string
	Concurrency int
	PageSize    int
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *log.Logger
}

func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		http:        cfg.HTTPClient,
		concurrency: cfg.Concurrency,
		pageSize:    cfg.PageSize,
		backoff:     500 * time.Millisecond,
		logger:      cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		c.http = &http.Client{Timeout: timeout}
	}
	if c.concurrency <= 0 {
		c.concurrency = defaultConcurrency
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	if c.logger == nil {
		c.logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentCamara)
	}
	return c
}

// API payloads.
type (
	page[T any] struct {
		Data  []T    `json:"dados"`
		Links []link `json:"links"`
	}

	link struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	}

	Legislator struct {
		ID    int    `json:"id"`
		Name  string `json:"nome"`
		Party string `json:"siglaPartido"`
		State string `json:"siglaUf"`
	}

	expense struct {
		Year           int     `json:"ano"`
		Month          int     `json:"mes"`
		Category       string  `json:"tipoDespesa"`
		DocumentDate   string  `json:"dataDocumento"`
		DocumentNumber string  `json:"numDocumento"`
		DocumentValue  float64 `json:"valorDocumento"`
		DocumentURL    string  `json:"urlDocumento"`
		SupplierName   string  `json:"nomeFornecedor"`
		SupplierTaxID  string  `json:"cnpjCpfFornecedor"`
		NetValue       float64 `json:"valorLiquido"`
		WithheldValue  float64 `json:"valorGlosa"`
	}
)

// FetchRecords lists the legislators matching the query and downloads their
// expenses concurrently. Records are returned grouped by legislator in the
// order the API lists them. The dataset id is ignored.
func (c *Client) FetchRecords(ctx context.Context, q core.RecordQuery) ([]core.ExpenseRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	legislators, err := c.ListLegislators(ctx, q.State, q.Party, q.Legislator)
	if err != nil {
		return nil, err
	}

	results := make([][]core.ExpenseRecord, len(legislators))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, leg := range legislators {
		g.Go(func() error {
			recs, err := c.fetchExpenses(gctx, leg, q.Year, q.Month)
			if err != nil {
				return fmt.Errorf("fetch expenses of %d: %w", leg.ID, err)
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var total int
	for _, r := range results {
		total += len(r)
	}
	out := make([]core.ExpenseRecord, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}

	c.logger.InfoContext(ctx, "Fetched expenses from camara api",
		log.FieldLegislators, len(legislators),
		log.FieldRecords, len(out),
		log.FieldYear, q.Year,
		log.FieldMonth, q.Month)
	return out, nil
}

// ListLegislators returns legislators filtered by state, party and name.
func (c *Client) ListLegislators(ctx context.Context, state, party, name string) ([]Legislator, error) {
	params := url.Values{}
	params.Set("itens", strconv.Itoa(c.pageSize))
	params.Set("ordem", "ASC")
	params.Set("ordenarPor", "nome")
	if state != "" {
		params.Set("siglaUf", strings.ToUpper(state))
	}
	if party != "" {
		params.Set("siglaPartido", strings.ToUpper(party))
	}
	if name != "" {
		params.Set("nome", name)
	}
	return collect[Legislator](ctx, c, c.baseURL+"/deputados?"+params.Encode())
}

func (c *Client) fetchExpenses(ctx context.Context, leg Legislator, year, month int) ([]core.ExpenseRecord, error) {
	params := url.Values{}
	params.Set("itens", strconv.Itoa(c.pageSize))
	if year != 0 {
		params.Set("ano", strconv.Itoa(year))
	}
	if month != 0 {
		params.Set("mes", strconv.Itoa(month))
	}
	endpoint := fmt.Sprintf("%s/deputados/%d/despesas?%s", c.baseURL, leg.ID, params.Encode())

	items, err := collect[expense](ctx, c, endpoint)
	if err != nil {
		return nil, err
	}
	out := make([]core.ExpenseRecord, 0, len(items))
	for _, e := range items {
		out = append(out, e.toRecord(leg))
	}
	return out, nil
}

// collect follows "next" links until the last page.
func collect[T any](ctx context.Context, c *Client, endpoint string) ([]T, error) {
	var out []T
	seen := map[string]bool{}
	for endpoint != "" && !seen[endpoint] {
		seen[endpoint] = true
		var p page[T]
		if err := c.getJSON(ctx, endpoint, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Data...)
		endpoint = ""
		for _, l := range p.Links {
			if l.Rel == "next" {
				endpoint = l.Href
			}
		}
	}
	return out, nil
}

// getJSON retries throttling and server errors with a doubling delay.
func (c *Client) getJSON(ctx context.Context, endpoint string, v any) error {
	delay := c.backoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retry, err := c.doGet(ctx, endpoint, v)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || attempt == maxAttempts {
			break
		}
		c.logger.WarnContext(ctx, "Retrying camara api request",
			"attempt", attempt, "delay", delay, log.FieldError, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return lastErr
}

func (c *Client) doGet(ctx context.Context, endpoint string, v any) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("get %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retry = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return retry, fmt.Errorf("%w: %d for %s", ErrUnexpectedStatus, resp.StatusCode, endpoint)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return false, nil
}

func (e expense) toRecord(leg Legislator) core.ExpenseRecord {
	var issued time.Time
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, e.DocumentDate); err == nil {
			issued = t
			break
		}
	}
	return core.ExpenseRecord{
		LegislatorName: leg.Name,
		LegislatorID:   strconv.Itoa(leg.ID),
		State:          leg.State,
		Party:          leg.Party,
		Category:       e.Category,
		SupplierName:   e.SupplierName,
		SupplierTaxID:  core.NormalizeTaxID(e.SupplierTaxID),
		DocumentNumber: e.DocumentNumber,
		IssueDate:      issued,
		GrossAmount:    e.DocumentValue,
		WithheldAmount: e.WithheldValue,
		NetAmount:      e.NetValue,
		Month:          e.Month,
		Year:           e.Year,
		DocumentURL:    e.DocumentURL,
	}
}
