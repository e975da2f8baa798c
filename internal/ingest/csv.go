// Package ingest parses CEAP expense exports into core.ExpenseRecord values.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"gastos/internal/core"
)

var ErrMissingColumn = errors.New("missing required column")

// ParseReport describes what happened to the rows of one file.
type ParseReport struct {
	Rows      int    `json:"linhas"`
	Accepted  int    `json:"aceitas"`
	Skipped   int    `json:"ignoradas"`
	Coerced   int    `json:"valoresCorrigidos"`
	Delimiter string `json:"delimitador"`
	Latin1    bool   `json:"latin1"`
}

type field int

const (
	fLegislatorName field = iota
	fLegislatorID
	fState
	fParty
	fCategory
	fSupplierName
	fSupplierTaxID
	fDocumentNumber
	fIssueDate
	fGrossAmount
	fWithheldAmount
	fNetAmount
	fMonth
	fYear
	fDocumentURL
	fieldCount
)

// columnAliases maps lower-cased header names to fields. The first name of each
// group is the Câmara open-data column.
var columnAliases = map[string]field{
	"txnomeparlamentar": fLegislatorName, "nome_parlamentar": fLegislatorName, "deputado": fLegislatorName, "nome": fLegislatorName,
	"idecadastro": fLegislatorID, "id_deputado": fLegislatorID, "nudeputadoid": fLegislatorID,
	"sguf": fState, "uf": fState,
	"sgpartido": fParty, "partido": fParty,
	"txtdescricao": fCategory, "descricao": fCategory, "categoria": fCategory, "tipodespesa": fCategory,
	"txtfornecedor": fSupplierName, "fornecedor": fSupplierName, "nomefornecedor": fSupplierName,
	"txtcnpjcpf": fSupplierTaxID, "cnpj_cpf": fSupplierTaxID, "cnpj": fSupplierTaxID, "cnpjcpffornecedor": fSupplierTaxID,
	"txtnumero": fDocumentNumber, "numero_documento": fDocumentNumber, "numdocumento": fDocumentNumber,
	"datemissao": fIssueDate, "data_emissao": fIssueDate, "datadocumento": fIssueDate,
	"vlrdocumento": fGrossAmount, "valor_documento": fGrossAmount, "valordocumento": fGrossAmount,
	"vlrglosa": fWithheldAmount, "valor_glosa": fWithheldAmount, "valorglosa": fWithheldAmount,
	"vlrliquido": fNetAmount, "valor_liquido": fNetAmount, "valorliquido": fNetAmount,
	"nummes": fMonth, "mes": fMonth,
	"numano": fYear, "ano": fYear,
	"urldocumento": fDocumentURL, "url_documento": fDocumentURL,
}

var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// ParseCSV reads a CEAP export. The delimiter (";" or ",") is taken from the
// header line, a UTF-8 BOM is stripped and Latin-1 input is transcoded.
// Rows whose field count differs from the header are skipped; malformed
// amounts become zero.
func ParseCSV(r io.Reader) ([]core.ExpenseRecord, ParseReport, error) {
	var report ParseReport

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, report, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return nil, report, fmt.Errorf("decode latin-1 csv: %w", err)
		}
		data = decoded
		report.Latin1 = true
	}

	delim := detectDelimiter(data)
	report.Delimiter = string(delim)

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, report, fmt.Errorf("%w: empty file", ErrMissingColumn)
	}
	if err != nil {
		return nil, report, fmt.Errorf("read csv header: %w", err)
	}

	index, width := mapColumns(header)
	for _, required := range []struct {
		f    field
		name string
	}{{fLegislatorName, "txNomeParlamentar"}, {fNetAmount, "vlrLiquido"}} {
		if index[required.f] < 0 {
			return nil, report, fmt.Errorf("%w: %s", ErrMissingColumn, required.name)
		}
	}

	records := make([]core.ExpenseRecord, 0, 1024)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				report.Rows++
				report.Skipped++
				continue
			}
			return nil, report, fmt.Errorf("read csv row: %w", err)
		}
		report.Rows++
		if len(row) != width {
			if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
				report.Rows--
				continue
			}
			report.Skipped++
			continue
		}

		rec, coerced := buildRecord(row, index)
		report.Coerced += coerced
		records = append(records, rec)
		report.Accepted++
	}
	return records, report, nil
}

func detectDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte(";")) >= bytes.Count(line, []byte(",")) && bytes.Contains(line, []byte(";")) {
		return ';'
	}
	return ','
}

func mapColumns(header []string) ([fieldCount]int, int) {
	var index [fieldCount]int
	for i := range index {
		index[i] = -1
	}
	for i, h := range header {
		key := strings.ToLower(strings.Trim(strings.TrimSpace(h), `"`))
		if f, ok := columnAliases[key]; ok && index[f] < 0 {
			index[f] = i
		}
	}
	return index, len(header)
}

func buildRecord(row []string, index [fieldCount]int) (core.ExpenseRecord, int) {
	get := func(f field) string {
		if index[f] < 0 {
			return ""
		}
		return strings.TrimSpace(row[index[f]])
	}
	coerced := 0
	amount := func(f field) float64 {
		s := get(f)
		if s == "" {
			return 0
		}
		v, err := core.ParseAmount(s)
		if err != nil {
			coerced++
			return 0
		}
		return v
	}

	rec := core.ExpenseRecord{
		LegislatorName: get(fLegislatorName),
		LegislatorID:   get(fLegislatorID),
		State:          get(fState),
		Party:          get(fParty),
		Category:       get(fCategory),
		SupplierName:   get(fSupplierName),
		SupplierTaxID:  core.NormalizeTaxID(get(fSupplierTaxID)),
		DocumentNumber: get(fDocumentNumber),
		IssueDate:      parseDate(get(fIssueDate)),
		GrossAmount:    amount(fGrossAmount),
		WithheldAmount: amount(fWithheldAmount),
		NetAmount:      amount(fNetAmount),
		Month:          parseInt(get(fMonth)),
		Year:           parseInt(get(fYear)),
		DocumentURL:    get(fDocumentURL),
	}
	return rec, coerced
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
