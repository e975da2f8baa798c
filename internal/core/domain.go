package core

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

type (
	// ExpenseRecord is one reimbursement document of the parliamentary quota.
	// Field comments name the column in the Câmara open-data files.
	ExpenseRecord struct {
		LegislatorName string    // txNomeParlamentar
		LegislatorID   string    // ideCadastro
		State          string    // sgUF
		Party          string    // sgPartido
		Category       string    // txtDescricao
		SupplierName   string    // txtFornecedor
		SupplierTaxID  string    // txtCNPJCPF
		DocumentNumber string    // txtNumero
		IssueDate      time.Time // datEmissao, zero when unknown
		GrossAmount    float64   // vlrDocumento
		WithheldAmount float64   // vlrGlosa
		NetAmount      float64   // vlrLiquido
		Month          int       // numMes
		Year           int       // numAno
		DocumentURL    string    // urlDocumento
	}

	Money struct {
		Cents int64
	}

	DatasetSource string

	// Dataset is one stored batch of records from a single import.
	Dataset struct {
		ID          string        `json:"id"`
		Name        string        `json:"nome"`
		Source      DatasetSource `json:"origem"`
		RecordCount int           `json:"numRegistros"`
		CreatedAt   time.Time     `json:"criadoEm"`
	}

	// RecordQuery narrows the records returned by a record source.
	// Zero values mean "no filter".
	RecordQuery struct {
		DatasetID  string
		Year       int
		Month      int
		State      string
		Party      string
		Legislator string
	}
)

const (
	SourceCSV    DatasetSource = "csv"
	SourceCamara DatasetSource = "camara"
	SourceAPI    DatasetSource = "api"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidMonth  = errors.New("invalid month")
	ErrInvalidYear   = errors.New("invalid year")
)

// MoneyFromFloat rounds a currency amount to whole cents. NaN and infinities
// become zero.
func MoneyFromFloat(v float64) Money {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Money{}
	}
	return Money{Cents: int64(math.Round(v * 100))}
}

// Float returns the amount in currency units.
func (m Money) Float() float64 {
	return float64(m.Cents) / 100.0
}

// ReferenceMonth returns the month/year the record is booked under, falling back
// to the issue date when the reference columns are empty.
func (r ExpenseRecord) ReferenceMonth() (year, month int) {
	year, month = r.Year, r.Month
	if month == 0 && !r.IssueDate.IsZero() {
		month = int(r.IssueDate.Month())
	}
	if year == 0 && !r.IssueDate.IsZero() {
		year = r.IssueDate.Year()
	}
	return year, month
}

// HasTaxID reports whether the record carries a supplier tax id.
func (r ExpenseRecord) HasTaxID() bool {
	return strings.TrimSpace(r.SupplierTaxID) != ""
}

func (q RecordQuery) Validate() error {
	if q.Month < 0 || q.Month > 12 {
		return ErrInvalidMonth
	}
	if q.Year < 0 || (q.Year > 0 && q.Year < 2000) || q.Year > 2100 {
		return ErrInvalidYear
	}
	return nil
}

// Matches reports whether a record satisfies the query filters other than the
// dataset id, which only storage-backed sources understand.
func (q RecordQuery) Matches(r ExpenseRecord) bool {
	year, month := r.ReferenceMonth()
	if q.Year != 0 && year != q.Year {
		return false
	}
	if q.Month != 0 && month != q.Month {
		return false
	}
	if q.State != "" && !strings.EqualFold(q.State, r.State) {
		return false
	}
	if q.Party != "" && !strings.EqualFold(q.Party, r.Party) {
		return false
	}
	if q.Legislator != "" && !strings.EqualFold(q.Legislator, strings.TrimSpace(r.LegislatorName)) {
		return false
	}
	return true
}

// CacheKey is a stable string form of the query.
func (q RecordQuery) CacheKey() string {
	var b strings.Builder
	b.WriteString("ds=")
	b.WriteString(q.DatasetID)
	b.WriteString("|y=")
	b.WriteString(itoa(q.Year))
	b.WriteString("|m=")
	b.WriteString(itoa(q.Month))
	b.WriteString("|uf=")
	b.WriteString(strings.ToUpper(q.State))
	b.WriteString("|p=")
	b.WriteString(strings.ToUpper(q.Party))
	b.WriteString("|d=")
	b.WriteString(strings.ToUpper(q.Legislator))
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}
