package analyzer

import (
	"sort"
	"strings"

	"gastos/internal/core"
)

// otherCategory buckets records without a category label.
const otherCategory = "Outros"

// noTaxIDKey is the display key of the supplier bucket for records without a
// tax id. Its profile keeps an empty cnpj.
const noTaxIDKey = "(sem CNPJ)"

// accumulator holds the grouping maps for one analysis run. Every field merges
// by key-wise sum or set union, so merging chunk accumulators in any order
// yields the same state as a single pass.
type accumulator struct {
	records    int
	total      int64
	categories map[string]*categoryAcc

	legislators map[string]*legislatorAcc
	fuel        map[string]*fuelAcc
	fuelAlerts  []fuelPurchase
	months      map[monthKey]*monthAcc
	suppliers   map[string]*supplierAcc
	noTaxID     *supplierAcc
	days        map[dayKey]*dayAcc
	amounts     map[int64]*amountAcc

	topTransactions int
}

type categoryAcc struct {
	cents int64
	count int
}

type legislatorAcc struct {
	cents      int64
	count      int
	parties    counter
	states     counter
	categories map[string]*categoryAcc
}

type fuelAcc struct {
	cents     int64
	count     int
	suppliers set
}

// fuelPurchase is a fuel record above the single purchase threshold.
type fuelPurchase struct {
	legislator string
	supplier   string
	taxID      string
	date       string
	category   string
	document   string
	cents      int64
}

type monthKey struct {
	legislator  string
	year, month int
}

type monthAcc struct {
	cents int64
	count int
	top   []transaction
}

type transaction struct {
	supplier string
	category string
	document string
	date     string
	cents    int64
}

type supplierAcc struct {
	cents       int64
	count       int
	names       counter
	legislators set
	categories  set
}

type dayKey struct {
	legislator string
	date       string
}

type dayAcc struct {
	cents      int64
	count      int
	suppliers  set
	categories set
}

type amountAcc struct {
	count       int
	legislators set
	taxIDs      set
	categories  set
}

type set map[string]struct{}

func (s set) add(v string) { s[v] = struct{}{} }

func (s set) merge(o set) {
	for k := range o {
		s[k] = struct{}{}
	}
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// counter tracks value frequencies to pick an order-independent display value.
type counter map[string]int

func (c counter) add(v string) {
	if v != "" {
		c[v]++
	}
}

func (c counter) merge(o counter) {
	for k, n := range o {
		c[k] += n
	}
}

// mode returns the most frequent value, ties resolved by the smallest string.
func (c counter) mode() string {
	best, bestN := "", 0
	for k, n := range c {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}

func newAccumulator(topTransactions int) *accumulator {
	return &accumulator{
		categories:      map[string]*categoryAcc{},
		legislators:     map[string]*legislatorAcc{},
		fuel:            map[string]*fuelAcc{},
		months:          map[monthKey]*monthAcc{},
		suppliers:       map[string]*supplierAcc{},
		days:            map[dayKey]*dayAcc{},
		amounts:         map[int64]*amountAcc{},
		topTransactions: topTransactions,
	}
}

// add folds one accepted record into the accumulator. Amounts are quantized
// to cents per record, so sums are sums of rounded amounts.
func (acc *accumulator) add(r core.ExpenseRecord, name string, th thresholds) {
	cents := core.MoneyFromFloat(r.NetAmount).Cents
	category := strings.TrimSpace(r.Category)
	if category == "" {
		category = otherCategory
	}
	taxID := strings.TrimSpace(r.SupplierTaxID)
	supplierName := strings.TrimSpace(r.SupplierName)
	date := ""
	if !r.IssueDate.IsZero() {
		date = r.IssueDate.Format("2006-01-02")
	}

	acc.records++
	acc.total += cents
	addCategory(acc.categories, category, cents, 1)

	leg := acc.legislators[name]
	if leg == nil {
		leg = &legislatorAcc{parties: counter{}, states: counter{}, categories: map[string]*categoryAcc{}}
		acc.legislators[name] = leg
	}
	leg.cents += cents
	leg.count++
	leg.parties.add(strings.TrimSpace(r.Party))
	leg.states.add(strings.TrimSpace(r.State))
	addCategory(leg.categories, category, cents, 1)

	if th.isFuel(category) {
		f := acc.fuel[name]
		if f == nil {
			f = &fuelAcc{suppliers: set{}}
			acc.fuel[name] = f
		}
		f.cents += cents
		f.count++
		if taxID != "" {
			f.suppliers.add(taxID)
		}
		if cents > th.fuelSuspicious {
			acc.fuelAlerts = append(acc.fuelAlerts, fuelPurchase{
				legislator: name,
				supplier:   supplierName,
				taxID:      taxID,
				date:       date,
				category:   category,
				document:   strings.TrimSpace(r.DocumentNumber),
				cents:      cents,
			})
		}
	}

	year, month := r.ReferenceMonth()
	mk := monthKey{legislator: name, year: year, month: month}
	m := acc.months[mk]
	if m == nil {
		m = &monthAcc{}
		acc.months[mk] = m
	}
	m.cents += cents
	m.count++
	m.top = append(m.top, transaction{
		supplier: supplierName,
		category: category,
		document: strings.TrimSpace(r.DocumentNumber),
		date:     date,
		cents:    cents,
	})
	if len(m.top) > 4*acc.topTransactions {
		m.top = topN(m.top, acc.topTransactions)
	}

	s := acc.noTaxID
	if taxID != "" {
		s = acc.suppliers[taxID]
	}
	if s == nil {
		s = &supplierAcc{names: counter{}, legislators: set{}, categories: set{}}
		if taxID != "" {
			acc.suppliers[taxID] = s
		} else {
			acc.noTaxID = s
		}
	}
	s.cents += cents
	s.count++
	s.names.add(supplierName)
	s.legislators.add(name)
	s.categories.add(category)

	if date != "" {
		dk := dayKey{legislator: name, date: date}
		d := acc.days[dk]
		if d == nil {
			d = &dayAcc{suppliers: set{}, categories: set{}}
			acc.days[dk] = d
		}
		d.cents += cents
		d.count++
		d.suppliers.add(supplierLabel(supplierName, taxID))
		d.categories.add(category)
	}

	if cents >= th.repeatedMinValue {
		a := acc.amounts[cents]
		if a == nil {
			a = &amountAcc{legislators: set{}, taxIDs: set{}, categories: set{}}
			acc.amounts[cents] = a
		}
		a.count++
		a.legislators.add(name)
		// records without a tax id count as one synthetic supplier
		a.taxIDs.add(taxID)
		a.categories.add(category)
	}
}

// merge folds o into acc. o must not be used afterwards.
func (acc *accumulator) merge(o *accumulator) {
	acc.records += o.records
	acc.total += o.total
	for k, c := range o.categories {
		addCategory(acc.categories, k, c.cents, c.count)
	}

	for name, ol := range o.legislators {
		l := acc.legislators[name]
		if l == nil {
			acc.legislators[name] = ol
			continue
		}
		l.cents += ol.cents
		l.count += ol.count
		l.parties.merge(ol.parties)
		l.states.merge(ol.states)
		for k, c := range ol.categories {
			addCategory(l.categories, k, c.cents, c.count)
		}
	}

	for name, of := range o.fuel {
		f := acc.fuel[name]
		if f == nil {
			acc.fuel[name] = of
			continue
		}
		f.cents += of.cents
		f.count += of.count
		f.suppliers.merge(of.suppliers)
	}
	acc.fuelAlerts = append(acc.fuelAlerts, o.fuelAlerts...)

	for k, om := range o.months {
		m := acc.months[k]
		if m == nil {
			acc.months[k] = om
			continue
		}
		m.cents += om.cents
		m.count += om.count
		m.top = topN(append(m.top, om.top...), acc.topTransactions)
	}

	for k, os := range o.suppliers {
		s := acc.suppliers[k]
		if s == nil {
			acc.suppliers[k] = os
			continue
		}
		s.mergeFrom(os)
	}
	if o.noTaxID != nil {
		if acc.noTaxID == nil {
			acc.noTaxID = o.noTaxID
		} else {
			acc.noTaxID.mergeFrom(o.noTaxID)
		}
	}

	for k, od := range o.days {
		d := acc.days[k]
		if d == nil {
			acc.days[k] = od
			continue
		}
		d.cents += od.cents
		d.count += od.count
		d.suppliers.merge(od.suppliers)
		d.categories.merge(od.categories)
	}

	for k, oa := range o.amounts {
		a := acc.amounts[k]
		if a == nil {
			acc.amounts[k] = oa
			continue
		}
		a.count += oa.count
		a.legislators.merge(oa.legislators)
		a.taxIDs.merge(oa.taxIDs)
		a.categories.merge(oa.categories)
	}
}

func (s *supplierAcc) mergeFrom(o *supplierAcc) {
	s.cents += o.cents
	s.count += o.count
	s.names.merge(o.names)
	s.legislators.merge(o.legislators)
	s.categories.merge(o.categories)
}

func addCategory(m map[string]*categoryAcc, key string, cents int64, count int) {
	c := m[key]
	if c == nil {
		c = &categoryAcc{}
		m[key] = c
	}
	c.cents += cents
	c.count += count
}

// topN sorts transactions by descending value with a total tie order and keeps n.
func topN(txs []transaction, n int) []transaction {
	sort.Slice(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if a.cents != b.cents {
			return a.cents > b.cents
		}
		if a.supplier != b.supplier {
			return a.supplier < b.supplier
		}
		if a.category != b.category {
			return a.category < b.category
		}
		if a.document != b.document {
			return a.document < b.document
		}
		return a.date < b.date
	})
	if len(txs) > n {
		txs = txs[:n]
	}
	return txs
}

func supplierLabel(name, taxID string) string {
	if name != "" {
		return name
	}
	if taxID != "" {
		return taxID
	}
	return noTaxIDKey
}
