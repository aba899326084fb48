package journal

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/p2parb/internal/core"
	"github.com/newthinker/p2parb/internal/metrics"
	"github.com/spf13/cast"
)

// TransactionColumns is the fixed transaction journal header.
var TransactionColumns = []string{
	"Date", "Rotation_ID", "Type", "Market", "Currency", "Amount_USDT",
	"Price_Local", "Amount_Local", "Fee_Pct", "Payment_Method",
	"Counterparty_ID", "Notes",
}

// DateLayout is how transaction dates are written.
const DateLayout = "2006-01-02 15:04"

var dateLayouts = []string{
	DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
}

// Entry is one transaction journal row. Amounts are in bridge units
// (AmountUSDT) and in the row's currency (AmountLocal).
type Entry struct {
	Date           time.Time
	RotationID     string
	Type           core.TransactionType
	Market         string
	Currency       string
	AmountUSDT     float64
	PriceLocal     float64
	AmountLocal    float64
	FeePct         float64
	PaymentMethod  string
	CounterpartyID string
	Notes          string
}

func (e Entry) record() []string {
	return []string{
		e.Date.Format(DateLayout),
		e.RotationID,
		string(e.Type),
		e.Market,
		e.Currency,
		formatNumber(e.AmountUSDT),
		formatNumber(e.PriceLocal),
		formatNumber(e.AmountLocal),
		formatNumber(e.FeePct),
		orNA(e.PaymentMethod),
		orNA(e.CounterpartyID),
		orNA(e.Notes),
	}
}

func entryFromRecord(row map[string]string) Entry {
	return Entry{
		Date:           parseDate(row["Date"]),
		RotationID:     row["Rotation_ID"],
		Type:           core.TransactionType(strings.ToUpper(row["Type"])),
		Market:         row["Market"],
		Currency:       strings.ToUpper(row["Currency"]),
		AmountUSDT:     parseAmount(row["Amount_USDT"]),
		PriceLocal:     parseAmount(row["Price_Local"]),
		AmountLocal:    parseAmount(row["Amount_Local"]),
		FeePct:         parseNumber(row["Fee_Pct"]),
		PaymentMethod:  row["Payment_Method"],
		CounterpartyID: row["Counterparty_ID"],
		Notes:          row["Notes"],
	}
}

func formatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// parseNumber reads a number written with either decimal separator.
// Anything unparsable is 0.
func parseNumber(s string) float64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" || strings.EqualFold(s, NotAvailable) {
		return 0
	}
	v, err := cast.ToFloat64E(s)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// parseAmount is parseNumber with negatives clamped to 0.
func parseAmount(s string) float64 {
	return math.Max(parseNumber(s), 0)
}

func parseDate(s string) time.Time {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(s), time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	RotationID string
	Type       core.TransactionType
	From       time.Time
	To         time.Time
	Limit      int
}

func (f Filter) match(e Entry) bool {
	if f.RotationID != "" && e.RotationID != f.RotationID {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && e.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Date.After(f.To) {
		return false
	}
	return true
}

// TransactionLog is the append-only transaction journal.
type TransactionLog struct {
	file    *csvFile
	metrics *metrics.Registry
}

// NewTransactionLog opens the journal at path. The file is created on the
// first append.
func NewTransactionLog(path string, reg *metrics.Registry, opts ...Option) *TransactionLog {
	return &TransactionLog{
		file:    newCSVFile(path, TransactionColumns, opts),
		metrics: reg,
	}
}

// Path returns the journal file location.
func (l *TransactionLog) Path() string { return l.file.path }

// Append writes one entry. Empty text columns are written as N/A.
func (l *TransactionLog) Append(e Entry) error {
	if strings.TrimSpace(e.RotationID) == "" {
		return core.Errorf(core.ErrInvalidInput, "entry without rotation id")
	}
	if !e.Type.IsValid() {
		return core.Errorf(core.ErrInvalidInput, "unknown transaction type %q", e.Type)
	}
	if err := l.file.appendRow(e.record()); err != nil {
		return err
	}
	l.metrics.RecordJournalRow(string(e.Type))
	return nil
}

// Entries returns every row in file order. A missing file is empty.
func (l *TransactionLog) Entries() ([]Entry, error) {
	rows, err := l.file.records()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, entryFromRecord(row))
	}
	return entries, nil
}

// List returns the rows matching f, most recent last.
func (l *TransactionLog) List(f Filter) ([]Entry, error) {
	all, err := l.Entries()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if f.match(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// RotationEntries returns the rows of one rotation.
func (l *TransactionLog) RotationEntries(id string) ([]Entry, error) {
	return l.List(Filter{RotationID: id})
}

// Last returns the final row of the journal.
func (l *TransactionLog) Last() (Entry, bool, error) {
	all, err := l.Entries()
	if err != nil || len(all) == 0 {
		return Entry{}, false, err
	}
	return all[len(all)-1], true, nil
}

// LastRotationID returns the rotation id of the final row, or "" for an
// empty journal.
func (l *TransactionLog) LastRotationID() (string, error) {
	last, ok, err := l.Last()
	if err != nil || !ok {
		return "", err
	}
	return last.RotationID, nil
}

// RotationIDs returns the distinct rotation ids in sorted order, skipping
// empty and N/A ids.
func RotationIDs(entries []Entry) []string {
	seen := make(map[string]bool)
	for _, e := range entries {
		id := strings.TrimSpace(e.RotationID)
		if id == "" || id == NotAvailable {
			continue
		}
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EncodeEntries renders entries as a complete journal file.
func EncodeEntries(entries []Entry) ([]byte, error) {
	rows := make([][]string, len(entries))
	for i, e := range entries {
		rows[i] = e.record()
	}
	return encode(TransactionColumns, rows)
}
