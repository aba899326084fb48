// Package journal keeps the operator's ';'-separated CSV journals: the
// transaction log and the debriefing log.
package journal

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/newthinker/p2parb/internal/core"
	"go.uber.org/zap"
)

const (
	// Separator is the field delimiter of every journal file.
	Separator = ';'

	defaultAttempts = 3
	defaultDelay    = 100 * time.Millisecond

	// NotAvailable fills text columns left empty by the caller.
	NotAvailable = "N/A"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Option configures a journal.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	attempts int
	delay    time.Duration
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRetry sets how many times an append is attempted and the pause
// between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.attempts = attempts
		}
		o.delay = delay
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger:   zap.NewNop(),
		attempts: defaultAttempts,
		delay:    defaultDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// csvFile is a header-first CSV file that is only ever appended to.
type csvFile struct {
	mu     sync.Mutex
	path   string
	header []string
	opts   options
}

func newCSVFile(path string, header []string, opts []Option) *csvFile {
	return &csvFile{path: path, header: header, opts: buildOptions(opts)}
}

// appendRow writes one record, retrying on failure. Before each attempt the
// file is backed up; a failed attempt restores it.
func (f *csvFile) appendRow(row []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= f.opts.attempts; attempt++ {
		if lastErr = f.tryAppend(row); lastErr == nil {
			return nil
		}
		f.opts.logger.Warn("journal append failed",
			zap.String("path", f.path),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt < f.opts.attempts && f.opts.delay > 0 {
			time.Sleep(f.opts.delay * time.Duration(attempt))
		}
	}
	return core.Errorf(core.ErrJournalFailed, "%s after %d attempts: %v", f.path, f.opts.attempts, lastErr)
}

func (f *csvFile) tryAppend(row []string) (err error) {
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}

	existing, err := os.ReadFile(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading journal: %w", err)
	}
	hadFile := err == nil

	backup := f.path + ".backup"
	if hadFile {
		if err := os.WriteFile(backup, existing, 0644); err != nil {
			return fmt.Errorf("backing up journal: %w", err)
		}
		defer func() {
			if err != nil {
				if rerr := os.WriteFile(f.path, existing, 0644); rerr != nil {
					f.opts.logger.Error("journal restore failed", zap.String("path", f.path), zap.Error(rerr))
				}
			}
			os.Remove(backup)
		}()
	}

	var buf bytes.Buffer
	cleaned := trimTrailingBlank(existing)
	buf.Write(cleaned)
	if len(cleaned) > 0 && cleaned[len(cleaned)-1] != '\n' {
		buf.WriteByte('\n')
	}

	w := csv.NewWriter(&buf)
	w.Comma = Separator
	if len(bytes.TrimSpace(bytes.TrimPrefix(cleaned, utf8BOM))) == 0 {
		buf.Reset()
		if err := w.Write(f.header); err != nil {
			return err
		}
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	if err := os.WriteFile(f.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing journal: %w", err)
	}
	return nil
}

// trimTrailingBlank drops trailing lines that are empty or hold only
// separators and whitespace.
func trimTrailingBlank(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	end := len(lines)
	for end > 0 {
		line := bytes.TrimSpace(lines[end-1])
		line = bytes.Trim(line, string(Separator))
		if len(bytes.TrimSpace(line)) != 0 {
			break
		}
		end--
	}
	if end == 0 {
		return nil
	}
	out := bytes.Join(lines[:end], []byte("\n"))
	return append(out, '\n')
}

// records reads every data row as a column-name map. A missing or empty
// file yields no rows.
func (f *csvFile) records() ([]map[string]string, error) {
	f.mu.Lock()
	data, err := os.ReadFile(f.path)
	f.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, core.WrapError(core.ErrJournalFailed, err)
	}
	return decodeRecords(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
}

func decodeRecords(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = Separator
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, core.WrapError(core.ErrJournalFailed, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var out []map[string]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, core.WrapError(core.ErrJournalFailed, err)
		}
		if blankRecord(rec) {
			continue
		}
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[name] = strings.TrimSpace(rec[i])
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// encode renders a header and rows as journal CSV.
func encode(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = Separator
	if err := w.Write(header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotAvailable
	}
	return s
}

// update rewrites every data row through fn and replaces the file
// atomically. It returns how many rows fn changed.
func (f *csvFile) update(fn func(row map[string]string) bool) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, core.WrapError(core.ErrJournalFailed, err)
	}
	rows, err := decodeRecords(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	if err != nil {
		return 0, err
	}

	changed := 0
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		if fn(row) {
			changed++
		}
		rec := make([]string, len(f.header))
		for i, name := range f.header {
			rec[i] = row[name]
		}
		records = append(records, rec)
	}
	if changed == 0 {
		return 0, nil
	}

	out, err := encode(f.header, records)
	if err != nil {
		return 0, core.WrapError(core.ErrJournalFailed, err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return 0, core.WrapError(core.ErrJournalFailed, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return 0, core.WrapError(core.ErrJournalFailed, err)
	}
	return changed, nil
}
