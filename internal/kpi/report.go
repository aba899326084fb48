package kpi

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/p2parb/internal/journal"
	"github.com/newthinker/p2parb/internal/metrics"
	"github.com/newthinker/p2parb/internal/storage/archive"
	"go.uber.org/zap"
)

var summaryColumns = []string{
	"Rotation_ID", "Date", "USDT_Invested", "EUR_Invested", "EUR_Final",
	"EUR_Profit", "Profit_Pct", "Nb_Transactions",
}

// Monthly is the kpis_monthly.json document.
type Monthly struct {
	Month       string            `json:"month"`
	Rotations   []RotationSummary `json:"rotations"`
	KPIs        KPIs              `json:"kpis"`
	LastUpdated time.Time         `json:"last_updated"`
}

// Metadata describes one daily report batch.
type Metadata struct {
	Timestamp       time.Time         `json:"timestamp"`
	NewRotations    int               `json:"new_rotations"`
	NewTransactions int               `json:"new_transactions"`
	SkippedExisting int               `json:"skipped_existing"`
	Files           map[string]string `json:"files"`
}

// SaveResult lists what a report run wrote.
type SaveResult struct {
	SummaryFile  string
	DetailFile   string
	MetadataFile string
	MonthlyFile  string
	NewCount     int
	Skipped      int
	Monthly      *Monthly
}

// Reporter writes report files into the archive.
type Reporter struct {
	store   archive.Storage
	logger  *zap.Logger
	metrics *metrics.Registry
}

// NewReporter creates a reporter over store.
func NewReporter(store archive.Storage, logger *zap.Logger, reg *metrics.Registry) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{store: store, logger: logger, metrics: reg}
}

// MonthDir is reports/<YYYY>/<MM>_<Month>.
func MonthDir(now time.Time) string {
	return path.Join("reports", now.Format("2006"), now.Format("01")+"_"+now.Format("January"))
}

// DailyDir is the daily subdirectory of MonthDir.
func DailyDir(now time.Time) string {
	return path.Join(MonthDir(now), "daily")
}

// Save writes the daily summary, transaction detail and metadata files for
// rotations not already reported today, then folds every summary into the
// monthly KPI file.
func (r *Reporter) Save(ctx context.Context, summaries []RotationSummary, entries []journal.Entry, now time.Time) (*SaveResult, error) {
	res := &SaveResult{}

	if err := r.saveDaily(ctx, summaries, entries, now, res); err != nil {
		return nil, err
	}

	monthly, file, err := r.UpdateMonthly(ctx, summaries, now)
	if err != nil {
		return nil, err
	}
	res.Monthly = monthly
	res.MonthlyFile = file
	return res, nil
}

func (r *Reporter) saveDaily(ctx context.Context, summaries []RotationSummary, entries []journal.Entry, now time.Time, res *SaveResult) error {
	dir := DailyDir(now)
	reported, err := r.reportedToday(ctx, dir, now)
	if err != nil {
		return err
	}

	var fresh []RotationSummary
	ids := make(map[string]bool)
	for _, s := range summaries {
		if reported[s.RotationID] {
			continue
		}
		fresh = append(fresh, s)
		ids[s.RotationID] = true
	}
	res.NewCount = len(fresh)
	res.Skipped = len(summaries) - len(fresh)

	if len(fresh) == 0 {
		r.logger.Info("no new rotation to report", zap.Int("skipped", res.Skipped))
		return nil
	}

	var detail []journal.Entry
	for _, e := range entries {
		if ids[e.RotationID] {
			detail = append(detail, e)
		}
	}

	stamp := now.Format("20060102_1504")
	res.SummaryFile = path.Join(dir, "summary_"+stamp+".csv")
	res.DetailFile = path.Join(dir, "transactions_detail_"+stamp+".csv")
	res.MetadataFile = path.Join(dir, "metadata_"+stamp+".json")

	summaryCSV, err := encodeSummaries(fresh)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	if err := r.store.Write(ctx, res.SummaryFile, summaryCSV); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}

	detailCSV, err := journal.EncodeEntries(detail)
	if err != nil {
		return fmt.Errorf("encoding details: %w", err)
	}
	if err := r.store.Write(ctx, res.DetailFile, detailCSV); err != nil {
		return fmt.Errorf("writing details: %w", err)
	}

	meta := Metadata{
		Timestamp:       now,
		NewRotations:    len(fresh),
		NewTransactions: len(detail),
		SkippedExisting: res.Skipped,
		Files: map[string]string{
			"summary": res.SummaryFile,
			"details": res.DetailFile,
		},
	}
	if err := archive.WriteJSON(ctx, r.store, res.MetadataFile, meta); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	r.logger.Info("daily report saved",
		zap.Int("new_rotations", len(fresh)),
		zap.Int("skipped", res.Skipped),
		zap.String("summary", res.SummaryFile),
	)
	return nil
}

// reportedToday collects rotation ids from today's summary files.
func (r *Reporter) reportedToday(ctx context.Context, dir string, now time.Time) (map[string]bool, error) {
	files, err := r.store.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	prefix := "summary_" + now.Format("20060102")
	ids := make(map[string]bool)
	for _, f := range files {
		if !strings.HasPrefix(path.Base(f), prefix) {
			continue
		}
		data, err := r.store.Read(ctx, f)
		if err != nil {
			r.logger.Warn("unreadable summary file", zap.String("file", f), zap.Error(err))
			continue
		}
		for _, id := range decodeSummaryIDs(data) {
			ids[id] = true
		}
	}
	return ids, nil
}

// UpdateMonthly merges summaries into kpis_monthly.json, ignoring rotation
// ids already present, and recomputes the KPIs over the whole month.
func (r *Reporter) UpdateMonthly(ctx context.Context, summaries []RotationSummary, now time.Time) (*Monthly, string, error) {
	file := path.Join(MonthDir(now), "kpis_monthly.json")

	var monthly Monthly
	err := archive.ReadJSON(ctx, r.store, file, &monthly)
	switch {
	case errors.Is(err, archive.ErrNotFound):
		monthly = Monthly{Month: now.Format("2006-01"), Rotations: []RotationSummary{}}
	case err != nil:
		return nil, "", err
	}

	known := make(map[string]bool, len(monthly.Rotations))
	for _, s := range monthly.Rotations {
		known[s.RotationID] = true
	}
	added := 0
	for _, s := range summaries {
		if known[s.RotationID] {
			continue
		}
		known[s.RotationID] = true
		monthly.Rotations = append(monthly.Rotations, s)
		added++
	}
	if skipped := len(summaries) - added; skipped > 0 {
		r.logger.Info("monthly KPIs: rotations already recorded", zap.Int("skipped", skipped))
	}

	monthly.KPIs = Aggregate(monthly.Rotations)
	monthly.LastUpdated = now

	if err := archive.WriteJSON(ctx, r.store, file, monthly); err != nil {
		return nil, "", fmt.Errorf("writing monthly KPIs: %w", err)
	}
	r.metrics.SetKPIAverageProfit(monthly.KPIs.AvgMargin)
	return &monthly, file, nil
}

func encodeSummaries(summaries []RotationSummary) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = journal.Separator
	if err := w.Write(summaryColumns); err != nil {
		return nil, err
	}
	for _, s := range summaries {
		rec := []string{
			s.RotationID,
			s.Date,
			formatFloat(s.USDTInvested),
			formatFloat(s.EURInvested),
			formatFloat(s.EURFinal),
			formatFloat(s.EURProfit),
			formatFloat(s.ProfitPct),
			strconv.Itoa(s.Transactions),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// decodeSummaryIDs returns the Rotation_ID column of a summary file. A
// malformed file yields what could be read.
func decodeSummaryIDs(data []byte) []string {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = journal.Separator
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil
	}
	col := -1
	for i, name := range header {
		if strings.TrimSpace(name) == "Rotation_ID" {
			col = i
			break
		}
	}
	if col < 0 {
		return nil
	}

	var ids []string
	for {
		rec, err := cr.Read()
		if err != nil {
			break
		}
		if col < len(rec) && rec[col] != "" {
			ids = append(ids, rec[col])
		}
	}
	return ids
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
