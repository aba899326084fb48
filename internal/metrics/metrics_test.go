package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("expected non-nil registry")
	}
}

func TestRegistry_RecordRoute(t *testing.T) {
	reg := NewRegistry()

	reg.RecordRoute("profitable")
	reg.RecordRoute("profitable")
	reg.RecordRoute("rejected")

	if got := testutil.ToFloat64(reg.routesEvaluated.WithLabelValues("profitable")); got != 2 {
		t.Errorf("expected 2 profitable routes, got %f", got)
	}
	if got := testutil.ToFloat64(reg.routesEvaluated.WithLabelValues("rejected")); got != 1 {
		t.Errorf("expected 1 rejected route, got %f", got)
	}
}

func TestRegistry_RecordSearch(t *testing.T) {
	reg := NewRegistry()
	reg.RecordSearch("ok", 0.002)
	reg.SetBestProfit(3.2)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}

	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, want := range []string{"p2parb_searches_total", "p2parb_search_duration_seconds", "p2parb_best_route_profit_pct"} {
		if !names[want] {
			t.Errorf("expected %s metric", want)
		}
	}
}

func TestRegistry_OperationsMetrics(t *testing.T) {
	reg := NewRegistry()

	reg.RecordJournalRow("ACHAT")
	reg.RecordRotationOpened()
	reg.RecordSimulation("ok")
	reg.SetKPIAverageProfit(1.5)
	reg.RecordAlert("PRIX_NEGATIF", "CRITICAL")

	if got := testutil.ToFloat64(reg.journalRows.WithLabelValues("ACHAT")); got != 1 {
		t.Errorf("expected 1 journal row, got %f", got)
	}
	if got := testutil.ToFloat64(reg.rotationsOpened); got != 1 {
		t.Errorf("expected 1 rotation, got %f", got)
	}
	if got := testutil.ToFloat64(reg.kpiAvgProfitPct); got != 1.5 {
		t.Errorf("expected 1.5, got %f", got)
	}
	if got := testutil.ToFloat64(reg.validationAlerts.WithLabelValues("PRIX_NEGATIF", "CRITICAL")); got != 1 {
		t.Errorf("expected 1 alert, got %f", got)
	}
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var reg *Registry

	// Should not panic
	reg.RecordRoute("profitable")
	reg.RecordSearch("ok", 0.1)
	reg.RecordJournalRow("VENTE")
	if err := reg.WriteTextfile("ignored.prom"); err != nil {
		t.Errorf("nil registry should not write: %v", err)
	}
}

func TestRegistry_WriteTextfile(t *testing.T) {
	reg := NewRegistry()
	reg.RecordRotationOpened()

	path := filepath.Join(t.TempDir(), "p2parb.prom")
	if err := reg.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "p2parb_rotations_opened_total 1") {
		t.Errorf("unexpected textfile content:\n%s", data)
	}
}
