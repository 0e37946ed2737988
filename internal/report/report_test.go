package report

import (
	"strings"
	"testing"

	"github.com/clearnexus/nexdash/nexus"
)

func state(code string, status string, sales, liability, pct float64) nexus.StateResult {
	return nexus.StateResult{
		StateCode:          code,
		StateName:          code,
		NexusStatus:        status,
		TotalSales:         sales,
		EstimatedLiability: liability,
		ThresholdPercent:   pct,
	}
}

func codes(states []nexus.StateResult) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.StateCode
	}
	return out
}

func TestGroupBuckets(t *testing.T) {
	states := []nexus.StateResult{
		state("TX", nexus.NexusStatusHas, 900000, 45000, 180),
		state("WA", nexus.NexusStatusApproaching, 80000, 0, 80),
		state("OH", nexus.NexusStatusNone, 50000, 0, 10),
		state("VT", nexus.NexusStatusNone, 2500, 0, 1),
		state("WY", nexus.NexusStatusNone, 0, 0, 0),
	}

	g := Group(states, nil)

	if got := codes(g.HasNexus); len(got) != 1 || got[0] != "TX" {
		t.Errorf("has nexus = %v", got)
	}
	if got := codes(g.Approaching); len(got) != 1 || got[0] != "WA" {
		t.Errorf("approaching = %v", got)
	}
	if got := codes(g.SalesNoNexus); len(got) != 1 || got[0] != "OH" {
		t.Errorf("sales no nexus = %v", got)
	}
	if got := codes(g.NoSales); len(got) != 2 {
		t.Errorf("no sales = %v", got)
	}
}

func TestGroupCutoffBoundary(t *testing.T) {
	// Exactly at the cutoff counts as no meaningful sales.
	g := Group([]nexus.StateResult{
		state("OH", nexus.NexusStatusNone, NoNexusSalesCutoff, 0, 0),
		state("KY", nexus.NexusStatusNone, NoNexusSalesCutoff+0.01, 0, 0),
	}, nil)

	if got := codes(g.SalesNoNexus); len(got) != 1 || got[0] != "KY" {
		t.Errorf("sales no nexus = %v", got)
	}
	if got := codes(g.NoSales); len(got) != 1 || got[0] != "OH" {
		t.Errorf("no sales = %v", got)
	}
}

func TestGroupDefaultOrders(t *testing.T) {
	states := []nexus.StateResult{
		state("TX", nexus.NexusStatusHas, 0, 45000, 0),
		state("CA", nexus.NexusStatusHas, 0, 90000, 0),
		state("WA", nexus.NexusStatusApproaching, 0, 0, 80),
		state("CO", nexus.NexusStatusApproaching, 0, 0, 95),
		state("OH", nexus.NexusStatusNone, 50000, 0, 0),
		state("GA", nexus.NexusStatusNone, 70000, 0, 0),
		state("WY", nexus.NexusStatusNone, 100, 0, 0),
		state("AK", nexus.NexusStatusNone, 50, 0, 0),
	}

	g := Group(states, nil)

	if got := codes(g.HasNexus); got[0] != "CA" || got[1] != "TX" {
		t.Errorf("has nexus should order by liability descending, got %v", got)
	}
	if got := codes(g.Approaching); got[0] != "CO" || got[1] != "WA" {
		t.Errorf("approaching should order by threshold progress descending, got %v", got)
	}
	if got := codes(g.SalesNoNexus); got[0] != "GA" || got[1] != "OH" {
		t.Errorf("sales no nexus should order by sales descending, got %v", got)
	}
	if got := codes(g.NoSales); got[0] != "AK" || got[1] != "WY" {
		t.Errorf("no sales should order alphabetically, got %v", got)
	}
}

func TestGroupUserSortOverridesDefaults(t *testing.T) {
	states := []nexus.StateResult{
		state("TX", nexus.NexusStatusHas, 100000, 45000, 0),
		state("CA", nexus.NexusStatusHas, 900000, 9000, 0),
		state("OH", nexus.NexusStatusNone, 50000, 0, 0),
		state("GA", nexus.NexusStatusNone, 70000, 0, 0),
	}

	g := Group(states, &Sort{Column: ColTotalSales, Desc: false})

	// Ascending sales, not the liability/sales defaults.
	if got := codes(g.HasNexus); got[0] != "TX" || got[1] != "CA" {
		t.Errorf("has nexus = %v", got)
	}
	if got := codes(g.SalesNoNexus); got[0] != "OH" || got[1] != "GA" {
		t.Errorf("sales no nexus = %v", got)
	}
}

func TestGroupDoesNotMutateInput(t *testing.T) {
	states := []nexus.StateResult{
		state("TX", nexus.NexusStatusHas, 0, 100, 0),
		state("CA", nexus.NexusStatusHas, 0, 200, 0),
	}
	Group(states, nil)
	if states[0].StateCode != "TX" {
		t.Errorf("input reordered: %v", codes(states))
	}
}

func TestCSVLayout(t *testing.T) {
	out := string(CSV([]nexus.StateResult{
		{
			StateCode:          "TX",
			StateName:          "Texas",
			NexusStatus:        nexus.NexusStatusHas,
			NexusType:          nexus.NexusTypeEconomic,
			TotalSales:         900000,
			TaxableSales:       850000,
			ExemptSales:        50000,
			BaseTax:            53125,
			Interest:           4250,
			Penalties:          2656.25,
			EstimatedLiability: 60031.25,
			Threshold:          500000,
			ThresholdPercent:   180,
		},
	}))

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want header + 1 row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "State Code,State Name,") {
		t.Errorf("header = %q", lines[0])
	}
	if cols := strings.Split(lines[1], ","); len(cols) != len(csvHeader) {
		t.Errorf("row has %d columns, header has %d", len(cols), len(csvHeader))
	}
	if !strings.Contains(lines[1], "60031.25") {
		t.Errorf("row = %q", lines[1])
	}
	if !strings.Contains(lines[1], "180.0") {
		t.Errorf("threshold percent should render with one decimal: %q", lines[1])
	}
}

func TestCSVEmpty(t *testing.T) {
	out := string(CSV(nil))
	if got := strings.Count(out, "\n"); got != 1 {
		t.Errorf("empty export should be header only, got %d lines", got)
	}
}
