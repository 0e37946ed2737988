// Package report turns per-state results into what the dashboard shows:
// priority-grouped state tables and CSV exports.
package report

import (
	"sort"
	"strings"

	"github.com/clearnexus/nexdash/nexus"
)

// NoNexusSalesCutoff separates "has sales worth watching" from "no sales"
// for states without nexus.
const NoNexusSalesCutoff = 10000.0

// Sortable columns.
const (
	ColState            = "state"
	ColTotalSales       = "total_sales"
	ColTaxableSales     = "taxable_sales"
	ColLiability        = "estimated_liability"
	ColThresholdPercent = "threshold_percent"
)

// Sort is a user-invoked column sort. When present it overrides every
// bucket's default ordering.
type Sort struct {
	Column string
	Desc   bool
}

// Grouped partitions states into the four dashboard priority buckets.
type Grouped struct {
	HasNexus     []nexus.StateResult `json:"has_nexus"`
	Approaching  []nexus.StateResult `json:"approaching"`
	SalesNoNexus []nexus.StateResult `json:"sales_no_nexus"`
	NoSales      []nexus.StateResult `json:"no_sales"`
}

// Group partitions states by priority. With no user sort each bucket gets
// its own default ordering: liability for nexus states, threshold progress
// for approaching states, sales for unregistered sellers, alphabetical for
// the rest. A user sort is applied globally before partitioning, so the
// user's order is preserved within each bucket.
func Group(states []nexus.StateResult, userSort *Sort) Grouped {
	ordered := make([]nexus.StateResult, len(states))
	copy(ordered, states)

	if userSort != nil {
		sortBy(ordered, userSort.Column, userSort.Desc)
	}

	var g Grouped
	for _, s := range ordered {
		switch bucketOf(s) {
		case 0:
			g.HasNexus = append(g.HasNexus, s)
		case 1:
			g.Approaching = append(g.Approaching, s)
		case 2:
			g.SalesNoNexus = append(g.SalesNoNexus, s)
		default:
			g.NoSales = append(g.NoSales, s)
		}
	}

	if userSort == nil {
		sortBy(g.HasNexus, ColLiability, true)
		sortBy(g.Approaching, ColThresholdPercent, true)
		sortBy(g.SalesNoNexus, ColTotalSales, true)
		sortBy(g.NoSales, ColState, false)
	}
	return g
}

func bucketOf(s nexus.StateResult) int {
	switch {
	case s.NexusStatus == nexus.NexusStatusHas:
		return 0
	case s.NexusStatus == nexus.NexusStatusApproaching:
		return 1
	case s.TotalSales > NoNexusSalesCutoff:
		return 2
	default:
		return 3
	}
}

func sortBy(states []nexus.StateResult, column string, desc bool) {
	less := func(a, b nexus.StateResult) bool {
		switch column {
		case ColTotalSales:
			return a.TotalSales < b.TotalSales
		case ColTaxableSales:
			return a.TaxableSales < b.TaxableSales
		case ColLiability:
			return a.EstimatedLiability < b.EstimatedLiability
		case ColThresholdPercent:
			return a.ThresholdPercent < b.ThresholdPercent
		default:
			return strings.Compare(a.StateName, b.StateName) < 0
		}
	}
	sort.SliceStable(states, func(i, j int) bool {
		if desc {
			return less(states[j], states[i])
		}
		return less(states[i], states[j])
	})
}
