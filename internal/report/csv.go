package report

import (
	"strconv"
	"strings"

	"github.com/clearnexus/nexdash/nexus"
)

// csvHeader is the fixed column list for state exports.
var csvHeader = []string{
	"State Code",
	"State Name",
	"Nexus Status",
	"Nexus Type",
	"Total Sales",
	"Taxable Sales",
	"Exempt Sales",
	"Base Tax",
	"Interest",
	"Penalties",
	"Estimated Liability",
	"Threshold",
	"Threshold %",
}

// CSV renders states as comma-joined rows under the fixed header. Field
// values are not quoted or escaped; state names in the dataset contain
// neither commas nor quotes.
func CSV(states []nexus.StateResult) []byte {
	var b strings.Builder
	b.WriteString(strings.Join(csvHeader, ","))
	b.WriteByte('\n')

	for _, s := range states {
		row := []string{
			s.StateCode,
			s.StateName,
			s.NexusStatus,
			s.NexusType,
			money(s.TotalSales),
			money(s.TaxableSales),
			money(s.ExemptSales),
			money(s.BaseTax),
			money(s.Interest),
			money(s.Penalties),
			money(s.EstimatedLiability),
			money(s.Threshold),
			strconv.FormatFloat(s.ThresholdPercent, 'f', 1, 64),
		}
		b.WriteString(strings.Join(row, ","))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
