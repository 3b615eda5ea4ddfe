package normalize

// periodFactors converts an amount expressed per period into an annual amount.
// Keys are compacted labels (see Compact).
var periodFactors = map[string]float64{
	"annual":       1,
	"annually":     1,
	"annum":        1,
	"perannum":     1,
	"pa":           1,
	"year":         1,
	"yearly":       1,
	"peryear":      1,
	"yr":           1,
	"month":        12,
	"monthly":      12,
	"permonth":     12,
	"mo":           12,
	"pm":           12,
	"semimonthly":  24,
	"twicemonthly": 24,
	"biweekly":     26,
	"fortnight":    26,
	"fortnightly":  26,
	"week":         52,
	"weekly":       52,
	"perweek":      52,
	"wk":           52,
	"day":          260,
	"daily":        260,
	"perday":       260,
	"hour":         2080,
	"hourly":       2080,
	"perhour":      2080,
	"hr":           2080,
}

// PeriodFactor returns the annualization factor for a pay-period label.
func PeriodFactor(label string) (float64, bool) {
	f, ok := periodFactors[Compact(label)]
	return f, ok
}

// AnnualizeSalary multiplies amount by the factor for periodLabel
// (monthly x12, weekly x52, daily x260, ...). Unknown labels pass amount through.
func AnnualizeSalary(amount float64, periodLabel string) float64 {
	if f, ok := PeriodFactor(periodLabel); ok {
		return amount * f
	}
	return amount
}
