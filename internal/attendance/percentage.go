package attendance

import "github.com/shopspring/decimal"

// Percentage returns daysPresent/workingDays as a percentage rounded to one
// decimal place. Zero working days yields zero.
func Percentage(daysPresent int, workingDays int) float64 {
	if workingDays <= 0 {
		return 0
	}
	p := decimal.NewFromInt(int64(daysPresent)).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(int64(workingDays)), 4).
		Round(1)
	f, _ := p.Float64()
	return f
}
