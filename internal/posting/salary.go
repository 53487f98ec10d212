package posting

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	PeriodHour  = "hour"
	PeriodDay   = "day"
	PeriodWeek  = "week"
	PeriodMonth = "month"
	PeriodYear  = "year"
)

var salaryNumberPattern = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(k\b)?`)

var currencyMarkers = []struct {
	marker   string
	currency string
}{
	{"usd", "USD"},
	{"us$", "USD"},
	{"eur", "EUR"},
	{"€", "EUR"},
	{"gbp", "GBP"},
	{"£", "GBP"},
	{"inr", "INR"},
	{"₹", "INR"},
	{"cad", "CAD"},
	{"aud", "AUD"},
	{"$", "USD"},
}

var periodMarkers = []struct {
	marker string
	period string
}{
	{"hour", PeriodHour},
	{"/hr", PeriodHour},
	{" hr", PeriodHour},
	{"per day", PeriodDay},
	{"daily", PeriodDay},
	{"/day", PeriodDay},
	{"week", PeriodWeek},
	{"/wk", PeriodWeek},
	{"month", PeriodMonth},
	{"/mo", PeriodMonth},
	{"stipend", PeriodMonth},
	{"year", PeriodYear},
	{"annual", PeriodYear},
	{"annum", PeriodYear},
	{"/yr", PeriodYear},
}

// ParseSalary extracts a numeric range from free-form salary text. Text without
// numbers yields a zero Salary.
func ParseSalary(text string) Salary {
	folded := FoldText(text)
	if folded == "" {
		return Salary{}
	}

	matches := salaryNumberPattern.FindAllStringSubmatch(folded, 4)
	values := make([]float64, 0, 2)
	for _, m := range matches {
		raw := strings.ReplaceAll(m[1], ",", "")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			continue
		}
		if m[2] != "" {
			v *= 1000
		}
		values = append(values, v)
		if len(values) == 2 {
			break
		}
	}
	if len(values) == 0 {
		return Salary{}
	}

	out := Salary{Min: values[0], Max: values[0]}
	if len(values) == 2 {
		out.Max = values[1]
	}
	if out.Min > out.Max {
		out.Min, out.Max = out.Max, out.Min
	}

	for _, c := range currencyMarkers {
		if strings.Contains(folded, c.marker) {
			out.Currency = c.currency
			break
		}
	}

	for _, p := range periodMarkers {
		if strings.Contains(folded, p.marker) {
			out.Period = p.period
			break
		}
	}
	if out.Period == "" {
		out.Period = guessPeriod(out.Max)
	}
	return out
}

func guessPeriod(amount float64) string {
	switch {
	case amount < 200:
		return PeriodHour
	case amount < 20000:
		return PeriodMonth
	default:
		return PeriodYear
	}
}
