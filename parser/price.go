package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// Money is a parsed price with the currency it was quoted in, when known.
type Money struct {
	Amount   float64
	Currency string
}

const number = `(\d{1,3}(?:[,\x{00a0}]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)`

type pricePattern struct {
	re       *regexp.Regexp
	currency func(match []string) string
}

var (
	prefixedPatterns = []pricePattern{
		{re: regexp.MustCompile(`(\bR|\bZAR|\$|€|£|\bUSD)[\s\x{00a0}]?` + number), currency: symbolCurrency},
	}
	pricePatterns = append(append([]pricePattern(nil), prefixedPatterns...),
		pricePattern{re: regexp.MustCompile(number + `\s?ZAR\b`), currency: fixed("ZAR")},
		pricePattern{re: regexp.MustCompile(`(?i)price:\s*` + number), currency: fixed("")},
		pricePattern{re: regexp.MustCompile(number), currency: fixed("")},
	)

	commaDecimal = regexp.MustCompile(`,\d{1,2}$`)
)

// ParsePrice scans text with the price patterns in order: currency-prefixed,
// currency-suffixed, labelled, then bare decimals. The first pattern that
// matches anywhere in text wins. Text without a number yields false.
func ParsePrice(text string) (float64, bool) {
	m, ok := ParseMoney(text)
	return m.Amount, ok
}

// ParseMoney is ParsePrice that also reports the quoted currency.
func ParseMoney(text string) (Money, bool) {
	return parseWith(text, pricePatterns)
}

func parseWith(text string, patterns []pricePattern) (Money, bool) {
	for _, p := range patterns {
		match := p.re.FindStringSubmatch(text)
		if match == nil {
			continue
		}
		amount, ok := parseNumber(match[len(match)-1])
		if !ok {
			continue
		}
		return Money{Amount: amount, Currency: p.currency(match)}, true
	}
	return Money{}, false
}

// parseNumber accepts "1,234.50", "1 234,50", "99" and "12,5". A comma
// followed by one or two trailing digits is a decimal separator; any other
// comma separates thousands.
func parseNumber(raw string) (float64, bool) {
	s := strings.ReplaceAll(raw, "\u00a0", "")
	if commaDecimal.MatchString(s) {
		idx := strings.LastIndex(s, ",")
		s = strings.ReplaceAll(s[:idx], ",", "") + "." + s[idx+1:]
	} else {
		s = strings.ReplaceAll(s, ",", "")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func symbolCurrency(match []string) string {
	switch match[1] {
	case "R", "ZAR":
		return "ZAR"
	case "$", "USD":
		return "USD"
	case "€":
		return "EUR"
	case "£":
		return "GBP"
	}
	return ""
}

func fixed(currency string) func([]string) string {
	return func([]string) string { return currency }
}
