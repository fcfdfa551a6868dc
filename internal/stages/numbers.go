package stages

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// parseNumber reads estimate numbers written as "1 234,56", "1,234.56", "12,5" or "1234".
// Currency symbols and trailing unit text are ignored.
func parseNumber(raw string) (float64, bool) {
	var b strings.Builder
scan:
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '\'':
			// thousands separators
		default:
			if b.Len() > 0 {
				break scan
			}
		}
	}
	s := b.String()
	if s == "" || s == "-" {
		return 0, false
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
