package dispatch

import (
	"math"
	"strconv"
	"strings"
)

// FormatAccuracy renders a 0-1 accuracy ratio as a two-decimal percentage
// string with no trailing zeros ("72.7", "99.99", "12").
func FormatAccuracy(accuracy float64) string {
	pct := math.Round(accuracy*10000) / 100
	return strconv.FormatFloat(pct, 'f', -1, 64)
}

// Matches reports whether the digit string of the rendered percentage, with
// the decimal point removed, contains "727". This is the bot's entire reason
// to exist and is deliberately not configurable.
func Matches(accuracy float64) bool {
	digits := strings.Replace(FormatAccuracy(accuracy), ".", "", 1)
	return strings.Contains(digits, "727")
}
