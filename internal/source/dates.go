package source

import (
	"strconv"
	"strings"
	"time"
)

// Month names in the genitive case, as they appear in "22 июля 2025".
var ruMonths = map[string]time.Month{
	"января":   time.January,
	"февраля":  time.February,
	"марта":    time.March,
	"апреля":   time.April,
	"мая":      time.May,
	"июня":     time.June,
	"июля":     time.July,
	"августа":  time.August,
	"сентября": time.September,
	"октября":  time.October,
	"ноября":   time.November,
	"декабря":  time.December,
}

var numericLayouts = []string{
	"02.01.2006",
	"2.1.2006",
	"02.01.2006 15:04",
	"2006-01-02",
	"2006-01-02 15:04",
	time.RFC3339,
}

// ParseDate reads the display dates found on news pages. Dates without a
// zone are interpreted in loc.
func ParseDate(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range numericLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}

	fields := strings.Fields(strings.ToLower(s))
	if len(fields) < 3 {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(fields[0])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false
	}
	month, ok := ruMonths[fields[1]]
	if !ok {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(strings.TrimSuffix(fields[2], "г."))
	if err != nil || year < 1970 {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, loc)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// FormatDate renders t the way the watched site shows dates.
func FormatDate(t time.Time) string {
	for name, m := range ruMonths {
		if m == t.Month() {
			return strconv.Itoa(t.Day()) + " " + name + " " + strconv.Itoa(t.Year())
		}
	}
	return t.Format("02.01.2006")
}
