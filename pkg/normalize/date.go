package normalize

import (
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order. Day-first slash dates are preferred over
// month-first because most non-US payroll exports use them; ambiguous values
// such as 03/04/2021 therefore read as 3 April.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"01/02/2006",
	"1/2/2006",
	"02.01.2006",
	"2.1.2006",
	"02-01-2006",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-2006",
	"2-Jan-06",
}

// excelEpoch is day zero of the 1900 spreadsheet date system, adjusted for its
// fictitious 29 February 1900.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// Spreadsheet serials accepted as dates: roughly 1954 to 2119.
const (
	minExcelSerial = 20000
	maxExcelSerial = 80000
)

// ParseDate parses a hire date in any of the common export layouts, or a
// spreadsheet serial day number. It returns nil when nothing matches.
func ParseDate(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial >= minExcelSerial && serial <= maxExcelSerial {
		d := excelEpoch.AddDate(0, 0, int(serial))
		return &d
	}

	return nil
}
