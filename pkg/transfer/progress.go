package transfer

import (
	"strconv"
	"strings"
)

// Progress is one parsed rsync --info=progress2 line
type Progress struct {
	Transferred int64
	// Total is estimated from Transferred and Percent
	Total       int64
	Percent     int
	BytesPerSec float64
	ETA         string
}

// ParseProgress parses lines like
//
//	1,234,567  45%   12.34MB/s    0:00:10 (xfr#3, to-chk=5/10)
//
// It reports false for anything else, including 0% lines which carry no
// usable total.
func ParseProgress(line string) (Progress, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasSuffix(fields[1], "%") {
		return Progress{}, false
	}

	transferred, err := strconv.ParseInt(stripSeparators(fields[0]), 10, 64)
	if err != nil || transferred < 0 {
		return Progress{}, false
	}
	percent, err := strconv.Atoi(strings.TrimSuffix(fields[1], "%"))
	if err != nil || percent <= 0 || percent > 100 {
		return Progress{}, false
	}

	p := Progress{
		Transferred: transferred,
		Total:       transferred * 100 / int64(percent),
		Percent:     percent,
	}
	if len(fields) > 2 && strings.HasSuffix(fields[2], "/s") {
		p.BytesPerSec = parseRate(strings.TrimSuffix(fields[2], "/s"))
	}
	if len(fields) > 3 && strings.Contains(fields[3], ":") {
		p.ETA = fields[3]
	}
	return p, true
}

// stripSeparators drops locale thousands separators from a byte count
func stripSeparators(s string) string {
	return strings.NewReplacer(",", "", ".", "", "'", "").Replace(s)
}

// parseRate converts an rsync rate such as "12.34MB" to bytes per second
func parseRate(rate string) float64 {
	rate = strings.TrimSpace(rate)
	var multiplier float64 = 1

	switch {
	case strings.HasSuffix(rate, "GB"):
		multiplier = 1024 * 1024 * 1024
		rate = strings.TrimSuffix(rate, "GB")
	case strings.HasSuffix(rate, "MB"):
		multiplier = 1024 * 1024
		rate = strings.TrimSuffix(rate, "MB")
	case strings.HasSuffix(rate, "KB"):
		multiplier = 1024
		rate = strings.TrimSuffix(rate, "KB")
	case strings.HasSuffix(rate, "kB"):
		multiplier = 1000
		rate = strings.TrimSuffix(rate, "kB")
	case strings.HasSuffix(rate, "B"):
		rate = strings.TrimSuffix(rate, "B")
	}

	speed, err := strconv.ParseFloat(strings.ReplaceAll(rate, ",", ""), 64)
	if err != nil {
		return 0
	}
	return speed * multiplier
}

// scanLinesAndCR splits on \n and \r; rsync redraws progress with \r
func scanLinesAndCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[0:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
