package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// GiB is the number of bytes in a gibibyte
const GiB = 1 << 30

var sizeRegex = regexp.MustCompile(`(?i)([\d,.]+)\s*(TiB|TB|GiB|GB|MiB|MB|KiB|KB|B)\b`)

var sizeUnits = map[string]float64{
	"TIB": 1 << 40, "TB": 1 << 40,
	"GIB": 1 << 30, "GB": 1 << 30,
	"MIB": 1 << 20, "MB": 1 << 20,
	"KIB": 1 << 10, "KB": 1 << 10,
	"B": 1,
}

// Normalize folds full-width characters to their ASCII forms and trims space
func Normalize(s string) string {
	return strings.TrimSpace(width.Narrow.String(s))
}

// ParseSize converts a human size such as "54.57 GB" to bytes
// Units are binary regardless of the i suffix. Returns 0 when nothing parses.
func ParseSize(text string) int64 {
	m := sizeRegex.FindStringSubmatch(Normalize(text))
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	return int64(value * sizeUnits[strings.ToUpper(m[2])])
}

// FormatSize renders bytes with a binary unit
func FormatSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
