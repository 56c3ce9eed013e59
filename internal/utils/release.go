package utils

import (
	"regexp"
	"strconv"
	"strings"
)

// Release quality tiers, best first
const (
	QualityREMUX  = "REMUX"
	QualityBluRay = "BluRay"
	QualityWEBDL  = "WEB-DL"
	QualityHDTV   = "HDTV"
	QualityOther  = "other"
)

var (
	yearRegex       = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	resolutionRegex = regexp.MustCompile(`(?i)\b(4320|2160|1080|720|576|480)[pi]\b`)
)

// DetermineQuality classifies a release title into a quality tier
func DetermineQuality(title string) string {
	t := strings.ToLower(title)

	switch {
	case strings.Contains(t, "remux"):
		return QualityREMUX
	case strings.Contains(t, "bluray"), strings.Contains(t, "blu-ray"):
		return QualityBluRay
	case strings.Contains(t, "web-dl"), strings.Contains(t, "webdl"),
		strings.Contains(t, "web dl"), strings.Contains(t, "webrip"):
		return QualityWEBDL
	case strings.Contains(t, "hdtv"):
		return QualityHDTV
	}
	return QualityOther
}

// ExtractResolution returns the vertical resolution tag, e.g. "2160p"
// "4k" and "uhd" count as 2160p. Empty when absent.
func ExtractResolution(title string) string {
	if m := resolutionRegex.FindStringSubmatch(title); len(m) > 1 {
		return m[1] + "p"
	}
	t := strings.ToLower(title)
	if strings.Contains(t, "4k") || strings.Contains(t, "uhd") {
		return "2160p"
	}
	return ""
}

// ExtractYear extracts a 4-digit year from a release title
// Returns 0 if no year is found.
func ExtractYear(title string) int {
	matches := yearRegex.FindStringSubmatch(title)
	if len(matches) > 1 {
		year, err := strconv.Atoi(matches[1])
		if err == nil {
			return year
		}
	}
	return 0
}
