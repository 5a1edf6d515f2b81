// ABOUTME: Name, hardware model and timestamp conversions shared by all branches
// ABOUTME: Produces registry- and manifest-compatible field values

package tracker

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TimestampLayout is the registry and manifest timestamp format.
const TimestampLayout = "2006-01-02T15:04:05Z"

// maxHwModel is the length limit of the registry hw_model field.
const maxHwModel = 30

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	dashRun       = regexp.MustCompile(`-+`)
	parenthesized = regexp.MustCompile(`\([^)]*\)`)
)

// NormalizeName replaces whitespace runs with "-" and collapses repeated
// dashes.
func NormalizeName(s string) string {
	s = whitespaceRun.ReplaceAllString(s, "-")
	return dashRun.ReplaceAllString(s, "-")
}

// CleanHwModel turns a profile name into a hw_model value: parenthesized
// text is removed, the rest trimmed and normalized, and the result cut to
// 30 characters.
func CleanHwModel(s string) string {
	s = parenthesized.ReplaceAllString(s, "")
	s = NormalizeName(strings.TrimSpace(s))
	if r := []rune(s); len(r) > maxHwModel {
		s = string(r[:maxHwModel])
	}
	return s
}

// FormatTimestamp renders t in UTC with second precision. The zero time
// renders as "".
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// UTCToZone converts t into the named IANA zone. An empty zone or "Local"
// uses the host zone.
func UTCToZone(t time.Time, zone string) (time.Time, error) {
	if zone == "" || zone == "Local" {
		return t.Local(), nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("loading zone %q: %w", zone, err)
	}
	return t.In(loc), nil
}
