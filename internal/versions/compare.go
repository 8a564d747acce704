// Package versions compares upstream version labels.
package versions

import (
	"sort"
	"strings"

	version "github.com/knqyf263/go-deb-version"
)

// parse accepts labels with or without a leading "v".
func parse(label string) (version.Version, error) {
	return version.NewVersion(strings.TrimPrefix(strings.TrimSpace(label), "v"))
}

// IsNewer reports whether newVersion is strictly greater than oldVersion.
// Labels are ordered like Debian versions, which also covers the dotted
// numeric labels most vendors publish. If either label cannot be parsed
// the comparison falls back to plain string ordering.
func IsNewer(newVersion, oldVersion string) bool {
	newV, errNew := parse(newVersion)
	oldV, errOld := parse(oldVersion)
	if errNew != nil || errOld != nil {
		return newVersion > oldVersion
	}
	return newV.GreaterThan(oldV)
}

// SortDescending orders labels newest first. The input is not modified.
func SortDescending(labels []string) []string {
	sorted := append([]string(nil), labels...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return IsNewer(sorted[i], sorted[j])
	})
	return sorted
}

// Latest returns the newest label, or "" for an empty list.
func Latest(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	return SortDescending(labels)[0]
}
