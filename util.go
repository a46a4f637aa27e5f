package main

import (
	"regexp"
	"strings"
	"time"
)

// ircEscape rewrites a Flow supplied name so it can appear inside an IRC
// channel or nickname token. ',' becomes '_' and ' ' becomes '-'.
func ircEscape(s string) string {
	s = strings.ReplaceAll(s, ",", "_")
	return strings.ReplaceAll(s, " ", "-")
}

var memberTargetRE = regexp.MustCompile(`^(.+)\((.+)\)$`)

// parseMemberTarget splits a Username(OrgName) message target into its
// username and organization parts.
func parseMemberTarget(target string) (string, string, bool) {
	matches := memberTargetRE.FindStringSubmatch(target)
	if matches == nil {
		return "", "", false
	}
	return matches[1], matches[2], true
}

// messageTimestamp formats a Flow creation time, which is in microseconds
// since the epoch, for display. Local time.
func messageTimestamp(usec int64) string {
	return time.Unix(0, usec*int64(time.Microsecond)).Format(
		"[2006-01-02 15:04:05]")
}

// escapeNewlines rewrites newlines so a message stays a single protocol
// line.
func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", "\\n")
}
