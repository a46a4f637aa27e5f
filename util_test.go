package main

import (
	"testing"
	"time"
)

func TestIRCEscape(t *testing.T) {
	tests := []struct {
		input  string
		output string
	}{
		{"general", "general"},
		{"a b", "a-b"},
		{"a,b", "a_b"},
		{"a, b", "a_-b"},
		{"", ""},
		{"no escapes!", "no-escapes!"},
	}

	for _, test := range tests {
		if got := ircEscape(test.input); got != test.output {
			t.Errorf("ircEscape(%q) = %q, wanted %q", test.input, got,
				test.output)
		}
	}
}

func TestParseMemberTarget(t *testing.T) {
	tests := []struct {
		input    string
		username string
		orgName  string
		ok       bool
	}{
		{"bob@y(Acme)", "bob@y", "Acme", true},
		{"a(b)(c)", "a(b)", "c", true},
		{"#general(Acme)", "#general", "Acme", true},
		{"bob", "", "", false},
		{"(Acme)", "", "", false},
		{"bob()", "", "", false},
	}

	for _, test := range tests {
		username, orgName, ok := parseMemberTarget(test.input)
		if ok != test.ok || username != test.username ||
			orgName != test.orgName {
			t.Errorf("parseMemberTarget(%q) = %q, %q, %v, wanted %q, %q, %v",
				test.input, username, orgName, ok, test.username, test.orgName,
				test.ok)
		}
	}
}

func TestMessageTimestamp(t *testing.T) {
	// 3 seconds past the epoch, in microseconds.
	want := time.Unix(3, 0).Format("[2006-01-02 15:04:05]")
	if got := messageTimestamp(3000000); got != want {
		t.Errorf("messageTimestamp(3000000) = %q, wanted %q", got, want)
	}
}

func TestEscapeNewlines(t *testing.T) {
	if got := escapeNewlines("a\nb\nc"); got != `a\nb\nc` {
		t.Errorf("escapeNewlines = %q", got)
	}
}
