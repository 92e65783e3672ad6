package redact

import (
	"strings"
	"testing"
)

func TestPIIMasksContactDetails(t *testing.T) {
	input := "Write to sam@example.com, call +1 (555) 123-9876, card 4242 4242 4242 4242."
	out, changed := PII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[email]", "[phone]", "[card]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if strings.Contains(out, "4242") || strings.Contains(out, "sam@") {
		t.Fatalf("output still leaks data: %q", out)
	}
}

func TestPIILeavesPlainTextAlone(t *testing.T) {
	out, changed := PII("see you at 5")
	if changed || out != "see you at 5" {
		t.Fatalf("PII() = %q, %v; want input unchanged", out, changed)
	}
}

func TestPreview(t *testing.T) {
	cases := []struct {
		text string
		max  int
		want string
	}{
		{"hello\n  there", 40, "hello there"},
		{"héllo wörld", 5, "héllo…"},
		{"mail me: a@b.io", 0, "mail me: [email]"},
	}
	for _, tc := range cases {
		if got := Preview(tc.text, tc.max); got != tc.want {
			t.Fatalf("Preview(%q, %d) = %q, want %q", tc.text, tc.max, got, tc.want)
		}
	}
}
