package partner

import (
	"math/rand"
	"slices"
	"testing"
)

func TestClassifyRuleOrder(t *testing.T) {
	cases := []struct {
		text string
		want Category
	}{
		{"Hello there", CategoryGreeting},
		{"HEY, do you love me?", CategoryGreeting},
		{"I miss you so much", CategoryAffection},
		{"I LOVE pizza?", CategoryAffection},
		{"what time is it?", CategoryQuestion},
		{"ok", CategoryShort},
		{"yes sure", CategoryShort},
		{"The weather was great today", CategoryGeneric},
	}
	for _, tc := range cases {
		if got := Classify(tc.text); got != tc.want {
			t.Fatalf("Classify(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestClassifyMatchesSubstrings(t *testing.T) {
	// "this" contains "hi": matching is plain substring, not word-based.
	if got := Classify("this is a long sentence"); got != CategoryGreeting {
		t.Fatalf("Classify() = %q, want %q", got, CategoryGreeting)
	}
}

func TestGenerateDeterministicRules(t *testing.T) {
	g := New()
	cases := map[string]string{
		"hi":         greetingReply,
		"love ya":    affectionReply,
		"what's up?": questionReply,
		"ok":         shortReply,
	}
	for text, want := range cases {
		if got := g.Generate(text); got != want {
			t.Fatalf("Generate(%q) = %q, want %q", text, got, want)
		}
	}
}

func TestGenerateGenericDrawsFromPool(t *testing.T) {
	g := NewWithRand(rand.New(rand.NewSource(1)))
	pool := GenericReplies()
	if len(pool) < 5 {
		t.Fatalf("len(GenericReplies()) = %d, want at least 5", len(pool))
	}

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		reply, category := g.Reply("The weather was great today")
		if category != CategoryGeneric {
			t.Fatalf("category = %q, want %q", category, CategoryGeneric)
		}
		if !slices.Contains(pool, reply) {
			t.Fatalf("reply %q not in the generic pool", reply)
		}
		seen[reply] = true
	}
	if len(seen) < 2 {
		t.Fatalf("generic replies never varied: %v", seen)
	}
}

func TestGenerateReproducibleWithSeed(t *testing.T) {
	a := NewWithRand(rand.New(rand.NewSource(42)))
	b := NewWithRand(rand.New(rand.NewSource(42)))
	for i := 0; i < 10; i++ {
		got, want := a.Generate("The weather was great today"), b.Generate("The weather was great today")
		if got != want {
			t.Fatalf("draw %d: %q != %q with the same seed", i, got, want)
		}
	}
}
