// Package partner produces the simulated conversation partner's replies.
package partner

import (
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Category names the rule that produced a reply.
type Category string

const (
	CategoryGreeting  Category = "greeting"
	CategoryAffection Category = "affection"
	CategoryQuestion  Category = "question"
	CategoryShort     Category = "short"
	CategoryGeneric   Category = "generic"
)

// shortThreshold is the length below which a message earns a "tell me more".
const shortThreshold = 10

var (
	greetingWords  = []string{"hi", "hello", "hey"}
	affectionWords = []string{"love", "miss you"}
)

const (
	greetingReply  = "Hey there! It's really good to hear from you."
	affectionReply = "Aw, that means a lot. I feel the same way."
	questionReply  = "Good question. Give me a moment to think it over."
	shortReply     = "Go on, tell me more. I'm listening."
)

// genericReplies is the pool for messages no rule matches.
var genericReplies = []string{
	"I see what you mean.",
	"That's interesting, I hadn't thought of it like that.",
	"Mm, fair point. Let me sit with that for a second.",
	"I hear you.",
	"That makes a lot of sense.",
	"Really? I'd love to know how that turned out.",
}

// Generator maps an inbound message to a reply. Only the generic branch is
// random; every other rule is deterministic.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a Generator seeded from the clock. Pass a fixed-seed rng via
// NewWithRand for reproducible output.
func New() *Generator {
	return NewWithRand(rand.New(rand.NewSource(time.Now().UnixNano())))
}

func NewWithRand(rng *rand.Rand) *Generator {
	return &Generator{rng: rng}
}

// Classify returns the first rule matching text, checked case-insensitively
// against the whole message.
func Classify(text string) Category {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, greetingWords):
		return CategoryGreeting
	case containsAny(lower, affectionWords):
		return CategoryAffection
	case strings.Contains(lower, "?"):
		return CategoryQuestion
	case utf8.RuneCountInString(text) < shortThreshold:
		return CategoryShort
	default:
		return CategoryGeneric
	}
}

// Generate returns the reply for text.
func (g *Generator) Generate(text string) string {
	reply, _ := g.Reply(text)
	return reply
}

// Reply returns the reply for text together with the rule that produced it.
func (g *Generator) Reply(text string) (string, Category) {
	category := Classify(text)
	switch category {
	case CategoryGreeting:
		return greetingReply, category
	case CategoryAffection:
		return affectionReply, category
	case CategoryQuestion:
		return questionReply, category
	case CategoryShort:
		return shortReply, category
	}
	g.mu.Lock()
	i := g.rng.Intn(len(genericReplies))
	g.mu.Unlock()
	return genericReplies[i], category
}

// GenericReplies returns a copy of the fallback pool.
func GenericReplies() []string {
	return append([]string(nil), genericReplies...)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
