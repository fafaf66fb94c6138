// Package identity generates gaming-style usernames and display colors for
// synthetic viewers.
package identity

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/onnwee/chatfeed/phrases"
	"github.com/onnwee/chatfeed/rng"
)

const (
	// RecentSize bounds the ring of recently issued names.
	RecentSize = 200

	maxLen   = 20
	attempts = 5
)

// Generator issues usernames that avoid repeating any of the last RecentSize
// names. Repeats across restarts are possible.
type Generator struct {
	src        rng.Source
	adjectives []string
	nouns      []string
	colors     []string

	mu     sync.Mutex
	ring   []string
	next   int
	counts map[string]int
}

// New builds a generator from the catalog vocabularies.
func New(src rng.Source, cat *phrases.Catalog) *Generator {
	return &Generator{
		src:        src,
		adjectives: cat.Adjectives,
		nouns:      cat.Nouns,
		colors:     cat.Colors,
		ring:       make([]string, 0, RecentSize),
		counts:     make(map[string]int, RecentSize),
	}
}

// Username returns a fresh name such as "xXNeon_WolfXx42" or "LuckyRaven_318".
func (g *Generator) Username() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := 0; i < attempts; i++ {
		name := g.compose()
		if g.counts[name] == 0 {
			g.remember(name)
			return name
		}
	}
	name := "Viewer" + strconv.Itoa(rng.Between(g.src, 1000, 9999))
	g.remember(name)
	return name
}

// Color returns a palette color as a hex string.
func (g *Generator) Color() string { return rng.Pick(g.src, g.colors) }

func (g *Generator) compose() string {
	adj := rng.Pick(g.src, g.adjectives)
	noun := rng.Pick(g.src, g.nouns)
	number := ""
	if rng.Chance(g.src, 0.9) {
		number = strconv.Itoa(rng.Between(g.src, 1, 9999))
	}
	prefix, suffix := "", ""
	if rng.Chance(g.src, 0.1) {
		prefix, suffix = "xX", "Xx"
	} else if rng.Chance(g.src, 0.25) {
		suffix = "_"
	}
	sep := ""
	if suffix != "_" && rng.Chance(g.src, 0.3) {
		sep = "_"
	}
	name := fmt.Sprintf("%s%s%s%s%s%s", prefix, adj, sep, noun, suffix, number)
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	return name
}

// remember records name in the ring, evicting the oldest. Caller holds g.mu.
func (g *Generator) remember(name string) {
	if len(g.ring) < RecentSize {
		g.ring = append(g.ring, name)
	} else {
		old := g.ring[g.next]
		if g.counts[old]--; g.counts[old] <= 0 {
			delete(g.counts, old)
		}
		g.ring[g.next] = name
		g.next = (g.next + 1) % RecentSize
	}
	g.counts[name]++
}
