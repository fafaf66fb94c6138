// Package phrases holds the canned text used by the synthetic chat: casual
// replies, keyword-themed replies, completion fallbacks, follow-up reaction
// fragments, ambient idle chatter and the username/color vocabularies.
//
// Defaults are compiled in. A YAML phrase pack can override any list.
package phrases

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Theme maps transcript keywords to a reply list.
type Theme struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Replies  []string `yaml:"replies"`
}

// Matches reports whether any keyword occurs in the lower-cased transcript.
func (t Theme) Matches(lower string) bool {
	for _, k := range t.Keywords {
		if k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Range is an inclusive delay range.
type Range struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

// FollowUp is a short reaction fragment with its own delay range.
type FollowUp struct {
	Text  string `yaml:"text"`
	Delay Range  `yaml:"delay"`
}

// Catalog is the complete phrase set.
type Catalog struct {
	Casual       []string   `yaml:"casual"`
	Themes       []Theme    `yaml:"themes"`
	Fallback     []string   `yaml:"fallback"`
	Contexts     []Theme    `yaml:"contexts"`
	ContextElse  []string   `yaml:"context_default"`
	ContextDelay Range      `yaml:"context_delay"`
	FollowUps    []FollowUp `yaml:"followups"`
	Ambient      []string   `yaml:"ambient"`
	Adjectives   []string   `yaml:"adjectives"`
	Nouns        []string   `yaml:"nouns"`
	Colors       []string   `yaml:"colors"`
}

// Theme returns the first theme matching transcript.
func (c *Catalog) Theme(transcript string) (Theme, bool) {
	return firstMatch(c.Themes, strings.ToLower(transcript))
}

// ContextReplies returns the context bucket replies for transcript, falling
// back to the general bucket when no keyword matches.
func (c *Catalog) ContextReplies(transcript string) []string {
	if th, ok := firstMatch(c.Contexts, strings.ToLower(transcript)); ok {
		return th.Replies
	}
	return c.ContextElse
}

func firstMatch(themes []Theme, lower string) (Theme, bool) {
	for _, th := range themes {
		if th.Matches(lower) && len(th.Replies) > 0 {
			return th, true
		}
	}
	return Theme{}, false
}

// Validate checks that every list the chat engine draws from is usable.
func (c *Catalog) Validate() error {
	var errs []error
	required := map[string][]string{
		"casual":          c.Casual,
		"fallback":        c.Fallback,
		"context_default": c.ContextElse,
		"ambient":         c.Ambient,
		"adjectives":      c.Adjectives,
		"nouns":           c.Nouns,
		"colors":          c.Colors,
	}
	for name, list := range required {
		if len(list) == 0 {
			errs = append(errs, fmt.Errorf("%s: list is empty", name))
		}
	}
	if len(c.FollowUps) == 0 {
		errs = append(errs, errors.New("followups: list is empty"))
	}
	for i, f := range c.FollowUps {
		if strings.TrimSpace(f.Text) == "" {
			errs = append(errs, fmt.Errorf("followups[%d]: empty text", i))
		}
		if f.Delay.Min < 0 || f.Delay.Max < f.Delay.Min {
			errs = append(errs, fmt.Errorf("followups[%d]: bad delay range %v..%v", i, f.Delay.Min, f.Delay.Max))
		}
	}
	if c.ContextDelay.Min < 0 || c.ContextDelay.Max < c.ContextDelay.Min {
		errs = append(errs, fmt.Errorf("context_delay: bad range %v..%v", c.ContextDelay.Min, c.ContextDelay.Max))
	}
	return errors.Join(errs...)
}

// LoadFile reads a YAML phrase pack from path and overlays it on the defaults.
// Lists present in the file replace the default list wholesale.
func LoadFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phrase pack: %w", err)
	}
	return Parse(b)
}

// Parse overlays a YAML document on the defaults and validates the result.
func Parse(b []byte) (*Catalog, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse phrase pack: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid phrase pack: %w", err)
	}
	return c, nil
}

func sec(n float64) time.Duration { return time.Duration(n * float64(time.Second)) }

// Default returns a fresh copy of the built-in catalog.
func Default() *Catalog {
	return &Catalog{
		Casual: []string{
			"lol", "haha", "nice", "cool", "wow", "damn", "yep", "nah", "true", "same",
			"real", "facts", "totally", "exactly", "for sure", "no way", "seriously", "huh",
			"what", "why", "how", "when", "where", "okay", "alright", "sure", "maybe",
			"probably", "definitely", "possibly", "honestly", "actually", "basically",
			"literally", "obviously", "clearly", "apparently", "hopefully", "finally",
			"anyway", "whatever", "nevermind", "forget it", "my bad", "sorry 😅",
			"thanks 🙏", "welcome 👋", "good luck 🍀", "take care 💜", "see ya 👋",
			"later ✌️", "bye 👋",
		},
		Themes: []Theme{
			{Name: "money", Keywords: []string{"money", "rich", "cash", "paid"},
				Replies: []string{"nice 💰", "cool 💵", "wow 🤑", "damn 💸", "lucky 🍀", "sweet 💎"}},
			{Name: "game", Keywords: []string{"game", "play", "win", "lose"},
				Replies: []string{"nice game 🎮", "good one 👏", "gg 🎯", "well played 🏆", "unlucky 😔", "better luck next time 🍀"}},
			{Name: "stream", Keywords: []string{"chat", "viewers", "stream"},
				Replies: []string{"hey chat 👋", "whats up 🤙", "love this stream ❤️", "good content 👏", "keep it up 💪"}},
			{Name: "channel", Keywords: []string{"new", "channel", "upload"},
				Replies: []string{"first 🥇", "early 🌅", "nice upload 📺", "been waiting ⏰", "good stuff 👌"}},
		},
		Fallback: []string{"yeah totally", "that's wild", "lol same", "fr though", "nah man", "true that"},
		Contexts: []Theme{
			{Name: "business", Keywords: []string{"business", "money", "work", "company", "startup"},
				Replies: []string{"makes sense", "good point", "smart move", "solid plan", "fair enough", "i get it"}},
			{Name: "tech", Keywords: []string{"tech", "code", "app", "software", "computer", "program"},
				Replies: []string{"nice work", "looks good", "cool tech", "interesting", "pretty neat", "solid build"}},
			{Name: "gaming", Keywords: []string{"game", "play", "level", "character", "battle", "fight"},
				Replies: []string{"nice play", "good game", "well done", "not bad", "decent", "smooth"}},
			{Name: "social", Keywords: []string{"social", "friend", "party", "fun", "hang", "meet"},
				Replies: []string{"totally", "same here", "i feel you", "no doubt", "for sure", "exactly"}},
		},
		ContextElse:  []string{"true that", "makes sense", "good call", "fair point", "sounds right", "i agree"},
		ContextDelay: Range{Min: sec(3), Max: sec(9)},
		FollowUps: []FollowUp{
			{"true ✅", Range{sec(2), sec(5)}},
			{"same 💯", Range{sec(3), sec(7)}},
			{"real 💯", Range{sec(5), sec(10)}},
			{"facts 📝", Range{sec(8), sec(15)}},
			{"yep 👍", Range{sec(4), sec(8)}},
			{"totally 💯", Range{sec(6), sec(12)}},
			{"lol 😂", Range{sec(3), sec(6)}},
			{"yeah man 🙌", Range{sec(4), sec(9)}},
			{"exactly 💯", Range{sec(7), sec(12)}},
			{"100% 💯", Range{sec(5), sec(11)}},
			{"🔥", Range{sec(2), sec(4)}},
			{"💯", Range{sec(3), sec(6)}},
			{"😂", Range{sec(4), sec(7)}},
			{"👏", Range{sec(5), sec(8)}},
			{"💀", Range{sec(6), sec(9)}},
			{"✨", Range{sec(3), sec(5)}},
		},
		Ambient: []string{
			"hey", "whats up", "yo", "nice", "cool", "lol", "same", "true", "yeah", "nah",
			"haha", "omg", "wow", "damn", "nice one", "good stuff", "love it", "awesome",
			"sweet", "dope", "sick", "tight", "solid", "clean", "smooth", "fire", "lit",
			"wild", "crazy", "insane", "chill", "vibes",
			"😂", "💯", "🔥", "👏", "💀", "😎", "🙌", "🤔", "👀", "✨", "❤️",
		},
		Adjectives: []string{
			"Swift", "Lucky", "Sneaky", "Crimson", "Pixel", "Electric", "Mellow", "Hyper",
			"Cosmic", "Silent", "Dynamic", "Frosty", "Turbo", "Solar", "Neon", "Quantum",
			"Shadow", "Blazing", "Crystal", "Thunder", "Azure", "Golden", "Silver", "Steel",
		},
		Nouns: []string{
			"Comet", "Falcon", "Drift", "Pixel", "Nimbus", "Vortex", "Spectre", "Ranger",
			"Echo", "Glitch", "Nova", "Phantom", "Circuit", "Rider", "Pilot", "Blaze",
			"Wolf", "Raven", "Tiger", "Dragon", "Phoenix", "Storm", "Star", "Moon",
		},
		Colors: []string{
			"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FECA57", "#FF9FF3",
			"#A29BFE", "#55EFC4", "#74B9FF", "#FAB1A0", "#81ECEC", "#FDCB6E",
			"#7C5CFF", "#FF5722", "#4CAF50", "#2196F3", "#9C27B0", "#FF9800",
		},
	}
}
