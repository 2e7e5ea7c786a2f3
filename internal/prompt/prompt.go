// Package prompt validates raw user prompts and turns them into the text
// sent to the inference endpoint.
//
// Validation is a coarse, best-effort content filter: a length cap and a
// substring denylist. It is not a classifier.
package prompt

import (
	"fmt"
	"math/rand"
	"strings"
	"unicode/utf8"

	"github.com/digkill/imaginebot/internal/catalog"
)

const (
	DefaultMaxLength = 500
	detailSuffix     = "high quality, detailed, sharp"
)

var defaultDenylist = []string{"nsfw", "explicit"}

var (
	variationModifiers = []string{"artistic variation", "different perspective", "alternative style", "creative interpretation"}
	zoomInModifiers    = []string{"extreme close-up", "macro shot", "detailed close-up", "zoomed in view"}
	zoomOutModifiers   = []string{"wide shot", "distant view", "pulled back", "zoomed out perspective"}
)

// RejectedError explains why a prompt was refused.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return e.Reason
}

// Random picks modifier indices. Implementations must be safe for concurrent use.
type Random interface {
	IntN(n int) int
}

type globalRandom struct{}

func (globalRandom) IntN(n int) int { return rand.Intn(n) }

// Policy holds the validation limits and the random source used for
// follow-up modifiers.
type Policy struct {
	maxLength int
	denylist  []string
	random    Random
}

type Option func(*Policy)

func WithMaxLength(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.maxLength = n
		}
	}
}

func WithDenylist(words ...string) Option {
	return func(p *Policy) {
		p.denylist = nil
		for _, w := range words {
			if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
				p.denylist = append(p.denylist, w)
			}
		}
	}
}

func WithRandom(r Random) Option {
	return func(p *Policy) {
		if r != nil {
			p.random = r
		}
	}
}

func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		maxLength: DefaultMaxLength,
		denylist:  append([]string(nil), defaultDenylist...),
		random:    globalRandom{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Policy) MaxLength() int {
	return p.maxLength
}

// Validate rejects empty prompts, prompts longer than the maximum (counted
// in characters) and prompts containing a denylisted substring.
func (p *Policy) Validate(text string) error {
	if strings.TrimSpace(text) == "" {
		return &RejectedError{Reason: "Prompt cannot be empty."}
	}
	if utf8.RuneCountInString(text) > p.maxLength {
		return &RejectedError{Reason: fmt.Sprintf("Prompt too long! Maximum %d characters.", p.maxLength)}
	}
	lower := strings.ToLower(text)
	for _, word := range p.denylist {
		if strings.Contains(lower, word) {
			return &RejectedError{Reason: "Prompt contains blocked content."}
		}
	}
	return nil
}

// Enrich appends the style descriptor and, for detailed qualities, the
// sharpness descriptor. The result depends only on its arguments.
func Enrich(text string, style catalog.Style, quality catalog.Quality) string {
	enriched := text + ", " + style.Descriptor
	if quality.Detailed {
		enriched += ", " + detailSuffix
	}
	return enriched
}

// Variation derives a variation prompt and returns it with the chosen modifier.
func (p *Policy) Variation(base string) (string, string) {
	modifier := p.pick(variationModifiers)
	return base + ", " + modifier, modifier
}

// ZoomIn derives a close-up prompt. The style descriptor is applied again.
func (p *Policy) ZoomIn(base string, style catalog.Style) (string, string) {
	modifier := p.pick(zoomInModifiers)
	return base + ", " + modifier + ", " + style.Descriptor, modifier
}

// ZoomOut derives a wide-shot prompt. The style descriptor is applied again.
func (p *Policy) ZoomOut(base string, style catalog.Style) (string, string) {
	modifier := p.pick(zoomOutModifiers)
	return base + ", " + modifier + ", " + style.Descriptor, modifier
}

func (p *Policy) pick(options []string) string {
	i := p.random.IntN(len(options))
	if i < 0 || i >= len(options) {
		i = 0
	}
	return options[i]
}
