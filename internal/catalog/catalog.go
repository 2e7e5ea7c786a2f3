// Package catalog holds the closed sets of models, styles and quality
// presets a user may pick from. Names outside these sets are rejected.
package catalog

import (
	"fmt"
	"strings"
)

type Model struct {
	Name        string
	ID          string
	Description string
	Speed       string
	Quality     string
}

type Style struct {
	Name       string
	Descriptor string
}

type Quality struct {
	Name     string
	Steps    int
	Guidance float64
	// Detailed qualities get the extra sharpness descriptor during enrichment.
	Detailed bool
}

const (
	DefaultModel   = "FLUX.1"
	DefaultStyle   = "Photorealistic"
	DefaultQuality = "Standard"
)

var models = []Model{
	{Name: "FLUX.1", ID: "black-forest-labs/FLUX.1-schnell", Description: "Fast, high-quality model by Black Forest Labs", Speed: "Fast", Quality: "High"},
	{Name: "FLUX.1-DEV", ID: "black-forest-labs/FLUX.1-dev", Description: "Highest quality FLUX model (slower)", Speed: "Slow", Quality: "Highest"},
	{Name: "SDXL", ID: "stabilityai/stable-diffusion-xl-base-1.0", Description: "Photorealistic, high-detail Stable Diffusion XL", Speed: "Medium", Quality: "High"},
	{Name: "SD1.5", ID: "runwayml/stable-diffusion-v1-5", Description: "Classic Stable Diffusion 1.5 model", Speed: "Fast", Quality: "Medium"},
}

var styles = []Style{
	{Name: "Photorealistic", Descriptor: "hyperrealistic, photographic, detailed, 8k resolution"},
	{Name: "Anime", Descriptor: "anime style, manga, cel shading, vibrant colors"},
	{Name: "Oil Painting", Descriptor: "oil painting, classical art, brush strokes, artistic"},
	{Name: "Cyberpunk", Descriptor: "cyberpunk, neon lights, futuristic, dark atmosphere"},
	{Name: "Fantasy", Descriptor: "fantasy art, magical, ethereal, mystical"},
	{Name: "Minimalist", Descriptor: "minimalist, clean, simple, modern design"},
	{Name: "Watercolor", Descriptor: "watercolor painting, soft colors, flowing"},
	{Name: "Digital Art", Descriptor: "digital art, concept art, detailed illustration"},
}

var qualities = []Quality{
	{Name: "Draft", Steps: 20, Guidance: 7.5},
	{Name: "Standard", Steps: 30, Guidance: 7.5},
	{Name: "High", Steps: 50, Guidance: 7.5, Detailed: true},
	{Name: "Ultra", Steps: 80, Guidance: 7.5, Detailed: true},
}

// Kind names a catalog for error messages.
type Kind string

const (
	KindModel   Kind = "model"
	KindStyle   Kind = "style"
	KindQuality Kind = "quality"
)

// UnknownError is returned when a name is not part of a catalog.
type UnknownError struct {
	Kind Kind
	Name string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Name)
}

func Models() []Model {
	return append([]Model(nil), models...)
}

func Styles() []Style {
	return append([]Style(nil), styles...)
}

func Qualities() []Quality {
	return append([]Quality(nil), qualities...)
}

// LookupModel resolves a model by name, ignoring case and surrounding spaces.
func LookupModel(name string) (Model, error) {
	for _, m := range models {
		if matches(m.Name, name) {
			return m, nil
		}
	}
	return Model{}, &UnknownError{Kind: KindModel, Name: name}
}

func LookupStyle(name string) (Style, error) {
	for _, s := range styles {
		if matches(s.Name, name) {
			return s, nil
		}
	}
	return Style{}, &UnknownError{Kind: KindStyle, Name: name}
}

func LookupQuality(name string) (Quality, error) {
	for _, q := range qualities {
		if matches(q.Name, name) {
			return q, nil
		}
	}
	return Quality{}, &UnknownError{Kind: KindQuality, Name: name}
}

// Suggest returns the canonical names of entries in the given catalog whose
// name contains current, case-insensitively. Models also match on their
// description. An empty current returns every name.
func Suggest(kind Kind, current string) []string {
	current = strings.ToLower(strings.TrimSpace(current))
	var out []string
	switch kind {
	case KindModel:
		for _, m := range models {
			if strings.Contains(strings.ToLower(m.Name), current) || strings.Contains(strings.ToLower(m.Description), current) {
				out = append(out, m.Name)
			}
		}
	case KindStyle:
		for _, s := range styles {
			if strings.Contains(strings.ToLower(s.Name), current) {
				out = append(out, s.Name)
			}
		}
	case KindQuality:
		for _, q := range qualities {
			if strings.Contains(strings.ToLower(q.Name), current) {
				out = append(out, q.Name)
			}
		}
	}
	return out
}

func matches(canonical, name string) bool {
	return strings.EqualFold(canonical, strings.TrimSpace(name))
}
