package prompt

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/imaginebot/internal/catalog"
)

type fixedRandom int

func (f fixedRandom) IntN(int) int { return int(f) }

func mustStyle(t *testing.T, name string) catalog.Style {
	t.Helper()
	s, err := catalog.LookupStyle(name)
	require.NoError(t, err)
	return s
}

func mustQuality(t *testing.T, name string) catalog.Quality {
	t.Helper()
	q, err := catalog.LookupQuality(name)
	require.NoError(t, err)
	return q
}

func TestValidate(t *testing.T) {
	p := NewPolicy()

	assert.NoError(t, p.Validate("a red fox"))
	assert.NoError(t, p.Validate(strings.Repeat("a", 500)))

	cases := map[string]string{
		"too long":  strings.Repeat("a", 501),
		"empty":     "   ",
		"denylist":  "something NSFW here",
		"substring": "inexplicitly",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			err := p.Validate(text)
			var rejected *RejectedError
			require.True(t, errors.As(err, &rejected), "expected rejection, got %v", err)
			assert.NotEmpty(t, rejected.Reason)
		})
	}
}

func TestValidate_CountsCharactersNotBytes(t *testing.T) {
	p := NewPolicy()
	assert.NoError(t, p.Validate(strings.Repeat("ж", 500)))
	assert.Error(t, p.Validate(strings.Repeat("ж", 501)))
}

func TestValidate_CustomLimits(t *testing.T) {
	p := NewPolicy(WithMaxLength(5), WithDenylist("Fox", " "))
	assert.Error(t, p.Validate("a red"+"x"))
	assert.Error(t, p.Validate("fox"))
	assert.NoError(t, p.Validate("nsfw"))
	assert.Equal(t, 5, p.MaxLength())
}

func TestEnrich_AnimeStandard(t *testing.T) {
	got := Enrich("a red fox", mustStyle(t, "Anime"), mustQuality(t, "Standard"))
	assert.Equal(t, "a red fox, anime style, manga, cel shading, vibrant colors", got)
}

func TestEnrich_DetailedQualities(t *testing.T) {
	style := mustStyle(t, "Minimalist")
	for _, name := range []string{"High", "Ultra"} {
		got := Enrich("a cup", style, mustQuality(t, name))
		assert.Equal(t, "a cup, minimalist, clean, simple, modern design, high quality, detailed, sharp", got)
	}
	assert.Equal(t, "a cup, minimalist, clean, simple, modern design", Enrich("a cup", style, mustQuality(t, "Draft")))
}

func TestEnrich_Deterministic(t *testing.T) {
	style, quality := mustStyle(t, "Cyberpunk"), mustQuality(t, "Ultra")
	first := Enrich("city at night", style, quality)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Enrich("city at night", style, quality))
	}
}

func TestFollowUpDerivations(t *testing.T) {
	p := NewPolicy(WithRandom(fixedRandom(1)))
	style := mustStyle(t, "Fantasy")

	got, modifier := p.Variation("a castle")
	assert.Equal(t, "a castle, different perspective", got)
	assert.Equal(t, "different perspective", modifier)

	got, modifier = p.ZoomIn("a castle", style)
	assert.Equal(t, "a castle, macro shot, fantasy art, magical, ethereal, mystical", got)
	assert.Equal(t, "macro shot", modifier)

	got, _ = p.ZoomOut("a castle", style)
	assert.Equal(t, "a castle, distant view, fantasy art, magical, ethereal, mystical", got)
}

func TestPick_OutOfRangeFallsBackToFirst(t *testing.T) {
	p := NewPolicy(WithRandom(fixedRandom(42)))
	_, modifier := p.Variation("x")
	assert.Equal(t, "artistic variation", modifier)
}
