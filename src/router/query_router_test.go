package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

func testTargets(names ...string) []models.Target {
	out := make([]models.Target, len(names))
	for i, n := range names {
		out[i] = models.Target{ServiceTarget: models.ServiceTarget{Name: n, Model: n + "-model"}}
	}
	return out
}

func chainNames(chain []models.Target) []string {
	out := make([]string, len(chain))
	for i, t := range chain {
		out[i] = t.Name
	}
	return out
}

func TestChainRouter_DefaultOrder(t *testing.T) {
	r := NewChainRouter(testTargets("a", "b", "c"))

	chain, err := r.Resolve("", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, chainNames(chain))
}

func TestChainRouter_Preferred(t *testing.T) {
	r := NewChainRouter(testTargets("a", "b", "c"))

	chain, err := r.Resolve("b", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, chainNames(chain))
}

func TestChainRouter_OverrideDedup(t *testing.T) {
	r := NewChainRouter(testTargets("a", "b", "c"))

	chain, err := r.Resolve("c", []string{"b", "c", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, chainNames(chain))
}

func TestChainRouter_Unknown(t *testing.T) {
	r := NewChainRouter(testTargets("a"))

	_, err := r.Resolve("zeta", nil)
	assert.ErrorContains(t, err, "zeta")
}

func TestChainRouter_Empty(t *testing.T) {
	r := NewChainRouter(nil)

	_, err := r.Resolve("", nil)
	assert.ErrorIs(t, err, models.ErrEmptyChain)
}

func TestGenerateCacheKey(t *testing.T) {
	a := models.ServiceTarget{Name: "a"}
	b := models.ServiceTarget{Name: "b"}

	key := func(target models.ServiceTarget, text string, mode models.Mode) string {
		return GenerateCacheKey(target, &models.Prompt{Text: text}, mode)
	}

	assert.Equal(t, key(a, "What is 6 x 7?", models.ModeText), key(a, "  what IS 6   x 7? ", models.ModeText))
	assert.NotEqual(t, key(a, "What is 6 x 7?", models.ModeText), key(b, "What is 6 x 7?", models.ModeText))
	assert.NotEqual(t, key(a, "What is 6 x 7?", models.ModeText), key(a, "What is 6 x 7?", models.ModeImage))
	assert.NotEqual(t, key(a, "What is 6 x 7?", models.ModeText), key(a, "What is 6 x 8?", models.ModeText))
}

func TestGenerateCacheKey_ImageAndHistory(t *testing.T) {
	a := models.ServiceTarget{Name: "a"}
	plain := &models.Prompt{Text: "solve"}
	withImage := &models.Prompt{Text: "solve", Image: &models.Image{Data: []byte{1, 2, 3}, MIMEType: "image/png"}}
	otherImage := &models.Prompt{Text: "solve", Image: &models.Image{Data: []byte{3, 2, 1}, MIMEType: "image/png"}}
	withHistory := &models.Prompt{Text: "solve", History: []models.Turn{{Role: "user", Text: "hi"}}}

	k := GenerateCacheKey(a, plain, models.ModeText)
	assert.NotEqual(t, k, GenerateCacheKey(a, withImage, models.ModeText))
	assert.NotEqual(t, GenerateCacheKey(a, withImage, models.ModeText), GenerateCacheKey(a, otherImage, models.ModeText))
	assert.NotEqual(t, k, GenerateCacheKey(a, withHistory, models.ModeText))
}

func BenchmarkGenerateCacheKey(b *testing.B) {
	target := models.ServiceTarget{Name: "a"}
	prompt := &models.Prompt{Text: "Explain how caching works in detail"}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		GenerateCacheKey(target, prompt, models.ModeText)
	}
}
