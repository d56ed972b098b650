package router

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

// ChainRouter resolves the effective fallback chain for a request from the
// statically configured targets.
type ChainRouter struct {
	targets []models.Target
	byName  map[string]int
}

func NewChainRouter(targets []models.Target) *ChainRouter {
	byName := make(map[string]int, len(targets))
	for i, t := range targets {
		byName[t.Name] = i
	}
	return &ChainRouter{targets: targets, byName: byName}
}

// Targets returns the configured chain in order.
func (r *ChainRouter) Targets() []models.Target {
	out := make([]models.Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// Resolve returns the chain to try. override, when non-empty, replaces the
// configured order; preferred, when set, is moved to the front. Duplicates are
// dropped keeping the first occurrence. Unknown names are an error.
func (r *ChainRouter) Resolve(preferred string, override []string) ([]models.Target, error) {
	if len(r.targets) == 0 {
		return nil, models.ErrEmptyChain
	}

	names := override
	if len(names) == 0 {
		names = make([]string, len(r.targets))
		for i, t := range r.targets {
			names[i] = t.Name
		}
	}
	if preferred != "" {
		names = append([]string{preferred}, names...)
	}

	seen := make(map[string]bool, len(names))
	chain := make([]models.Target, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if seen[name] {
			continue
		}
		idx, ok := r.byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown target %q", name)
		}
		seen[name] = true
		chain = append(chain, r.targets[idx])
	}

	return chain, nil
}

// NormalizeText trims, lowercases and collapses inner whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// GenerateCacheKey derives the cache key for a prompt sent to a chain whose
// first entry is target. Prior turns and the attached image are part of the
// key so different contexts never share an answer.
func GenerateCacheKey(target models.ServiceTarget, prompt *models.Prompt, mode models.Mode) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", target.Name, mode, NormalizeText(prompt.Text))
	for _, turn := range prompt.History {
		fmt.Fprintf(h, "%s\x1f%s\x1e", turn.Role, NormalizeText(turn.Text))
	}
	if prompt.HasImage() {
		digest := sha256.Sum256(prompt.Image.Data)
		h.Write([]byte(prompt.Image.MIMEType))
		h.Write(digest[:])
	}
	return "dispatch:" + string(mode) + ":" + hex.EncodeToString(h.Sum(nil))
}
