package inference

import (
	"fmt"
	"net/http"

	"www.github.com/Wanderer0074348/VirtualTutor/src/config"
	"www.github.com/Wanderer0074348/VirtualTutor/src/models"
)

// BuildTargets turns the configured chain into callable targets, in order.
func BuildTargets(cfg *config.Config, hc *http.Client) ([]models.Target, error) {
	targets := make([]models.Target, 0, len(cfg.Targets))

	for _, tc := range cfg.Targets {
		gen, err := newGenerator(tc, cfg.Instructions, hc)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", tc.Name, err)
		}
		targets = append(targets, models.Target{
			ServiceTarget: models.ServiceTarget{
				Name:       tc.Name,
				Model:      tc.Model,
				Credential: tc.APIKey,
			},
			Client: gen,
		})
	}

	return targets, nil
}

func newGenerator(tc config.TargetConfig, instr config.InstructionsConfig, hc *http.Client) (models.Generator, error) {
	switch tc.Kind {
	case config.TargetKindGemini, "":
		return NewGeminiClient(GeminiOptions{
			Model:            tc.Model,
			Endpoint:         tc.Endpoint,
			APIKey:           tc.APIKey,
			KeyInQuery:       tc.KeyInQuery,
			TextPath:         tc.TextPath,
			ImagePath:        tc.ImagePath,
			MIMEPath:         tc.MIMEPath,
			TextInstruction:  instr.Text,
			ImageInstruction: instr.Image,
			HTTPClient:       hc,
		})
	case config.TargetKindOpenAI:
		return NewLLMClient(OpenAIOptions{
			Model:           tc.Model,
			Endpoint:        tc.Endpoint,
			APIKey:          tc.APIKey,
			MaxTokens:       tc.MaxTokens,
			TextInstruction: instr.Text,
			HTTPClient:      hc,
		})
	default:
		return nil, fmt.Errorf("unknown kind %q", tc.Kind)
	}
}
