// Package persona holds the character the assistant speaks as: the instruction
// template wrapped around user text, the stop markers echoed by completion
// models and the sampling settings for each backend.
package persona

import "strings"

// Sampling holds generation parameters for one backend.
type Sampling struct {
	MaxTokens   int     `json:"max_tokens"  yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	TopP        float64 `json:"top_p"       yaml:"top_p"`
}

// Warmup describes the throwaway prompt sent at startup.
type Warmup struct {
	Prompt      string  `json:"prompt"      yaml:"prompt"`
	MaxTokens   int     `json:"max_tokens"  yaml:"max_tokens"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
}

// Persona is an immutable snapshot; callers must not mutate Stop.
type Persona struct {
	Name       string   `json:"name"       yaml:"name"`
	System     string   `json:"system"     yaml:"system"`
	Guidance   string   `json:"guidance"   yaml:"guidance"`
	Delimiter  string   `json:"delimiter"  yaml:"delimiter"`
	Stop       []string `json:"stop"       yaml:"stop"`
	Completion Sampling `json:"completion" yaml:"completion"`
	Chat       Sampling `json:"chat"       yaml:"chat"`
	Warmup     Warmup   `json:"warmup"     yaml:"warmup"`
}

// Source yields the persona to use for the next request.
type Source interface {
	Current() Persona
}

// Static is a Source that never changes.
type Static Persona

func (s Static) Current() Persona { return Persona(s) }

// Default returns the built-in HAL 9000 persona.
func Default() Persona {
	return Persona{
		Name:      "HAL 9000",
		System:    "You are HAL 9000. Speak in a calm, eerily polite tone.",
		Guidance:  "Do not express emotion unless it is concern.\nLimit your response to just 2 concise, slightly unsettling sentences.",
		Delimiter: "###",
		Stop:      []string{"### Instruction:", "PROMPT:", "### Response:"},
		Completion: Sampling{
			MaxTokens:   72,
			Temperature: 0.5,
			TopP:        0.8,
		},
		Chat: Sampling{
			MaxTokens:   72,
			Temperature: 0.5,
			TopP:        0.8,
		},
		Warmup: Warmup{
			Prompt:      "Hello",
			MaxTokens:   10,
			Temperature: 0.1,
		},
	}
}

// Prompt wraps user text in the instruction template understood by
// instruction-tuned completion models.
func (p Persona) Prompt(text string) string {
	var b strings.Builder
	b.WriteString("### Instruction:\n")
	b.WriteString(strings.TrimSpace(p.System))
	if g := strings.TrimSpace(p.Guidance); g != "" {
		b.WriteString("\n")
		b.WriteString(g)
	}
	b.WriteString("\n\nPROMPT: ")
	b.WriteString(text)
	b.WriteString("\n\n### Response:")
	return b.String()
}

// explicit records which numeric settings a document set, so an explicit 0
// survives default filling.
type explicit struct {
	Completion explicitSampling `yaml:"completion"`
	Chat       explicitSampling `yaml:"chat"`
	Warmup     explicitSampling `yaml:"warmup"`
}

type explicitSampling struct {
	MaxTokens   *int     `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
	TopP        *float64 `yaml:"top_p"`
}

// withDefaults fills empty text fields and unset numeric settings from Default.
func (p Persona) withDefaults(set explicit) Persona {
	d := Default()
	if strings.TrimSpace(p.Name) == "" {
		p.Name = d.Name
	}
	if strings.TrimSpace(p.System) == "" {
		p.System = d.System
		if strings.TrimSpace(p.Guidance) == "" {
			p.Guidance = d.Guidance
		}
	}
	if p.Delimiter == "" {
		p.Delimiter = d.Delimiter
	}
	if len(p.Stop) == 0 {
		p.Stop = d.Stop
	}
	p.Completion = p.Completion.withDefaults(d.Completion, set.Completion)
	p.Chat = p.Chat.withDefaults(d.Chat, set.Chat)
	if strings.TrimSpace(p.Warmup.Prompt) == "" {
		p.Warmup.Prompt = d.Warmup.Prompt
	}
	if set.Warmup.MaxTokens == nil {
		p.Warmup.MaxTokens = d.Warmup.MaxTokens
	}
	if set.Warmup.Temperature == nil {
		p.Warmup.Temperature = d.Warmup.Temperature
	}
	return p
}

func (s Sampling) withDefaults(d Sampling, set explicitSampling) Sampling {
	if set.MaxTokens == nil {
		s.MaxTokens = d.MaxTokens
	}
	if set.Temperature == nil {
		s.Temperature = d.Temperature
	}
	if set.TopP == nil {
		s.TopP = d.TopP
	}
	return s
}
