// Package prompt loads the counselor persona.
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

type file struct {
	SystemPrompt struct {
		Base  string   `yaml:"base"`
		Rules []string `yaml:"rules"`
	} `yaml:"system_prompt"`
	Attachments struct {
		Header string `yaml:"header"`
	} `yaml:"attachments"`
}

// Persona is the fixed prompt material placed around every conversation.
type Persona struct {
	System           string
	AttachmentHeader string
}

// Load reads the persona from path, or the built-in one when path is empty.
func Load(path string) (Persona, error) {
	data := defaultPrompts
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Persona{}, fmt.Errorf("read prompt file: %w", err)
		}
		data = b
	}
	return Parse(data)
}

func Parse(data []byte) (Persona, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Persona{}, fmt.Errorf("parse prompt file: %w", err)
	}
	base := strings.TrimSpace(f.SystemPrompt.Base)
	if base == "" {
		return Persona{}, fmt.Errorf("parse prompt file: system_prompt.base is empty")
	}

	var b strings.Builder
	b.WriteString(base)
	if len(f.SystemPrompt.Rules) > 0 {
		b.WriteString("\n\n")
		for _, r := range f.SystemPrompt.Rules {
			b.WriteString("- ")
			b.WriteString(strings.TrimSpace(r))
			b.WriteString("\n")
		}
	}

	header := strings.TrimSpace(f.Attachments.Header)
	if header == "" {
		header = "[Attachments]"
	}
	return Persona{
		System:           strings.TrimSpace(b.String()),
		AttachmentHeader: header,
	}, nil
}

// Default returns the built-in persona.
func Default() Persona {
	p, err := Parse(defaultPrompts)
	if err != nil {
		panic(err)
	}
	return p
}
