// Package extract runs an agent's prompt stages against aggregated content
// and recovers structured output from the model text.
package extract

import (
	"encoding/json"
	"strings"
	"text/template"
	"time"

	"github.com/rotisserie/eris"
)

// Format is the expected shape of a stage's output.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Stage is one generation call in an agent's sequence.
type Stage struct {
	Name        string        `yaml:"name"`
	System      string        `yaml:"system"`
	Prompt      string        `yaml:"prompt"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	Format      Format        `yaml:"format"`
	Temperature *float64      `yaml:"temperature,omitempty"`

	tmpl *template.Template
}

// Vars are the template inputs of a stage prompt.
type Vars struct {
	// Content is the aggregated page text; empty for parameter-only agents.
	Content string
	URL     string
	Domain  string
	Params  map[string]string
	// Schema describes the JSON shape the stage must emit.
	Schema string
	// Previous is the raw output of the stage before this one.
	Previous string
	// Stages maps earlier stage names to their raw outputs.
	Stages map[string]string
}

var funcs = template.FuncMap{
	"upper": strings.ToUpper,
	"join":  strings.Join,
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"default": func(def, v string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	},
}

// Compile parses the prompt template. Unknown fields and functions fail
// here rather than mid-run.
func (s *Stage) Compile() error {
	if s.Name == "" {
		return eris.New("extract: stage name is required")
	}
	if strings.TrimSpace(s.Prompt) == "" {
		return eris.Errorf("extract: stage %s has no prompt", s.Name)
	}
	switch s.Format {
	case "":
		s.Format = FormatJSON
	case FormatJSON, FormatText:
	default:
		return eris.Errorf("extract: stage %s has unknown format %q", s.Name, s.Format)
	}
	t, err := template.New(s.Name).Funcs(funcs).Option("missingkey=zero").Parse(s.Prompt)
	if err != nil {
		return eris.Wrapf(err, "extract: parse prompt of stage %s", s.Name)
	}
	s.tmpl = t
	return nil
}

func (s *Stage) render(v Vars) (string, error) {
	if s.tmpl == nil {
		if err := s.Compile(); err != nil {
			return "", err
		}
	}
	var b strings.Builder
	if err := s.tmpl.Execute(&b, v); err != nil {
		return "", eris.Wrapf(err, "extract: render prompt of stage %s", s.Name)
	}
	return b.String(), nil
}
