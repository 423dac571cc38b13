package llm

import (
	_ "embed"
	"os"
	"strings"
	"text/template"

	"github.com/go-faster/errors"
	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompt is a system message plus a templated user message.
type Prompt struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`

	tmpl *template.Template
}

// Prompts holds every prompt the package sends.
type Prompts struct {
	Decision Prompt `yaml:"decision"`
	Alert    Prompt `yaml:"alert"`
}

var funcs = template.FuncMap{
	"deref": func(f *float64) float64 {
		if f == nil {
			return 0
		}
		return *f
	},
}

// DefaultPrompts returns the embedded prompt set.
func DefaultPrompts() (*Prompts, error) {
	return ParsePrompts(defaultPrompts)
}

// LoadPrompts reads a prompt set from path, or the embedded set when path is empty.
func LoadPrompts(path string) (*Prompts, error) {
	if path == "" {
		return DefaultPrompts()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read prompts")
	}
	return ParsePrompts(data)
}

func ParsePrompts(data []byte) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "parse prompts")
	}
	for name, pr := range map[string]*Prompt{"decision": &p.Decision, "alert": &p.Alert} {
		if strings.TrimSpace(pr.User) == "" {
			return nil, errors.Errorf("prompt %s: empty user template", name)
		}
		t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(pr.User)
		if err != nil {
			return nil, errors.Wrapf(err, "prompt %s", name)
		}
		pr.tmpl = t
	}
	return &p, nil
}

func (p *Prompt) render(data any) (string, error) {
	var sb strings.Builder
	if err := p.tmpl.Execute(&sb, data); err != nil {
		return "", errors.Wrap(err, "render prompt")
	}
	return strings.TrimSpace(sb.String()), nil
}
