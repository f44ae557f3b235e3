package agent

import (
	_ "embed"

	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/tool"
	"github.com/m-mizutani/comanager/pkg/usecase/memory"
)

//go:embed prompt/marketing.md
var marketingPrompt string

//go:embed prompt/technical.md
var technicalPrompt string

const (
	PersonaMarketing = "marketing"
	PersonaTechnical = "technical"
)

// Persona parameterizes the turn controller. Tools may be nil when the
// persona offers no tools to the model.
type Persona struct {
	Name        string
	Prompt      string
	Model       string
	Temperature float32

	// MemoryCategory labels remembered turns. Empty disables memory.
	MemoryCategory string

	// ProjectContext adds the project metadata block to the system prompt
	ProjectContext bool

	Tools *tool.Registry
}

type PersonaOption func(*Persona)

// WithModel overrides the provider's default model
func WithModel(name string) PersonaOption {
	return func(p *Persona) {
		p.Model = name
	}
}

// WithTools sets the registry the persona can call
func WithTools(registry *tool.Registry) PersonaOption {
	return func(p *Persona) {
		p.Tools = registry
	}
}

// Marketing is the creative strategist persona. It works with store data.
func Marketing(opts ...PersonaOption) *Persona {
	p := &Persona{
		Name:           PersonaMarketing,
		Prompt:         marketingPrompt,
		Temperature:    0.7,
		MemoryCategory: memory.CategoryMarketing,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Technical is the software architect persona. It sees the project
// metadata.
func Technical(opts ...PersonaOption) *Persona {
	p := &Persona{
		Name:           PersonaTechnical,
		Prompt:         technicalPrompt,
		Temperature:    0.2,
		MemoryCategory: memory.CategoryTechnical,
		ProjectContext: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Declarations returns the tool declarations offered to the model
func (p *Persona) Declarations() []model.ToolDeclaration {
	if p.Tools == nil {
		return nil
	}
	return p.Tools.Specs()
}
