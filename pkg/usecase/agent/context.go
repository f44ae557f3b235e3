package agent

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"strings"
	"text/template"

	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/comanager/pkg/service/project"
	"github.com/m-mizutani/comanager/pkg/utils/logging"
)

//go:embed prompt/project.md
var projectPromptRaw string

//go:embed prompt/tools.md
var toolsPromptRaw string

var (
	projectPromptTmpl = template.Must(template.New("project").Parse(projectPromptRaw))
	toolsPromptTmpl   = template.Must(template.New("tools").Parse(toolsPromptRaw))
)

// Placeholders substituted for project metadata that could not be read
const (
	SchemaNotFound    = "// schema.prisma not found"
	SchemaError       = "// Error reading schema"
	PackageNotFound   = "// package.json not found"
	PackageError      = "// Error reading package context"
	StructureNotFound = "// app/ directory not found"
	StructureError    = "// Error reading project structure"
)

// DefaultListingDepth is the depth of the app/ structure listing
const DefaultListingDepth = 2

// Recaller returns a memory block for the prompt, or an empty string
type Recaller interface {
	Recall(ctx context.Context, userID model.UserID, query string) string
}

// Assembler builds the system message of a turn
type Assembler struct {
	project  project.Reader
	recaller Recaller
	depth    int
}

type AssemblerOption func(*Assembler)

func WithProjectReader(r project.Reader) AssemblerOption {
	return func(a *Assembler) {
		a.project = r
	}
}

func WithRecaller(r Recaller) AssemblerOption {
	return func(a *Assembler) {
		a.recaller = r
	}
}

// WithListingDepth sets the max depth of the project structure listing
func WithListingDepth(depth int) AssemblerOption {
	return func(a *Assembler) {
		a.depth = depth
	}
}

func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{depth: DefaultListingDepth}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SystemPrompt returns the persona prompt followed by the project block,
// the recalled memory block and the tool usage block. Missing parts are
// omitted or replaced by placeholders; it never fails.
func (a *Assembler) SystemPrompt(ctx context.Context, persona *Persona, userID model.UserID, latestUserText string) string {
	sections := []string{strings.TrimSpace(persona.Prompt)}

	if persona.ProjectContext {
		if block := a.projectBlock(ctx); block != "" {
			sections = append(sections, block)
		}
	}

	if a.recaller != nil && persona.MemoryCategory != "" && userID != "" && latestUserText != "" {
		if block := strings.TrimSpace(a.recaller.Recall(ctx, userID, latestUserText)); block != "" {
			sections = append(sections, block)
		}
	}

	if block := a.toolsBlock(ctx, persona); block != "" {
		sections = append(sections, block)
	}

	return strings.Join(sections, "\n\n")
}

func (a *Assembler) projectBlock(ctx context.Context) string {
	logger := logging.From(ctx)

	read := func(name string, fn func() (string, error), notFound, failed string) string {
		if a.project == nil {
			return notFound
		}
		text, err := fn()
		switch {
		case err == nil:
			return text
		case errors.Is(err, project.ErrNotFound):
			logger.Debug("project artifact not found", "artifact", name)
			return notFound
		default:
			logger.Warn("failed to read project artifact", "artifact", name, "error", err)
			return failed
		}
	}

	data := map[string]string{
		"Schema": read("schema", func() (string, error) {
			return a.project.SchemaText(ctx)
		}, SchemaNotFound, SchemaError),
		"Stack": read("stack", func() (string, error) {
			return a.project.StackSummary(ctx)
		}, PackageNotFound, PackageError),
		"Structure": read("structure", func() (string, error) {
			return a.project.StructureListing(ctx, a.depth)
		}, StructureNotFound, StructureError),
	}

	var buf bytes.Buffer
	if err := projectPromptTmpl.Execute(&buf, data); err != nil {
		logger.Warn("failed to render project context", "error", err)
		return ""
	}
	return strings.TrimSpace(buf.String())
}

func (a *Assembler) toolsBlock(ctx context.Context, persona *Persona) string {
	specs := persona.Declarations()
	if len(specs) == 0 {
		return ""
	}

	var buf bytes.Buffer
	if err := toolsPromptTmpl.Execute(&buf, map[string]any{
		"Tools":   specs,
		"Prompts": persona.Tools.Prompts(ctx),
	}); err != nil {
		logging.From(ctx).Warn("failed to render tool usage", "error", err)
		return ""
	}
	return strings.TrimSpace(buf.String())
}
