package project

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ErrNotFound reports that the requested project artifact does not exist.
// Any other error means the artifact exists but could not be read.
var ErrNotFound = goerr.New("project artifact not found")

const (
	SchemaPath      = "prisma/schema.prisma"
	PackageJSONPath = "package.json"
	AppDir          = "app"
)

// Reader provides project metadata for the technical agent. Each method
// fails independently.
type Reader interface {
	SchemaText(ctx context.Context) (string, error)
	StackSummary(ctx context.Context) (string, error)
	StructureListing(ctx context.Context, maxDepth int) (string, error)
}

// keyTechs are dependency name fragments worth showing to the model
var keyTechs = []string{
	"next", "react", "typescript", "tailwindcss", "prisma",
	"lucide-react", "framer-motion", "zod", "ai", "openai", "next-auth",
}

// summarizeStack renders the key dependencies of a package.json. Names are
// sorted to keep the prompt stable.
func summarizeStack(packageJSON []byte) (string, error) {
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(packageJSON, &pkg); err != nil {
		return "", goerr.Wrap(err, "failed to parse package.json")
	}

	seen := make(map[string]bool)
	var names []string
	for _, deps := range []map[string]string{pkg.Dependencies, pkg.DevDependencies} {
		for name := range deps {
			if seen[name] || !isKeyTech(name) {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return "Detected Stack: " + strings.Join(names, ", "), nil
}

func isKeyTech(name string) bool {
	for _, tech := range keyTechs {
		if strings.Contains(name, tech) {
			return true
		}
	}
	return false
}

// isKeyFile reports whether a file is listed in the structure listing
func isKeyFile(name string) bool {
	return strings.HasSuffix(name, "page.tsx") ||
		strings.HasSuffix(name, "layout.tsx") ||
		strings.HasSuffix(name, "route.ts")
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules"
}
