package project

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	ignore "github.com/sabhiram/go-gitignore"
)

// FSReader reads project metadata from a local checkout
type FSReader struct {
	root   string
	ignore *ignore.GitIgnore
}

// NewFSReader creates a reader rooted at dir. A .gitignore at the root, if
// any, is honored by the structure listing.
func NewFSReader(dir string) (*FSReader, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve project root", goerr.V("dir", dir))
	}

	r := &FSReader{root: root}

	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	switch {
	case err == nil:
		r.ignore = gi
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, goerr.Wrap(err, "failed to read .gitignore", goerr.V("root", root))
	}

	return r, nil
}

// Root returns the absolute project root
func (r *FSReader) Root() string {
	return r.root
}

func (r *FSReader) readFile(rel string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(r.root, filepath.FromSlash(rel)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, goerr.Wrap(ErrNotFound, "file not found", goerr.V("path", rel))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read file", goerr.V("path", rel))
	}
	return data, nil
}

func (r *FSReader) SchemaText(ctx context.Context) (string, error) {
	data, err := r.readFile(SchemaPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r *FSReader) StackSummary(ctx context.Context) (string, error) {
	data, err := r.readFile(PackageJSONPath)
	if err != nil {
		return "", err
	}
	return summarizeStack(data)
}

// StructureListing lists directories and key files under app/. Depth 0 is
// the content of app/ itself.
func (r *FSReader) StructureListing(ctx context.Context, maxDepth int) (string, error) {
	appPath := filepath.Join(r.root, AppDir)
	info, err := os.Stat(appPath)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return "", goerr.Wrap(ErrNotFound, "app directory not found", goerr.V("path", appPath))
	}
	if err != nil {
		return "", goerr.Wrap(err, "failed to stat app directory", goerr.V("path", appPath))
	}

	var lines []string
	if err := r.walk(ctx, AppDir, 0, maxDepth, &lines); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

func (r *FSReader) walk(ctx context.Context, rel string, depth, maxDepth int, lines *[]string) error {
	if depth > maxDepth {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "structure listing canceled")
	}

	entries, err := os.ReadDir(filepath.Join(r.root, filepath.FromSlash(rel)))
	if err != nil {
		return goerr.Wrap(err, "failed to read directory", goerr.V("path", rel))
	}

	for _, e := range entries {
		if isHidden(e.Name()) {
			continue
		}
		child := path.Join(rel, e.Name())
		if r.ignored(child, e.IsDir()) {
			continue
		}

		if e.IsDir() {
			*lines = append(*lines, "- "+child+"/")
			if err := r.walk(ctx, child, depth+1, maxDepth, lines); err != nil {
				return err
			}
		} else if isKeyFile(e.Name()) {
			*lines = append(*lines, "- "+child)
		}
	}
	return nil
}

func (r *FSReader) ignored(rel string, dir bool) bool {
	if r.ignore == nil {
		return false
	}
	if dir && r.ignore.MatchesPath(rel+"/") {
		return true
	}
	return r.ignore.MatchesPath(rel)
}
