package project

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/m-mizutani/comanager/pkg/adapter"
	"github.com/m-mizutani/goerr/v2"
)

// GCSReader reads a project snapshot uploaded to an object store, laid out
// like the checkout under prefix.
type GCSReader struct {
	storage adapter.Storage
	prefix  string
}

func NewGCSReader(storage adapter.Storage, prefix string) *GCSReader {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &GCSReader{storage: storage, prefix: prefix}
}

func (r *GCSReader) read(ctx context.Context, rel string) ([]byte, error) {
	rc, err := r.storage.Get(ctx, r.prefix+rel)
	if errors.Is(err, adapter.ErrObjectNotFound) {
		return nil, goerr.Wrap(ErrNotFound, "object not found", goerr.V("key", r.prefix+rel))
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read object", goerr.V("key", r.prefix+rel))
	}
	return data, nil
}

func (r *GCSReader) SchemaText(ctx context.Context) (string, error) {
	data, err := r.read(ctx, SchemaPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r *GCSReader) StackSummary(ctx context.Context) (string, error) {
	data, err := r.read(ctx, PackageJSONPath)
	if err != nil {
		return "", err
	}
	return summarizeStack(data)
}

// StructureListing rebuilds the app/ tree from object keys and renders it
// the same way as FSReader
func (r *GCSReader) StructureListing(ctx context.Context, maxDepth int) (string, error) {
	keys, err := r.storage.List(ctx, r.prefix+AppDir+"/")
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", goerr.Wrap(ErrNotFound, "app directory not found", goerr.V("prefix", r.prefix))
	}

	root := newTreeNode()
	for _, key := range keys {
		rel := strings.TrimPrefix(key, r.prefix+AppDir+"/")
		if rel == "" {
			continue
		}
		root.insert(strings.Split(rel, "/"))
	}

	var lines []string
	root.render(AppDir, 0, maxDepth, &lines)
	return strings.Join(lines, "\n"), nil
}

type treeNode struct {
	dirs  map[string]*treeNode
	files map[string]bool
}

func newTreeNode() *treeNode {
	return &treeNode{dirs: map[string]*treeNode{}, files: map[string]bool{}}
}

func (n *treeNode) insert(parts []string) {
	if len(parts) == 1 {
		if parts[0] != "" {
			n.files[parts[0]] = true
		}
		return
	}
	child, ok := n.dirs[parts[0]]
	if !ok {
		child = newTreeNode()
		n.dirs[parts[0]] = child
	}
	child.insert(parts[1:])
}

func (n *treeNode) render(rel string, depth, maxDepth int, lines *[]string) {
	if depth > maxDepth {
		return
	}

	names := make([]string, 0, len(n.dirs)+len(n.files))
	for name := range n.dirs {
		names = append(names, name)
	}
	for name := range n.files {
		if _, isDir := n.dirs[name]; !isDir {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if isHidden(name) {
			continue
		}
		child := rel + "/" + name
		if dir, ok := n.dirs[name]; ok {
			*lines = append(*lines, "- "+child+"/")
			dir.render(child, depth+1, maxDepth, lines)
		} else if isKeyFile(name) {
			*lines = append(*lines, "- "+child)
		}
	}
}
