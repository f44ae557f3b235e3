package project_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/comanager/pkg/service/project"
	"github.com/m-mizutani/gt"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	gt.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	gt.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func setupProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, root, "prisma/schema.prisma", "model User {\n  id String @id\n}\n")
	writeFile(t, root, "package.json", `{
		"dependencies": {"next": "14.0.0", "react": "18.0.0", "lodash": "4.0.0", "@prisma/client": "5.0.0"},
		"devDependencies": {"typescript": "5.0.0", "eslint": "8.0.0"}
	}`)
	writeFile(t, root, "app/layout.tsx", "")
	writeFile(t, root, "app/page.tsx", "")
	writeFile(t, root, "app/globals.css", "")
	writeFile(t, root, "app/api/chat/route.ts", "")
	writeFile(t, root, "app/dashboard/page.tsx", "")
	writeFile(t, root, "app/dashboard/a/b/c/page.tsx", "")
	writeFile(t, root, "app/.hidden/page.tsx", "")
	writeFile(t, root, "app/node_modules/x/page.tsx", "")
	writeFile(t, root, "app/generated/page.tsx", "")
	writeFile(t, root, ".gitignore", "app/generated\n")

	return root
}

func TestFSReader(t *testing.T) {
	ctx := context.Background()
	reader, err := project.NewFSReader(setupProject(t))
	gt.NoError(t, err)

	schema, err := reader.SchemaText(ctx)
	gt.NoError(t, err)
	gt.S(t, schema).Contains("model User")

	stack, err := reader.StackSummary(ctx)
	gt.NoError(t, err)
	gt.Equal(t, stack, "Detected Stack: @prisma/client, next, react, typescript")

	listing, err := reader.StructureListing(ctx, 2)
	gt.NoError(t, err)
	gt.Equal(t, listing, `- app/api/
- app/api/chat/
- app/api/chat/route.ts
- app/dashboard/
- app/dashboard/a/
- app/dashboard/a/b/
- app/dashboard/page.tsx
- app/layout.tsx
- app/page.tsx`)
}

func TestFSReaderMissingArtifacts(t *testing.T) {
	ctx := context.Background()
	reader, err := project.NewFSReader(t.TempDir())
	gt.NoError(t, err)

	_, err = reader.SchemaText(ctx)
	gt.True(t, errors.Is(err, project.ErrNotFound))
	_, err = reader.StackSummary(ctx)
	gt.True(t, errors.Is(err, project.ErrNotFound))
	_, err = reader.StructureListing(ctx, 2)
	gt.True(t, errors.Is(err, project.ErrNotFound))
}

func TestFSReaderBrokenPackageJSON(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "package.json", "{not json")

	reader, err := project.NewFSReader(root)
	gt.NoError(t, err)

	_, err = reader.StackSummary(context.Background())
	gt.Error(t, err)
	gt.False(t, errors.Is(err, project.ErrNotFound))
}

type countingReader struct {
	calls  int
	schema string
}

func (r *countingReader) SchemaText(ctx context.Context) (string, error) {
	r.calls++
	return r.schema, nil
}
func (r *countingReader) StackSummary(ctx context.Context) (string, error) {
	r.calls++
	return "", errors.New("broken")
}
func (r *countingReader) StructureListing(ctx context.Context, maxDepth int) (string, error) {
	r.calls++
	return "- app/page.tsx", nil
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	inner := &countingReader{schema: "v1"}
	cached := project.NewCached(inner, project.WithTTL(0))

	v, err := cached.SchemaText(ctx)
	gt.NoError(t, err)
	gt.Equal(t, v, "v1")
	inner.schema = "v2"
	v, _ = cached.SchemaText(ctx)
	gt.Equal(t, v, "v1")
	gt.Equal(t, inner.calls, 1)

	// errors are not cached
	_, err = cached.StackSummary(ctx)
	gt.Error(t, err)
	_, err = cached.StackSummary(ctx)
	gt.Error(t, err)
	gt.Equal(t, inner.calls, 3)

	cached.Invalidate()
	v, _ = cached.SchemaText(ctx)
	gt.Equal(t, v, "v2")
}

// racingReader invalidates the cache while its first read is in flight
type racingReader struct {
	countingReader
	cached *project.Cached
}

func (r *racingReader) SchemaText(ctx context.Context) (string, error) {
	r.calls++
	if r.calls == 1 {
		r.cached.Invalidate()
		return "stale", nil
	}
	return "fresh", nil
}

func TestCachedInvalidateDuringLoad(t *testing.T) {
	ctx := context.Background()
	inner := &racingReader{}
	cached := project.NewCached(inner, project.WithTTL(0))
	inner.cached = cached

	v, err := cached.SchemaText(ctx)
	gt.NoError(t, err)
	gt.Equal(t, v, "stale")

	v, err = cached.SchemaText(ctx)
	gt.NoError(t, err)
	gt.Equal(t, v, "fresh")
	gt.Equal(t, inner.calls, 2)
}

func TestCachedWatchInvalidates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	root := setupProject(t)
	reader, err := project.NewFSReader(root)
	gt.NoError(t, err)

	cached := project.NewCached(reader, project.WithTTL(0))
	gt.NoError(t, cached.Watch(ctx, root))

	schema, err := cached.SchemaText(ctx)
	gt.NoError(t, err)
	gt.S(t, schema).NotContains("model Order")

	writeFile(t, root, "prisma/schema.prisma", "model Order {}\n")

	deadline := time.Now().Add(5 * time.Second)
	for {
		schema, err = cached.SchemaText(ctx)
		gt.NoError(t, err)
		if schema == "model Order {}\n" || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	gt.Equal(t, schema, "model Order {}\n")
}
