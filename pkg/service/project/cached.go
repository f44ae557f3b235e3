package project

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/m-mizutani/comanager/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// Cached memoizes successful reads of another Reader. Entries expire after
// the TTL and are dropped on any change seen by Watch. Errors are never
// cached.
type Cached struct {
	reader  Reader
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]cacheEntry
	// gen is bumped by Invalidate; loads started before a bump are not stored
	gen uint64
}

type cacheEntry struct {
	value   string
	expires time.Time
}

type CachedOption func(*Cached)

// WithTTL sets the entry lifetime. Zero keeps entries until invalidated.
func WithTTL(d time.Duration) CachedOption {
	return func(c *Cached) {
		c.ttl = d
	}
}

func NewCached(reader Reader, opts ...CachedOption) *Cached {
	c := &Cached{
		reader:  reader,
		ttl:     5 * time.Minute,
		entries: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cached) get(key string, load func() (string, error)) (string, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok && (e.expires.IsZero() || time.Now().Before(e.expires)) {
		c.mu.Unlock()
		return e.value, nil
	}
	gen := c.gen
	c.mu.Unlock()

	value, err := load()
	if err != nil {
		return "", err
	}

	e := cacheEntry{value: value}
	if c.ttl > 0 {
		e.expires = time.Now().Add(c.ttl)
	}
	c.mu.Lock()
	if c.gen == gen {
		c.entries[key] = e
	}
	c.mu.Unlock()
	return value, nil
}

func (c *Cached) SchemaText(ctx context.Context) (string, error) {
	return c.get("schema", func() (string, error) { return c.reader.SchemaText(ctx) })
}

func (c *Cached) StackSummary(ctx context.Context) (string, error) {
	return c.get("stack", func() (string, error) { return c.reader.StackSummary(ctx) })
}

func (c *Cached) StructureListing(ctx context.Context, maxDepth int) (string, error) {
	return c.get("structure:"+strconv.Itoa(maxDepth), func() (string, error) {
		return c.reader.StructureListing(ctx, maxDepth)
	})
}

// Invalidate drops every cached entry
func (c *Cached) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	clear(c.entries)
}

// Watch invalidates the cache whenever a file changes under root. It
// watches root, root/prisma and every directory under root/app, and stops
// when ctx is canceled.
func (c *Cached) Watch(ctx context.Context, root string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return goerr.Wrap(err, "failed to create file watcher")
	}

	logger := logging.From(ctx)
	add := func(dir string) {
		if err := watcher.Add(dir); err != nil {
			logger.Debug("skip watching directory", "path", dir, "error", err)
		}
	}

	add(root)
	add(filepath.Join(root, "prisma"))
	appRoot := filepath.Join(root, AppDir)
	_ = filepath.WalkDir(appRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != appRoot && isHidden(d.Name()) {
				return filepath.SkipDir
			}
			add(p)
		}
		return nil
	})

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op == fsnotify.Chmod {
					continue
				}
				if event.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						add(event.Name)
					}
				}
				logger.Debug("project changed, invalidating cache", "path", event.Name, "op", event.Op.String())
				c.Invalidate()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("project watcher error", "error", err)
			}
		}
	}()

	return nil
}
