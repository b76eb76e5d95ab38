// Package sweep finds and removes blobs that no live template or lesson
// references.
//
// Orphans are produced by failed inserts, failed cleanups after an update and
// by concurrent updates of the same document. The sweep is optional and never
// runs implicitly.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tendant/simple-lessons/pkg/simplelessons"
	"golang.org/x/sync/errgroup"
)

// DefaultGrace is the wait before unreferenced keys are re-checked. It
// must exceed the time between a document upload and its row commit.
const DefaultGrace = time.Minute

// KeyLister returns the blob keys referenced by live rows.
type KeyLister interface {
	ListBlobKeys(ctx context.Context) ([]string, error)
}

// OrphanProcessor handles a single orphaned key.
type OrphanProcessor interface {
	// Process is called for each orphan found. Returning an error records a
	// failure for that key; the sweep continues with the next one.
	Process(ctx context.Context, key string) error
}

// ProcessorFunc adapts a function to OrphanProcessor.
type ProcessorFunc func(ctx context.Context, key string) error

func (f ProcessorFunc) Process(ctx context.Context, key string) error {
	return f(ctx, key)
}

// Options controls a sweep.
type Options struct {
	// Folders to scan. Defaults to the template and lesson folders.
	Folders []string

	// DryRun reports orphans without processing them.
	DryRun bool

	// Grace is how long to wait after the first pass before re-reading the
	// referenced keys, so uploads whose rows were about to be committed are
	// not removed. Zero uses DefaultGrace; a negative value skips the
	// re-check and is only safe while no documents are being written.
	Grace time.Duration

	// Concurrency bounds parallel processing. Defaults to 4.
	Concurrency int

	// Processor handles each orphan. Defaults to deleting it from the store.
	Processor OrphanProcessor
}

// Failure records an orphan that could not be processed.
type Failure struct {
	Key string
	Err error
}

// Result summarizes a sweep.
type Result struct {
	TotalScanned   int
	Referenced     int
	Orphans        []string
	TotalProcessed int
	Failures       []Failure
}

// Sweeper compares the blob store with the entity store.
type Sweeper struct {
	store  simplelessons.BlobStore
	keys   KeyLister
	logger *slog.Logger
}

// New creates a sweeper over store and the keys referenced in keys.
func New(store simplelessons.BlobStore, keys KeyLister, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, keys: keys, logger: logger}
}

func (o Options) withDefaults() Options {
	if len(o.Folders) == 0 {
		o.Folders = []string{simplelessons.FolderTemplates, simplelessons.FolderLessons}
	}
	if o.Grace == 0 {
		o.Grace = DefaultGrace
	}
	if o.Concurrency < 1 {
		o.Concurrency = 4
	}
	return o
}

// Sweep lists the blobs in opts.Folders and processes every key that no row
// references.
func (s *Sweeper) Sweep(ctx context.Context, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	processor := opts.Processor
	if processor == nil {
		processor = ProcessorFunc(s.delete)
	}

	var stored []string
	for _, folder := range opts.Folders {
		keys, err := s.store.List(ctx, folder+"/")
		if err != nil {
			return nil, fmt.Errorf("list blobs in %s: %w", folder, err)
		}
		stored = append(stored, keys...)
	}

	referenced, err := s.referenced(ctx)
	if err != nil {
		return nil, err
	}
	result := &Result{TotalScanned: len(stored)}
	candidates := unreferenced(stored, referenced)

	if opts.Grace > 0 && len(candidates) > 0 {
		timer := time.NewTimer(opts.Grace)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if referenced, err = s.referenced(ctx); err != nil {
			return nil, err
		}
		candidates = unreferenced(candidates, referenced)
	}
	result.Referenced = result.TotalScanned - len(candidates)
	result.Orphans = candidates

	s.logger.InfoContext(ctx, "Orphan scan finished", "scanned", result.TotalScanned, "orphans", len(candidates), "dry_run", opts.DryRun)
	if opts.DryRun || len(candidates) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, key := range candidates {
		g.Go(func() error {
			err := processor.Process(gctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.WarnContext(gctx, "Failed to process orphan", "key", key, "err", err)
				result.Failures = append(result.Failures, Failure{Key: key, Err: err})
				return nil
			}
			result.TotalProcessed++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	sort.Slice(result.Failures, func(i, j int) bool { return result.Failures[i].Key < result.Failures[j].Key })
	return result, ctx.Err()
}

func (s *Sweeper) referenced(ctx context.Context) (map[string]bool, error) {
	keys, err := s.keys.ListBlobKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list referenced blob keys: %w", err)
	}
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set, nil
}

func (s *Sweeper) delete(ctx context.Context, key string) error {
	err := s.store.Delete(ctx, key)
	if errors.Is(err, simplelessons.ErrBlobNotFound) {
		return nil
	}
	return err
}

func unreferenced(keys []string, referenced map[string]bool) []string {
	var out []string
	for _, k := range keys {
		if !referenced[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
