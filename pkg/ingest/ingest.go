// Package ingest feeds result directories through the readers into a
// visitor. Readers run concurrently; visitor calls are applied one at a
// time, and every artifact is read at most once per Ingester.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethpandaops/reportoor/pkg/reader"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultConcurrency bounds concurrent reader invocations.
const DefaultConcurrency = 8

// Stats summarizes one Ingest call.
type Stats struct {
	Artifacts  int
	Accepted   int
	Declined   int
	Duplicates int
	// ByReader counts accepted artifacts per reader id.
	ByReader map[string]int
	Duration time.Duration
}

// Ingester reads result directories.
type Ingester struct {
	log         logrus.FieldLogger
	readers     []reader.Reader
	concurrency int

	mu   sync.Mutex
	seen map[string]struct{}

	progress rate.Sometimes
}

// New creates an ingester trying readers in order for every artifact.
func New(log logrus.FieldLogger, readers []reader.Reader, concurrency int) *Ingester {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Ingester{
		log:         log.WithField("component", "ingest"),
		readers:     readers,
		concurrency: concurrency,
		seen:        make(map[string]struct{}, 64),
		progress:    rate.Sometimes{Interval: 5 * time.Second},
	}
}

// Ingest reads every artifact of dirs into sink. Subdirectories are offered
// to the readers as artifacts (bundle formats) but are not descended into.
// A missing directory is logged and skipped. Only cancellation and sink
// failures are returned as errors.
func (i *Ingester) Ingest(ctx context.Context, sink reader.Visitor, dirs ...string) (*Stats, error) {
	start := time.Now()
	stats := &Stats{ByReader: make(map[string]int, len(i.readers))}

	paths := make([]string, 0, 64)

	for _, dir := range dirs {
		found, err := i.plan(dir)
		if err != nil {
			return nil, err
		}

		paths = append(paths, found...)
	}

	paths = i.claim(paths, stats)
	stats.Artifacts = len(paths)

	if len(paths) == 0 {
		stats.Duration = time.Since(start)

		return stats, nil
	}

	q := newQueue(ctx)

	var consumer sync.WaitGroup

	consumer.Add(1)

	go func() {
		defer consumer.Done()

		q.run(sink)
	}()

	var (
		statsMu   sync.Mutex
		processed atomic.Int64
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(i.concurrency)

	for _, path := range paths {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}

			readerID, err := i.read(gCtx, q, path)
			if err != nil {
				return err
			}

			statsMu.Lock()
			if readerID == "" {
				stats.Declined++
			} else {
				stats.Accepted++
				stats.ByReader[readerID]++
			}
			statsMu.Unlock()

			n := processed.Add(1)
			i.progress.Do(func() {
				i.log.WithFields(logrus.Fields{
					"processed": n,
					"total":     len(paths),
				}).Info("Ingesting results")
			})

			return nil
		})
	}

	err := g.Wait()

	q.close()
	consumer.Wait()

	if err != nil {
		return nil, fmt.Errorf("ingesting results: %w", err)
	}

	stats.Duration = time.Since(start)

	i.log.WithFields(logrus.Fields{
		"artifacts":  stats.Artifacts,
		"accepted":   stats.Accepted,
		"declined":   stats.Declined,
		"duplicates": stats.Duplicates,
		"duration":   stats.Duration.Round(time.Millisecond),
	}).Info("Ingested results")

	return stats, nil
}

// plan lists the artifacts of dir: subdirectories first, then files, each
// group sorted by name. A file path is its own single artifact.
func (i *Ingester) plan(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			i.log.WithField("dir", dir).Warn("Results directory not found")

			return nil, nil
		}

		return nil, fmt.Errorf("inspecting %s: %w", dir, err)
	}

	if !info.IsDir() {
		return []string{dir}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	var dirsFirst, files []string

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}

		p := filepath.Join(dir, e.Name())

		if e.IsDir() {
			dirsFirst = append(dirsFirst, p)
		} else {
			files = append(files, p)
		}
	}

	sort.Strings(dirsFirst)
	sort.Strings(files)

	return append(dirsFirst, files...), nil
}

// claim drops artifacts this ingester has already seen.
func (i *Ingester) claim(paths []string, stats *Stats) []string {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := paths[:0]

	for _, p := range paths {
		key, err := filepath.Abs(p)
		if err != nil {
			key = filepath.Clean(p)
		}

		if resolved, err := filepath.EvalSymlinks(key); err == nil {
			key = resolved
		}

		if _, dup := i.seen[key]; dup {
			stats.Duplicates++

			continue
		}

		i.seen[key] = struct{}{}
		out = append(out, p)
	}

	return out
}

// read offers path to each reader in order and returns the id of the one
// that accepted it, or "" when all declined.
func (i *Ingester) read(ctx context.Context, v reader.Visitor, path string) (string, error) {
	for _, r := range i.readers {
		ok, err := r.Read(ctx, v, path)
		if err != nil {
			return "", fmt.Errorf("%s reading %s: %w", r.ID(), path, err)
		}

		if ok {
			return r.ID(), nil
		}
	}

	i.log.WithField("path", path).Debug("No reader accepted artifact")

	return "", nil
}
