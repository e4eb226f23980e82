package recording

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/recod/pkg/audio/capture"
	"github.com/MrWong99/recod/pkg/audio/wavfile"
)

// syncProbeLimit bounds concurrent WAV header reads during [Sync].
const syncProbeLimit = 4

// Sync registers every WAV file in dir that the store does not know yet. The
// creation time comes from the file name when it follows
// [capture.Filename], otherwise from the file's modification time. Files that
// cannot be probed are skipped with a warning. It returns the number of
// recordings added.
func Sync(ctx context.Context, dir string, store Store) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("recording: sync: read %s: %w", dir, err)
	}
	known, err := store.Filenames(ctx)
	if err != nil {
		return 0, fmt.Errorf("recording: sync: %w", err)
	}
	seen := make(map[string]struct{}, len(known))
	for _, name := range known {
		seen[name] = struct{}{}
	}

	var (
		mu    sync.Mutex
		found []*Recording
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(syncProbeLimit)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ".wav") {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path := filepath.Join(dir, name)
			info, err := wavfile.Probe(path)
			if err != nil {
				slog.Warn("recording: skipping unreadable file", "path", path, "err", err)
				return nil
			}
			r := New(name, createdAt(path, name))
			r.Duration = info.Duration
			mu.Lock()
			found = append(found, r)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("recording: sync: %w", err)
	}

	added := 0
	for _, r := range found {
		if err := store.Create(ctx, r); err != nil {
			return added, fmt.Errorf("recording: sync %s: %w", r.Filename, err)
		}
		added++
	}
	if added > 0 {
		slog.Info("recording: registered orphan recordings", "dir", dir, "count", added)
	}
	return added, nil
}

func createdAt(path, name string) time.Time {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, "recording-"), filepath.Ext(name))
	if t, err := time.ParseInLocation(capture.FilenameLayout, stamp, time.Local); err == nil {
		return t
	}
	if fi, err := os.Stat(path); err == nil {
		return fi.ModTime()
	}
	return time.Now()
}
