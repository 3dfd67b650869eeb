package explore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/trevorstenson/crowd-agent/internal/errors"
	"github.com/trevorstenson/crowd-agent/internal/log"
)

// WaitForResults blocks until an artifact exists for every expected
// task id, the timeout passes, or ctx is canceled. It watches the
// results directory for writes instead of polling.
func WaitForResults(ctx context.Context, dir string, taskIDs []string, timeout time.Duration, logger *log.Logger) error {
	if len(taskIDs) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeExploreBarrier, "create results dir", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(errors.ErrCodeExploreBarrier, "create watcher", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return errors.Wrap(errors.ErrCodeExploreBarrier, "watch results dir", err)
	}

	pending := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		pending[id] = true
	}

	// Artifacts written before the watch started still count.
	for id := range pending {
		if _, err := os.Stat(filepath.Join(dir, id+".json")); err == nil {
			delete(pending, id)
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for len(pending) > 0 {
		select {
		case event := <-watcher.Events:
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			id, ok := strings.CutSuffix(name, ".json")
			if !ok || !pending[id] {
				continue
			}
			delete(pending, id)
			logger.Info("exploration artifact arrived",
				"task", id, "remaining", len(pending))
		case err := <-watcher.Errors:
			return errors.Wrap(errors.ErrCodeExploreBarrier, "watch failed", err)
		case <-deadline.C:
			return errors.Newf(errors.ErrCodeExploreBarrier,
				"timed out waiting for %d exploration artifacts", len(pending))
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCodeExploreBarrier, "wait canceled", ctx.Err())
		}
	}
	return nil
}
