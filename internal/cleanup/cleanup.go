package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/batch_downloader/internal/logctx"
	"github.com/italolelis/batch_downloader/internal/transfer"
)

// DeleteOrphanedParts removes part files left behind by interrupted runs under
// each root when they were last modified more than olderThan ago. Missing roots
// are ignored. It returns the number of files removed.
func DeleteOrphanedParts(ctx context.Context, roots []string, olderThan time.Duration) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	cutoff := time.Now().Add(-olderThan)
	removed := 0

	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}

				return err
			}

			if ctx.Err() != nil {
				return ctx.Err()
			}

			if d.IsDir() || !strings.HasSuffix(d.Name(), transfer.PartSuffix) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil // already gone
				}

				return err
			}

			if info.ModTime().After(cutoff) {
				return nil
			}

			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logger.ErrorContext(ctx, "failed to delete orphaned part file", "file", path, "err", err)

				return err
			}

			logger.InfoContext(ctx, "deleted orphaned part file", "file", path)

			removed++

			return nil
		})
		if err != nil {
			return removed, err
		}
	}

	return removed, nil
}
