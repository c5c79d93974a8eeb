package outputs

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/researchd/researchd/internals/schemas"
	"github.com/researchd/researchd/internals/store"
)

// Reconciler scans a session's output directory and registers files the
// database does not know about yet. Matching is by relative path, so
// re-running it after a completed task is a no-op.
type Reconciler struct {
	store  *store.Store
	logger *slog.Logger
}

func NewReconciler(s *store.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: s, logger: logger}
}

// Reconcile walks dir and inserts one OutputFile row per untracked
// regular file, attributing them to taskID. Returns the number of files
// registered. A missing directory is not an error; the agent may not
// have produced any output.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID string, taskID string, dir string) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	existing, err := r.store.ExistingFilepaths(ctx, sessionID)
	if err != nil {
		return 0, err
	}

	registered := 0
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		relPath, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)
		if _, tracked := existing[relPath]; tracked {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		file := &store.OutputFile{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			TaskID:    taskID,
			Filename:  d.Name(),
			Filepath:  relPath,
			FileType:  schemas.FileTypeFromPath(relPath),
			FileSize:  info.Size(),
		}
		if err := r.store.InsertOutputFile(ctx, file); err != nil {
			return err
		}
		existing[relPath] = struct{}{}
		registered++
		r.logger.Debug("registered output file", "session_id", sessionID, "path", relPath, "type", file.FileType)
		return nil
	})
	return registered, err
}
