// Package backup produces on-demand zip snapshots of the service's
// working tree and cleans them up after delivery.
package backup

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/apigrove/media-gateway/internal/gateway"
)

// defaultExcludes name directory/file patterns that never belong in a
// snapshot: dependency trees, caches, prior artifacts, VCS metadata,
// lockfiles and logs.
var defaultExcludes = []string{
	"node_modules",
	"vendor",
	"tmp",
	"temp",
	".cache",
	"cache.ldb",
	"backups",
	".git",
	"*.lock",
	"*.log",
	"*.zip",
}

// Config controls the Archiver.
type Config struct {
	// Root is the working tree to snapshot.
	Root string
	// TempDir is where archives are assembled; it is always excluded
	// from the snapshot itself.
	TempDir string
	// Exclude supplements the default exclusion patterns.
	Exclude []string
}

// Replicator copies a finished archive off the box. Failures are
// logged, never surfaced to the client downloading the archive.
type Replicator interface {
	Replicate(ctx context.Context, name string, src io.Reader) error
}

// Job is one backup artifact. The caller must Remove it on every exit
// path once delivery finishes or fails.
type Job struct {
	ArchivePath string
	CreatedAt   time.Time
}

// Remove deletes the archive file.
func (j *Job) Remove() error {
	if err := os.Remove(j.ArchivePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove backup artifact: %w", err)
	}
	return nil
}

// Archiver builds snapshots. Concurrent jobs are independent; unique
// names come from the ID generator and no state is shared beyond the
// filesystem.
type Archiver struct {
	cfg        Config
	excludes   []string
	ids        gateway.IDGenerator
	clock      gateway.Clock
	replicator Replicator
	logger     *zap.Logger
}

// New constructs an Archiver. replicator may be nil.
func New(cfg Config, ids gateway.IDGenerator, clock gateway.Clock, replicator Replicator, logger *zap.Logger) (*Archiver, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("backup root is required")
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.TempDir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup temp dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	excludes := append(append([]string{}, defaultExcludes...), cfg.Exclude...)
	return &Archiver{
		cfg:        cfg,
		excludes:   excludes,
		ids:        ids,
		clock:      clock,
		replicator: replicator,
		logger:     logger,
	}, nil
}

// Create assembles a new uniquely-named archive of the working tree
// and returns the job describing it. On error, any partial artifact is
// already removed.
func (a *Archiver) Create(ctx context.Context) (*Job, error) {
	id, err := a.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("backup id: %w", err)
	}
	path := filepath.Join(a.cfg.TempDir, fmt.Sprintf("backup-%s.zip", id))

	if err := a.writeArchive(ctx, path); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			a.logger.Warn("failed to remove partial archive", zap.String("path", path), zap.Error(rmErr))
		}
		return nil, err
	}

	job := &Job{ArchivePath: path, CreatedAt: a.clock.Now()}
	a.replicate(ctx, job)
	return job, nil
}

func (a *Archiver) writeArchive(ctx context.Context, path string) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive file: %w", err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close archive file: %w", closeErr)
		}
	}()

	zw := zip.NewWriter(out)
	defer func() {
		if closeErr := zw.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("finalize archive: %w", closeErr)
		}
	}()

	root, err := filepath.Abs(a.cfg.Root)
	if err != nil {
		return fmt.Errorf("resolve backup root: %w", err)
	}
	tempDir, err := filepath.Abs(a.cfg.TempDir)
	if err != nil {
		return fmt.Errorf("resolve temp dir: %w", err)
	}

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		if abs == tempDir || strings.HasPrefix(abs, tempDir+string(filepath.Separator)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if a.excluded(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		return a.addFile(zw, p, filepath.ToSlash(rel))
	})
	if walkErr != nil {
		return fmt.Errorf("walk working tree: %w", walkErr)
	}
	return nil
}

func (a *Archiver) addFile(zw *zip.Writer, path, name string) (err error) {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if closeErr := src.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, closeErr)
		}
	}()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header for %s: %w", path, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	dst, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("create zip entry %s: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write zip entry %s: %w", name, err)
	}
	return nil
}

func (a *Archiver) excluded(name string) bool {
	for _, pattern := range a.excludes {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (a *Archiver) replicate(ctx context.Context, job *Job) {
	if a.replicator == nil {
		return
	}
	src, err := os.Open(job.ArchivePath)
	if err != nil {
		a.logger.Warn("open archive for replication failed", zap.Error(err))
		return
	}
	defer src.Close() //nolint:errcheck // read-only handle

	name := filepath.Base(job.ArchivePath)
	if err := a.replicator.Replicate(ctx, name, src); err != nil {
		a.logger.Warn("backup replication failed", zap.String("name", name), zap.Error(err))
		return
	}
	a.logger.Info("backup replicated", zap.String("name", name))
}
