// Package cache materializes release artifacts on local storage before installation.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quantmind-br/droidctl/internal/security"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// ErrArtifactNotFound is returned when a release file is not in the cache
var ErrArtifactNotFound = errors.New("artifact not found in cache")

// Artifact is a cached release file
type Artifact struct {
	Name    string
	Path    string // absolute
	Size    int64
	ModTime time.Time
}

// ReleaseCache stores release artifacts in a single directory
type ReleaseCache struct {
	fs     afero.Fs
	dir    string
	logger *zerolog.Logger
	now    func() time.Time
}

// New creates a ReleaseCache rooted at dir
func New(fs afero.Fs, dir string, log *zerolog.Logger) (*ReleaseCache, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	if err := fs.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	return &ReleaseCache{
		fs:     fs,
		dir:    abs,
		logger: log,
		now:    time.Now,
	}, nil
}

// Dir returns the absolute cache directory
func (c *ReleaseCache) Dir() string {
	return c.dir
}

// Resolve finds a cached artifact by file name
func (c *ReleaseCache) Resolve(ctx context.Context, filename string) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := security.ValidateFileName(filename); err != nil {
		return nil, fmt.Errorf("resolve %q: %w", filename, err)
	}

	path := filepath.Join(c.dir, filename)
	info, err := c.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, filename)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrArtifactNotFound, filename)
	}

	return &Artifact{
		Name:    filename,
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Open opens an artifact for reading
func (c *ReleaseCache) Open(a *Artifact) (afero.File, error) {
	inside, err := security.IsPathWithinDirectory(a.Path, c.dir)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	if !inside {
		return nil, fmt.Errorf("open artifact: %s is outside %s", a.Path, c.dir)
	}

	f, err := c.fs.Open(a.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, a.Name)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return f, nil
}

// Import copies srcPath into the cache under its base name.
// progress, when non-nil, receives every copied byte.
func (c *ReleaseCache) Import(ctx context.Context, srcPath string, progress io.Writer) (*Artifact, error) {
	if err := security.ValidatePath(srcPath); err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}

	name := filepath.Base(security.SanitizePath(srcPath))
	if err := security.ValidateFileName(name); err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}

	src, err := c.fs.Open(srcPath)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	tmp, err := afero.TempFile(c.fs, c.dir, ".import-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = c.fs.Remove(tmpName)
		}
	}()

	var dst io.Writer = tmp
	if progress != nil {
		dst = io.MultiWriter(tmp, progress)
	}

	if _, err := io.Copy(dst, &contextReader{ctx: ctx, r: src}); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("copy artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close artifact: %w", err)
	}

	dstPath := filepath.Join(c.dir, name)
	if err := c.fs.Rename(tmpName, dstPath); err != nil {
		return nil, fmt.Errorf("move artifact into cache: %w", err)
	}
	committed = true

	c.logger.Debug().
		Str("artifact", name).
		Str("source", srcPath).
		Msg("artifact imported into cache")

	return c.Resolve(ctx, name)
}

// List returns every cached artifact sorted by name. Partial imports are skipped.
func (c *ReleaseCache) List() ([]Artifact, error) {
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}

	out := make([]Artifact, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".import-") {
			continue
		}
		out = append(out, Artifact{
			Name:    entry.Name(),
			Path:    filepath.Join(c.dir, entry.Name()),
			Size:    entry.Size(),
			ModTime: entry.ModTime(),
		})
	}
	return out, nil
}

// Remove deletes a cached artifact. Removing a missing artifact is not an error.
func (c *ReleaseCache) Remove(filename string) error {
	if err := security.ValidateFileName(filename); err != nil {
		return fmt.Errorf("remove %q: %w", filename, err)
	}
	err := c.fs.Remove(filepath.Join(c.dir, filename))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact: %w", err)
	}
	return nil
}

// CleanUp removes artifacts not modified within olderThan
func (c *ReleaseCache) CleanUp(olderThan time.Duration) (int, error) {
	entries, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}

	cutoff := c.now().Add(-olderThan)
	removed := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || entry.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		if err := c.fs.Remove(path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", entry.Name(), err))
			continue
		}
		removed++
		c.logger.Debug().Str("artifact", entry.Name()).Msg("removed stale artifact")
	}

	return removed, errors.Join(errs...)
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
